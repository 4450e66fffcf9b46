package config

import (
	"strings"
	"testing"
)

func TestLoadICEDefault(t *testing.T) {
	ice, err := loadICE(lookupFrom(nil))
	if err != nil {
		t.Fatalf("loadICE: %v", err)
	}
	if len(ice.Servers) != 1 {
		t.Fatalf("servers = %+v", ice.Servers)
	}
	if got := ice.Servers[0].URLs; len(got) != 1 || got[0] != DefaultSTUNURL {
		t.Fatalf("urls = %v", got)
	}
}

func TestLoadICEStunAndTurn(t *testing.T) {
	ice, err := loadICE(lookupFrom(map[string]string{
		"DUOCALL_STUN_URLS":       "stun:a.example.com:3478, stun:b.example.com:3478",
		"DUOCALL_TURN_URLS":       "turn:turn.example.com:3478",
		"DUOCALL_TURN_USERNAME":   "user",
		"DUOCALL_TURN_CREDENTIAL": "pass",
	}))
	if err != nil {
		t.Fatalf("loadICE: %v", err)
	}
	if len(ice.Servers) != 2 {
		t.Fatalf("servers = %+v", ice.Servers)
	}
	if got := ice.Servers[0].URLs; len(got) != 2 || got[1] != "stun:b.example.com:3478" {
		t.Fatalf("stun urls = %v", got)
	}
	turn := ice.Servers[1]
	if turn.Username != "user" || turn.Credential != "pass" {
		t.Fatalf("turn credentials = %+v", turn)
	}
}

func TestLoadICETurnRequiresCredentials(t *testing.T) {
	_, err := loadICE(lookupFrom(map[string]string{
		"DUOCALL_TURN_URLS": "turn:turn.example.com:3478",
	}))
	if err == nil {
		t.Fatal("turn without credentials accepted")
	}
}

func TestLoadICEJSONWins(t *testing.T) {
	ice, err := loadICE(lookupFrom(map[string]string{
		"DUOCALL_ICE_SERVERS_JSON": `[{"urls":"stun:json.example.com:3478"}]`,
		"DUOCALL_STUN_URLS":        "stun:ignored.example.com:3478",
	}))
	if err != nil {
		t.Fatalf("loadICE: %v", err)
	}
	if len(ice.Servers) != 1 || ice.Servers[0].URLs[0] != "stun:json.example.com:3478" {
		t.Fatalf("servers = %+v", ice.Servers)
	}
}

func TestParseICEServersJSON(t *testing.T) {
	servers, err := ParseICEServersJSON(`[
		{"urls": ["stun:a.example.com:3478"]},
		{"urls": ["turn:t.example.com:3478"], "username": "u", "credential": "c"}
	]`)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %+v", servers)
	}
	if servers[1].Username != "u" {
		t.Fatalf("turn server = %+v", servers[1])
	}

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", "nope", "invalid character"},
		{"missing urls", `[{"username":"u"}]`, "missing urls"},
		{"bad scheme", `[{"urls":["https://x.example.com"]}]`, "unsupported url scheme"},
		{"turn without username", `[{"urls":["turn:t.example.com"],"credential":"c"}]`, "require username"},
		{"turn without credential", `[{"urls":["turn:t.example.com"],"username":"u"}]`, "require credential"},
	}
	for _, c := range cases {
		if _, err := ParseICEServersJSON(c.raw); err == nil {
			t.Errorf("%s: parse succeeded", c.name)
		} else if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: error %q does not mention %q", c.name, err, c.want)
		}
	}
}
