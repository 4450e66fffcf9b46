package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envVarICEServersJSON = "DUOCALL_ICE_SERVERS_JSON"

	envVarSTUNURLs       = "DUOCALL_STUN_URLS"
	envVarTURNURLs       = "DUOCALL_TURN_URLS"
	envVarTURNUsername   = "DUOCALL_TURN_USERNAME"
	envVarTURNCredential = "DUOCALL_TURN_CREDENTIAL"

	// DefaultSTUNURL keeps the client usable with zero ICE configuration.
	DefaultSTUNURL = "stun:stun.l.google.com:19302"
)

// ICEConfig is the validated ICE server list handed to the peer connection.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// loadICE builds the ICE server list. DUOCALL_ICE_SERVERS_JSON wins when set;
// otherwise the convenience STUN/TURN vars are used, falling back to the
// default public STUN server when nothing is configured.
func loadICE(lookup func(string) (string, bool)) (ICEConfig, error) {
	if raw := strings.TrimSpace(envOrDefault(lookup, envVarICEServersJSON, "")); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return ICEConfig{}, fmt.Errorf("%s: %w", envVarICEServersJSON, err)
		}
		return ICEConfig{Servers: servers}, nil
	}

	stunURLs := splitCommaSeparated(envOrDefault(lookup, envVarSTUNURLs, DefaultSTUNURL))
	turnURLs := splitCommaSeparated(envOrDefault(lookup, envVarTURNURLs, ""))

	var servers []webrtc.ICEServer
	if len(stunURLs) > 0 {
		server := webrtc.ICEServer{URLs: stunURLs}
		if err := validateICEServer(server); err != nil {
			return ICEConfig{}, fmt.Errorf("%s: %w", envVarSTUNURLs, err)
		}
		servers = append(servers, server)
	}

	if len(turnURLs) > 0 {
		username := strings.TrimSpace(envOrDefault(lookup, envVarTURNUsername, ""))
		credential := strings.TrimSpace(envOrDefault(lookup, envVarTURNCredential, ""))
		if username == "" || credential == "" {
			return ICEConfig{}, fmt.Errorf("%s/%s: both must be set when %s is set",
				envVarTURNUsername, envVarTURNCredential, envVarTURNURLs)
		}
		server := webrtc.ICEServer{URLs: turnURLs, Username: username, Credential: credential}
		if err := validateICEServer(server); err != nil {
			return ICEConfig{}, fmt.Errorf("%s: %w", envVarTURNURLs, err)
		}
		servers = append(servers, server)
	}

	return ICEConfig{Servers: servers}, nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates DUOCALL_ICE_SERVERS_JSON.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}

		pcServer := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}

		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTURNCreds := false
	for _, raw := range server.URLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			return errors.New("urls must not contain empty entries")
		}
		if !isAllowedICEScheme(url) {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			requiresTURNCreds = true
		}
	}

	if requiresTURNCreds {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}

	return nil
}

func isAllowedICEScheme(url string) bool {
	switch {
	case strings.HasPrefix(url, "stun:"),
		strings.HasPrefix(url, "stuns:"),
		strings.HasPrefix(url, "turn:"),
		strings.HasPrefix(url, "turns:"):
		return true
	default:
		return false
	}
}
