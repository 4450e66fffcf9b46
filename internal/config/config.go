package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarRelayURL = "DUOCALL_RELAY_URL"
	envVarUserID   = "DUOCALL_USER_ID"
	envVarUserName = "DUOCALL_USER_NAME"

	envVarMode      = "DUOCALL_MODE"
	envVarLogFormat = "DUOCALL_LOG_FORMAT"
	envVarLogLevel  = "DUOCALL_LOG_LEVEL"

	// Call state machine knobs.
	envVarCallTimeout     = "DUOCALL_CALL_TIMEOUT"
	envVarDisconnectGrace = "DUOCALL_SIGNALING_DISCONNECT_GRACE"

	// Signaling channel knobs.
	envVarReconnectInitialDelay  = "DUOCALL_RECONNECT_INITIAL_DELAY"
	envVarReconnectMaxDelay      = "DUOCALL_RECONNECT_MAX_DELAY"
	envVarSignalingPingInterval  = "DUOCALL_SIGNALING_PING_INTERVAL"
	envVarSignalingWriteWait     = "DUOCALL_SIGNALING_WRITE_WAIT"
	envVarMaxSignalingMsgBytes   = "DUOCALL_MAX_SIGNALING_MESSAGE_BYTES"
	envVarSignalingSendQueueSize = "DUOCALL_SIGNALING_SEND_QUEUE_BYTES"

	// Local debug HTTP listener (metrics). Empty disables it.
	envVarDebugListenAddr = "DUOCALL_DEBUG_LISTEN_ADDR"

	// Directory local call recordings are saved into.
	envVarRecordingsDir = "DUOCALL_RECORDINGS_DIR"

	DefaultRelayURL = "ws://127.0.0.1:5000/ws"

	DefaultCallTimeout     = 30 * time.Second
	DefaultDisconnectGrace = 10 * time.Second

	DefaultReconnectInitialDelay = 1 * time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultSignalingPingInterval = 20 * time.Second
	DefaultSignalingWriteWait    = 1 * time.Second
	DefaultMaxSignalingMsgBytes  = int64(64 * 1024)
	DefaultSignalingSendQueue    = 1 << 20 // 1MiB

	DefaultRecordingsDir = "recordings"

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config carries everything the client needs: who we are, where the relay is,
// how the peer connection gathers candidates, and the ambient knobs.
type Config struct {
	RelayURL string
	UserID   string
	UserName string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	CallTimeout     time.Duration
	DisconnectGrace time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	SignalingPingInterval time.Duration
	SignalingWriteWait    time.Duration
	MaxSignalingMsgBytes  int64
	SignalingSendQueue    int

	DebugListenAddr string
	RecordingsDir   string

	ICE ICEConfig
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeRaw := envOrDefault(lookup, envVarMode, string(DefaultMode))
	mode, err := parseMode(modeRaw)
	if err != nil {
		return Config{}, err
	}

	logFormatRaw := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode))
	logFormat, err := parseLogFormat(logFormatRaw)
	if err != nil {
		return Config{}, err
	}

	logLevelRaw := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode))
	logLevel, err := parseLogLevel(logLevelRaw)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RelayURL: envOrDefault(lookup, envVarRelayURL, DefaultRelayURL),
		UserID:   envOrDefault(lookup, envVarUserID, ""),
		UserName: envOrDefault(lookup, envVarUserName, ""),

		Mode:      mode,
		LogFormat: logFormat,
		LogLevel:  logLevel,

		DebugListenAddr: envOrDefault(lookup, envVarDebugListenAddr, ""),
		RecordingsDir:   envOrDefault(lookup, envVarRecordingsDir, DefaultRecordingsDir),
	}

	durations := []struct {
		dst      *time.Duration
		env      string
		fallback time.Duration
	}{
		{&cfg.CallTimeout, envVarCallTimeout, DefaultCallTimeout},
		{&cfg.DisconnectGrace, envVarDisconnectGrace, DefaultDisconnectGrace},
		{&cfg.ReconnectInitialDelay, envVarReconnectInitialDelay, DefaultReconnectInitialDelay},
		{&cfg.ReconnectMaxDelay, envVarReconnectMaxDelay, DefaultReconnectMaxDelay},
		{&cfg.SignalingPingInterval, envVarSignalingPingInterval, DefaultSignalingPingInterval},
		{&cfg.SignalingWriteWait, envVarSignalingWriteWait, DefaultSignalingWriteWait},
	}
	for _, d := range durations {
		v, err := envDurationOrDefault(lookup, d.env, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMsgBytes, int(DefaultMaxSignalingMsgBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSignalingMsgBytes = int64(maxMsgBytes)

	cfg.SignalingSendQueue, err = envIntOrDefault(lookup, envVarSignalingSendQueueSize, DefaultSignalingSendQueue)
	if err != nil {
		return Config{}, err
	}

	cfg.ICE, err = loadICE(lookup)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("duocall", flag.ContinueOnError)
	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "websocket URL of the signaling relay")
	fs.StringVar(&cfg.UserID, "user-id", cfg.UserID, "local user id registered with the relay")
	fs.StringVar(&cfg.UserName, "user-name", cfg.UserName, "display name registered with the relay")
	fs.StringVar(&cfg.DebugListenAddr, "debug-listen-addr", cfg.DebugListenAddr, "optional local address for the debug/metrics listener")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", cfg.RecordingsDir, "directory call recordings are saved into")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", envVarRelayURL, c.RelayURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must use ws:// or wss://, got %q", envVarRelayURL, c.RelayURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%s missing host: %q", envVarRelayURL, c.RelayURL)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s must be positive", envVarCallTimeout)
	}
	if c.MaxSignalingMsgBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxSignalingMsgBytes)
	}
	if c.RecordingsDir == "" {
		return fmt.Errorf("%s must not be empty", envVarRecordingsDir)
	}
	if c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		return fmt.Errorf("%s must be >= %s", envVarReconnectMaxDelay, envVarReconnectInitialDelay)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want dev|prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want text|json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q (want debug|info|warn|error)", envVarLogLevel, raw)
	}
}
