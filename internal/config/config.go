package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "relay.db"

	envListenAddr     = "RELAY_LISTEN_ADDR"
	envDBPath         = "RELAY_DB_PATH"
	envLogLevel       = "RELAY_LOG_LEVEL"
	envModelConfig    = "RELAY_MODEL_CONFIG"
	envDownstreamAddr = "RELAY_DOWNSTREAM_ADDR"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// ModelConfig locates the model configuration, a local path or a
	// gs://bucket/object URL. Empty selects the built-in defaults.
	ModelConfig string

	// DownstreamAddr is the model host serving the downstream model, for
	// example tcp://127.0.0.1:8001 or vsock://3:8001. Empty runs the
	// identity model in process.
	DownstreamAddr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.ModelConfig = os.Getenv(envModelConfig)
	cfg.DownstreamAddr = os.Getenv(envDownstreamAddr)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
