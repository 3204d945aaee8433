package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the kiosk controller.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         slog.Level

	// BackendURL is where the controller fetches media, settings and answers.
	// Empty means this process's own API.
	BackendURL   string
	FetchTimeout time.Duration
	QueryTimeout time.Duration
	MediaDir     string
	MaxUploadMB  int

	VoiceProvider string

	DatabaseURL       string
	NATSURL           string
	NATSSubjectPrefix string

	AnswerProvider string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string

	ConfigFile string
	Profile    Profile
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "kiosk"),
		AllowAnyOrigin:    false,
		LogLevel:          slog.LevelInfo,
		BackendURL:        stringsTrimSpace("KIOSK_BACKEND_URL"),
		MediaDir:          envOrDefault("KIOSK_MEDIA_DIR", "media"),
		VoiceProvider:     strings.ToLower(envOrDefault("KIOSK_VOICE_PROVIDER", "renderer")),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		NATSURL:           stringsTrimSpace("NATS_URL"),
		NATSSubjectPrefix: envOrDefault("NATS_SUBJECT_PREFIX", "kiosk"),
		AnswerProvider:    strings.ToLower(envOrDefault("ANSWER_PROVIDER", "auto")),
		OpenAIAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:     stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ConfigFile:        stringsTrimSpace("KIOSK_CONFIG_FILE"),
		MaxUploadMB:       200,
		ShutdownTimeout:   15 * time.Second,
		FetchTimeout:      10 * time.Second,
		// Answers from a hosted model can be slow; the overlay shows
		// "Fetching answer..." meanwhile.
		QueryTimeout: 30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FetchTimeout, err = durationFromEnv("KIOSK_FETCH_TIMEOUT", cfg.FetchTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QueryTimeout, err = durationFromEnv("KIOSK_QUERY_TIMEOUT", cfg.QueryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadMB, err = intFromEnv("KIOSK_MAX_UPLOAD_MB", cfg.MaxUploadMB)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = levelFromEnv("APP_LOG_LEVEL", cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}

	if cfg.FetchTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("KIOSK_FETCH_TIMEOUT must be at least 100ms")
	}
	if cfg.MaxUploadMB <= 0 {
		return Config{}, fmt.Errorf("KIOSK_MAX_UPLOAD_MB must be positive")
	}
	if cfg.QueryTimeout < time.Second {
		return Config{}, fmt.Errorf("KIOSK_QUERY_TIMEOUT must be at least 1s")
	}
	switch cfg.VoiceProvider {
	case "renderer", "mock":
	default:
		return Config{}, fmt.Errorf("KIOSK_VOICE_PROVIDER must be renderer or mock, got %q", cfg.VoiceProvider)
	}
	switch cfg.AnswerProvider {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("ANSWER_PROVIDER must be auto, openai or mock, got %q", cfg.AnswerProvider)
	}

	if cfg.ConfigFile != "" {
		cfg.Profile, err = LoadProfile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback, fmt.Errorf("%s parse error: %w", key, err)
	}
	return lvl, nil
}
