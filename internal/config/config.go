package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice coaching orchestrator.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	BackendMode     string
	DialogueBaseURL string
	DialogueTimeout time.Duration

	DebounceInterval    time.Duration
	MinTranscriptLength int
	MaxReplySentences   int
	SpeakAckTimeout     time.Duration

	TTSVoiceID         string
	TTSModelID         string
	TTSStability       float64
	TTSSimilarityBoost float64
	TTSStyle           float64
	TTSSpeed           float64

	MinInterruptionDuration time.Duration
	MinInterruptionWords    int
	MinEndpointingDelay     time.Duration
	MaxEndpointingDelay     time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicecoach"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		BackendMode:      envOrDefault("COACH_BACKEND", "http"),
		DialogueBaseURL:  resolveDialogueBaseURL(),
		// eleven_multilingual_v2 gives the best Dutch intonation for the
		// cloned coach voice; settings tuned for consistent volume and pacing.
		TTSVoiceID:               envOrDefault("TTS_VOICE_ID", "sOsTzBXVBqNYMd5L4sCU"),
		TTSModelID:               envOrDefault("TTS_MODEL_ID", "eleven_multilingual_v2"),
		TTSStability:             0.75,
		TTSSimilarityBoost:       0.80,
		TTSStyle:                 0.15,
		TTSSpeed:                 0.92,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		DialogueTimeout:          30 * time.Second,
		DebounceInterval:         800 * time.Millisecond,
		MinTranscriptLength:      3,
		MaxReplySentences:        4,
		SpeakAckTimeout:          10 * time.Second,
		MinInterruptionDuration:  800 * time.Millisecond,
		MinInterruptionWords:     2,
		MinEndpointingDelay:      800 * time.Millisecond,
		MaxEndpointingDelay:      5 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DialogueTimeout, err = durationFromEnv("DIALOGUE_TIMEOUT", cfg.DialogueTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DebounceInterval, err = durationFromEnv("DEBOUNCE_INTERVAL", cfg.DebounceInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MinTranscriptLength, err = intFromEnv("MIN_TRANSCRIPT_LENGTH", cfg.MinTranscriptLength)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxReplySentences, err = intFromEnv("MAX_REPLY_SENTENCES", cfg.MaxReplySentences)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeakAckTimeout, err = durationFromEnv("SPEAK_ACK_TIMEOUT", cfg.SpeakAckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSStability, err = floatFromEnv("TTS_STABILITY", cfg.TTSStability)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSimilarityBoost, err = floatFromEnv("TTS_SIMILARITY_BOOST", cfg.TTSSimilarityBoost)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSStyle, err = floatFromEnv("TTS_STYLE", cfg.TTSStyle)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeed, err = floatFromEnv("TTS_SPEED", cfg.TTSSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.MinInterruptionDuration, err = durationFromEnv("MIN_INTERRUPTION_DURATION", cfg.MinInterruptionDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.MinInterruptionWords, err = intFromEnv("MIN_INTERRUPTION_WORDS", cfg.MinInterruptionWords)
	if err != nil {
		return Config{}, err
	}
	cfg.MinEndpointingDelay, err = durationFromEnv("MIN_ENDPOINTING_DELAY", cfg.MinEndpointingDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxEndpointingDelay, err = durationFromEnv("MAX_ENDPOINTING_DELAY", cfg.MaxEndpointingDelay)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.DebounceInterval <= 0 {
		return Config{}, fmt.Errorf("DEBOUNCE_INTERVAL must be positive")
	}
	if cfg.MinTranscriptLength <= 0 {
		return Config{}, fmt.Errorf("MIN_TRANSCRIPT_LENGTH must be positive")
	}
	if cfg.MaxReplySentences <= 0 {
		return Config{}, fmt.Errorf("MAX_REPLY_SENTENCES must be positive")
	}
	if cfg.DialogueBaseURL == "" {
		return Config{}, fmt.Errorf("dialogue base URL could not be resolved")
	}
	switch strings.ToLower(cfg.BackendMode) {
	case "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid COACH_BACKEND: %q (expected http|mock)", cfg.BackendMode)
	}

	return cfg, nil
}

// resolveDialogueBaseURL prefers an explicit override, then the platform
// development domain, then the local default the backend listens on.
func resolveDialogueBaseURL() string {
	if v := stringsTrimSpace("DIALOGUE_BASE_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := stringsTrimSpace("REPLIT_DEV_DOMAIN"); v != "" {
		return "https://" + v
	}
	return "http://localhost:5000"
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
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

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
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
		return false, fmt.Errorf("%s parse error: invalid bool %q", key, v)
	}
}
