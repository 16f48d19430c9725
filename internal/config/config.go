package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice interaction pipeline.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// SecureContext declares whether clients reach the gateway over a secure
	// transport (TLS or localhost). Audio capture is refused when false,
	// mirroring how browsers gate microphone access.
	SecureContext bool

	// Silence endpointing. The defaults mirror the calibration the pipeline
	// shipped with, but both are environment-tunable because the right floor
	// depends on the microphone and room.
	SilenceThreshold float64
	SilenceDuration  time.Duration

	// Minimum finalized utterance size in bytes of raw PCM. Anything shorter
	// is rejected as too short to contain speech.
	MinUtteranceBytes int

	// SampleRate is the PCM16LE capture rate in Hz. Clients must send chunks
	// at this rate; the WAV header of finalized utterances is stamped with it.
	SampleRate int

	// How long the machine lingers in the responding state before returning
	// to idle on its own.
	RespondingHold time.Duration

	TranscriptionURL     string
	TranscriptionTimeout time.Duration
	UnderstandingURL     string
	UnderstandingTimeout time.Duration

	// Budget for the cross-context process-utterance round trip.
	RequestTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "ariadne"),
		AllowAnyOrigin:           false,
		SecureContext:            true,
		SilenceThreshold:         0.01,
		SilenceDuration:          2000 * time.Millisecond,
		MinUtteranceBytes:        4800,
		SampleRate:               16000,
		RespondingHold:           4 * time.Second,
		TranscriptionURL:         envFromTrimmed("TRANSCRIPTION_URL"),
		TranscriptionTimeout:     30 * time.Second,
		UnderstandingURL:         envFromTrimmed("UNDERSTANDING_URL"),
		UnderstandingTimeout:     60 * time.Second,
		RequestTimeout:           75 * time.Second,
		DatabaseURL:              envFromTrimmed("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
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
	cfg.SilenceThreshold, err = floatFromEnv("VAD_SILENCE_THRESHOLD", cfg.SilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceDuration, err = durationFromEnv("VAD_SILENCE_DURATION", cfg.SilenceDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.MinUtteranceBytes, err = intFromEnv("MIN_UTTERANCE_BYTES", cfg.MinUtteranceBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.RespondingHold, err = durationFromEnv("RESPONDING_HOLD", cfg.RespondingHold)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptionTimeout, err = durationFromEnv("TRANSCRIPTION_TIMEOUT", cfg.TranscriptionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UnderstandingTimeout, err = durationFromEnv("UNDERSTANDING_TIMEOUT", cfg.UnderstandingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SecureContext, err = boolFromEnv("APP_SECURE_CONTEXT", cfg.SecureContext)
	if err != nil {
		return Config{}, err
	}

	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold >= 1 {
		return Config{}, fmt.Errorf("VAD_SILENCE_THRESHOLD must be in (0, 1)")
	}
	if cfg.SilenceDuration < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VAD_SILENCE_DURATION must be at least 100ms")
	}
	if cfg.MinUtteranceBytes <= 0 {
		return Config{}, fmt.Errorf("MIN_UTTERANCE_BYTES must be positive")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.RespondingHold <= 0 {
		return Config{}, fmt.Errorf("RESPONDING_HOLD must be positive")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envFromTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envFromTrimmed(key)
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
	v := envFromTrimmed(key)
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
	v := envFromTrimmed(key)
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
	v := strings.ToLower(envFromTrimmed(key))
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
