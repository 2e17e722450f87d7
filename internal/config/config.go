package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string

	OpenAIAPIKey    string
	OpenAIModel     string
	ClassifierModel string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	VoiceStability    float64
	VoiceSimilarity   float64

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	InsuredNumber   string
	UninsuredNumber string

	PublicBaseURL string

	DatabaseURL string
	NatsURL     string
	NatsToken   string
	RedisURL    string

	SessionTTL      time.Duration
	SweepInterval   time.Duration
	UpstreamTimeout time.Duration
}

func Load() Config {
	return Config{
		Port:     envInt("COVERGATE_PORT", 10000),
		LogLevel: envStr("LOG_LEVEL", "info"),

		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIModel:     envStr("COVERGATE_MODEL", "gpt-4o-mini"),
		ClassifierModel: envStr("COVERGATE_CLASSIFIER_MODEL", "gpt-4o-mini"),

		ElevenLabsAPIKey:  envStr("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: envStr("ELEVENLABS_VOICE_ID", ""),
		VoiceStability:    envFloat("VOICE_STABILITY", 0.5),
		VoiceSimilarity:   envFloat("VOICE_SIMILARITY", 0.75),

		TwilioAccountSID:  envStr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   envStr("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: envStr("TWILIO_PHONE_NUMBER", ""),

		InsuredNumber:   envStr("INSURED_NUMBER", ""),
		UninsuredNumber: envStr("UNINSURED_NUMBER", ""),

		PublicBaseURL: envStr("PUBLIC_BASE_URL", ""),

		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		RedisURL:    envStr("REDIS_URL", ""),

		SessionTTL:      envDur("SESSION_TTL", time.Hour),
		SweepInterval:   envDur("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		UpstreamTimeout: envDur("UPSTREAM_TIMEOUT", 10*time.Second),
	}
}

// Validate reports the first missing required setting. Optional collaborators
// (DATABASE_URL, NATS_URL, REDIS_URL) are not checked here.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"ELEVENLABS_API_KEY", c.ElevenLabsAPIKey},
		{"ELEVENLABS_VOICE_ID", c.ElevenLabsVoiceID},
		{"INSURED_NUMBER", c.InsuredNumber},
		{"UNINSURED_NUMBER", c.UninsuredNumber},
		{"PUBLIC_BASE_URL", c.PublicBaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
