package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string

	// LLMProvider selects the completion backend: "openai" or "anthropic".
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	TranscribeModel string
	AnthropicAPIKey string
	AnthropicModel  string

	ResendAPIKey string
	RecapFrom    string
	AppURL       string

	NatsURL   string
	NatsToken string
	RedisURL  string

	JWTSecret string
	APIToken  string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	AutosaveDelay      time.Duration
	ReminderStaleAfter time.Duration
	PreambleBuckets    []string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envInt("SANCTUARY_PORT", 8760),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		LLMProvider:     strings.ToLower(envStr("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIModel:     envStr("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", ""),
		TranscribeModel: envStr("TRANSCRIBE_MODEL", "whisper-1"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),

		ResendAPIKey: envStr("RESEND_API_KEY", ""),
		RecapFrom:    envStr("RECAP_FROM", "The Sanctuary <onboarding@resend.dev>"),
		AppURL:       envStr("APP_URL", ""),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),
		RedisURL:  envStr("REDIS_URL", ""),

		JWTSecret: envStr("JWT_SECRET", ""),
		APIToken:  envStr("SANCTUARY_API_TOKEN", ""),

		MinioEndpoint:  envStr("MINIO_ENDPOINT", ""),
		MinioAccessKey: envStr("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: envStr("MINIO_SECRET_KEY", ""),
		MinioBucket:    envStr("MINIO_BUCKET", "inspiration-images"),
		MinioUseSSL:    envBool("MINIO_USE_SSL", false),

		AutosaveDelay:      envDuration("AUTOSAVE_DELAY", time.Second),
		ReminderStaleAfter: envDuration("REMINDER_STALE_AFTER", 72*time.Hour),
		PreambleBuckets:    envList("PREAMBLE_BUCKETS", []string{"business", "industry"}),
	}
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated value. Set the variable to "none" for an
// empty list.
func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if strings.EqualFold(v, "none") {
		return []string{}
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
