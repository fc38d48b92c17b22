// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by the binaries. Flags override these values.
type Config struct {
	// Logging
	LogLevel       string
	LogDevelopment bool

	// Wallet session
	WSURL             string
	WalletKeypair     string
	ReobserveInterval time.Duration

	// Relay
	RelayAddr        string
	MetricsAddr      string
	AllowedOrigins   []string
	DirectiveTimeout time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int

	// Storage
	PostgresDSN   string
	ClickHouseDSN string

	// Solana
	SolanaRPCEndpoint string

	// Agent
	APIBaseURL      string
	OpenAIAPIKey    string
	OpenAIModel     string
	AgentPromptFile string

	// Collection
	CollectionCacheTTL time.Duration
}

// Load reads .env (if present) and the process environment.
// Files are loaded in order; variables already set are never overwritten.
func Load(files ...string) Config {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else {
		for _, f := range files {
			_ = godotenv.Load(f)
		}
	}

	return Config{
		LogLevel:       getEnvDefault("LOG_LEVEL", "info"),
		LogDevelopment: getEnvBoolDefault("LOG_DEVELOPMENT", false),

		WSURL:             getEnvDefault("WS_URL", "ws://localhost:8080"),
		WalletKeypair:     os.Getenv("WALLET_KEYPAIR"),
		ReobserveInterval: getEnvDurationDefault("REOBSERVE_INTERVAL", 5*time.Second),

		RelayAddr:        getEnvDefault("RELAY_ADDR", ":8080"),
		MetricsAddr:      getEnvDefault("METRICS_ADDR", ":9090"),
		AllowedOrigins:   getEnvListDefault("ALLOWED_ORIGIN", []string{"*"}),
		DirectiveTimeout: getEnvDurationDefault("DIRECTIVE_TIMEOUT", 2*time.Minute),
		RateLimitRPS:     getEnvFloatDefault("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvIntDefault("RATE_LIMIT_BURST", 20),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),

		SolanaRPCEndpoint: os.Getenv("SOLANA_RPC_ENDPOINT"),

		APIBaseURL:      getEnvDefault("API_BASE_URL", "http://bob:8080"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		AgentPromptFile: os.Getenv("AGENT_PROMPT_FILE"),

		CollectionCacheTTL: getEnvDurationDefault("COLLECTION_CACHE_TTL", 10*time.Minute),
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}
