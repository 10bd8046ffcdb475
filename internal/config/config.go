// Package config loads the service configuration from the environment
// (and an optional .env file).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	// Persistence
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration

	// Secrets. EncryptionKey is validated by the vault on first use.
	EncryptionKey string
	AdminAPIKey   string
	WalletAPIKey  string

	// Polymarket
	GammaURL          string
	ClobURL           string
	BuilderAPIKey     string
	BuilderSecret     string
	BuilderPassphrase string
	PriceBatchSize    int
	MaxLookahead      int

	// AI assistant
	BankrURL      string
	BankrAPIKey   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Rate limiting (per client IP, AI endpoints)
	RateLimit       int
	RateLimitWindow time.Duration

	// Notifications
	KafkaBrokers []string
	KafkaTopic   string
	WebhookURL   string

	// HTTP
	CORSAllowOrigin string

	// Bot defaults
	DefaultSessionMinutes int
	MaxSessionMinutes     int
	TradePoints           int64
	ReferralPoints        int64
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     envStr("PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		SQLitePath:  envStr("SQLITE_PATH", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		CacheTTL:    envDuration("CACHE_TTL", 30*time.Second),

		EncryptionKey: envStr("CREDENTIALS_ENCRYPTION_KEY", ""),
		AdminAPIKey:   envStr("ADMIN_API_KEY", ""),
		WalletAPIKey:  envStr("WALLET_API_KEY", ""),

		GammaURL:          envStr("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		ClobURL:           envStr("CLOB_API_URL", "https://clob.polymarket.com"),
		BuilderAPIKey:     envStr("POLY_BUILDER_API_KEY", ""),
		BuilderSecret:     envStr("POLY_BUILDER_SECRET", ""),
		BuilderPassphrase: envStr("POLY_BUILDER_PASSPHRASE", ""),
		PriceBatchSize:    envInt("PRICE_BATCH_SIZE", 10),
		MaxLookahead:      envInt("WINDOW_MAX_LOOKAHEAD", 3),

		BankrURL:      envStr("BANKR_API_URL", "https://api.bankr.bot"),
		BankrAPIKey:   envStr("BANKR_API_KEY", ""),
		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL: envStr("OPENAI_BASE_URL", ""),
		OpenAIModel:   envStr("OPENAI_MODEL", ""),

		RateLimit:       envInt("AI_RATE_LIMIT", 10),
		RateLimitWindow: envDuration("AI_RATE_LIMIT_WINDOW", time.Hour),

		KafkaBrokers: envList("KAFKA_BROKERS"),
		KafkaTopic:   envStr("KAFKA_TOPIC", "easypoly.events"),
		WebhookURL:   envStr("WEBHOOK_URL", ""),

		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		DefaultSessionMinutes: envInt("SESSION_DEFAULT_MINUTES", 60),
		MaxSessionMinutes:     envInt("SESSION_MAX_MINUTES", 24*60),
		TradePoints:           int64(envInt("POINTS_PER_TRADE", 10)),
		ReferralPoints:        int64(envInt("POINTS_PER_REFERRAL", 100)),
	}

	return cfg, nil
}

// Validate returns an error for settings the service cannot start without
// and logs a warning for optional integrations that are switched off.
func (c *Config) Validate() error {
	var errs []string

	if c.PriceBatchSize <= 0 {
		errs = append(errs, "PRICE_BATCH_SIZE must be positive")
	}
	if c.MaxLookahead <= 0 {
		errs = append(errs, "WINDOW_MAX_LOOKAHEAD must be positive")
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, "AI_RATE_LIMIT and AI_RATE_LIMIT_WINDOW must be positive")
	}
	if c.DefaultSessionMinutes <= 0 || c.MaxSessionMinutes < c.DefaultSessionMinutes {
		errs = append(errs, "SESSION_DEFAULT_MINUTES must be positive and <= SESSION_MAX_MINUTES")
	}

	if c.DatabaseURL == "" && c.SQLitePath == "" {
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
	}
	if c.BuilderAPIKey == "" {
		slog.Warn("POLY_BUILDER_API_KEY not set, forwarded orders carry no builder attribution")
	}
	if c.BankrAPIKey == "" && c.OpenAIAPIKey == "" {
		slog.Warn("no AI assistant configured, /api/ai endpoints return 503")
	}
	if c.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, admin endpoints disabled")
	}
	if c.WalletAPIKey == "" {
		slog.Warn("WALLET_API_KEY not set, wallet signing endpoints accept any caller")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// BuilderConfigured reports whether all three builder credentials are set.
func (c *Config) BuilderConfigured() bool {
	return c.BuilderAPIKey != "" && c.BuilderSecret != "" && c.BuilderPassphrase != ""
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// --- helpers ---

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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
