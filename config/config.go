package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP
	ListenAddr  string
	MetricsAddr string
	BaseURL     string // public URL used in email links, e.g. "https://portal.example.com"

	// Auth
	JWTSecret    string
	CookieSecure bool
	SessionTTL   time.Duration
	OTPTTL       time.Duration

	// Infrastructure
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Market data provider
	MarketDataKey     string
	MarketDataBaseURL string
	MarketDataTimeout time.Duration

	// SMTP. An empty host selects the logging mailer instead of a
	// real SMTP dialer.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromEmail    string

	// Live quotes
	QuoteRefresh time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// JWT secret and the market data key have no safe default and must be set.
func Load() *Config {
	return &Config{
		ListenAddr:  getEnv("PORTAL_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),
		BaseURL:     getEnv("PORTAL_BASE_URL", "http://localhost:8080"),

		JWTSecret:    mustEnv("JWT_SECRET"),
		CookieSecure: getEnvBool("COOKIE_SECURE", false),
		SessionTTL:   getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		OTPTTL:       getEnvDuration("OTP_TTL", 10*time.Minute),

		SQLitePath:    getEnv("SQLITE_PATH", "data/portal.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MarketDataKey:     mustEnv("MARKETSTACK_API_KEY"),
		MarketDataBaseURL: getEnv("MARKETSTACK_BASE_URL", "https://api.marketstack.com"),
		MarketDataTimeout: getEnvDuration("MARKETDATA_TIMEOUT", 15*time.Second),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 465),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "no-reply@localhost"),

		QuoteRefresh: getEnvDuration("QUOTE_REFRESH", 30*time.Second),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
