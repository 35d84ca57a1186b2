// Package config loads service configuration from the environment. A .env
// file is honored when present; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the service reads at boot.
type Config struct {
	Environment string
	ListenAddr  string
	CORSOrigins []string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	TokenSecret   string
	TokenIssuer   string
	TokenAudience string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TokenLeeway   time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	ResetTokenTTL time.Duration
	TOTPIssuer    string

	LoginRateMax       int
	LoginRateWindow    time.Duration
	ResetRateMax       int
	ResetRateWindow    time.Duration
	RegisterRateMax    int
	RegisterRateWindow time.Duration
	ResendRateMax      int
	ResendRateWindow   time.Duration
	IPThrottle         bool

	AuditBuffer     int
	AuditDropIfFull bool

	MetricsEnabled bool
	LogLevel       string
}

// Load reads the environment (and .env if present), applies defaults and
// validates the result.
func Load() (Config, error) {
	// Missing .env is normal outside local dev.
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", "*"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_AUDIT_TOPIC", "coverbridge.audit"),

		TokenSecret:   getEnv("TOKEN_SECRET", ""),
		TokenIssuer:   getEnv("TOKEN_ISSUER", "coverbridge-auth"),
		TokenAudience: getEnv("TOKEN_AUDIENCE", "coverbridge"),
		AccessTTL:     getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTTL:    getEnvDuration("REFRESH_TOKEN_TTL", 720*time.Hour),
		TokenLeeway:   getEnvDuration("TOKEN_LEEWAY", time.Minute),

		LockoutThreshold: getEnvInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),

		ResetTokenTTL: getEnvDuration("RESET_TOKEN_TTL", 24*time.Hour),
		TOTPIssuer:    getEnv("TOTP_ISSUER", "CoverBridge"),

		LoginRateMax:       getEnvInt("LOGIN_RATE_MAX", 10),
		LoginRateWindow:    getEnvDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
		ResetRateMax:       getEnvInt("RESET_RATE_MAX", 3),
		ResetRateWindow:    getEnvDuration("RESET_RATE_WINDOW", time.Hour),
		RegisterRateMax:    getEnvInt("REGISTER_RATE_MAX", 10),
		RegisterRateWindow: getEnvDuration("REGISTER_RATE_WINDOW", time.Hour),
		ResendRateMax:      getEnvInt("RESEND_RATE_MAX", 3),
		ResendRateWindow:   getEnvDuration("RESEND_RATE_WINDOW", 15*time.Minute),
		IPThrottle:         getEnvBool("IP_THROTTLE", true),

		AuditBuffer:     getEnvInt("AUDIT_BUFFER", 1024),
		AuditDropIfFull: getEnvBool("AUDIT_DROP_IF_FULL", true),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.TokenSecret) < 32 {
		errs = append(errs, errors.New("TOKEN_SECRET must be at least 32 bytes"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.TokenLeeway < 0 || c.TokenLeeway > 2*time.Minute {
		errs = append(errs, errors.New("TOKEN_LEEWAY must be between 0 and 2m"))
	}
	if c.LockoutThreshold < 1 {
		errs = append(errs, errors.New("LOCKOUT_THRESHOLD must be at least 1"))
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, errors.New("LOCKOUT_DURATION must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	if c.AuditBuffer < 1 {
		errs = append(errs, errors.New("AUDIT_BUFFER must be at least 1"))
	}
	if c.Environment == "production" && len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_AUDIT_TOPIC is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// Production reports whether the service runs with production hardening.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvList splits a comma-separated variable, trimming blanks.
func getEnvList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String renders the config for startup logs with the secret redacted.
func (c Config) String() string {
	secret := "unset"
	if c.TokenSecret != "" {
		secret = fmt.Sprintf("set(%d bytes)", len(c.TokenSecret))
	}
	return fmt.Sprintf("env=%s listen=%s db=%t redis=%t kafka=%d secret=%s",
		c.Environment, c.ListenAddr, c.DatabaseURL != "", c.RedisAddr != "", len(c.KafkaBrokers), secret)
}
