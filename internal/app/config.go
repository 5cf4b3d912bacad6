package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"roadpress-admin/internal/db"
	"roadpress-admin/internal/maintenance"
	"roadpress-admin/internal/password"
)

type Config struct {
	Environment string
	Port        string
	DatabaseURL string
	Pool        db.PoolConfig

	SessionSecret          string
	TwoFactorEncryptionKey string
	TOTPIssuer             string
	BcryptCost             int
	SessionTTL             time.Duration

	LoginMaxAttempts     int
	LoginLockDuration    time.Duration
	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	TrustProxyHeaders    bool

	AdminBootstrapSecret string
	AdminEmail           string
	AdminPassword        string
	InternalAPISecret    string
	CronSecret           string

	CleanupRetention       maintenance.Retention
	CORSOrigins            []string
	SentryDSN              string
	RunMigrationsOnStartup bool
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c Config) SecureCookies() bool {
	return c.Environment == "production"
}

func LoadConfig() (Config, error) {
	var cfg Config
	var err error

	if cfg.DatabaseURL, err = mustEnv("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.SessionSecret, err = mustEnv("SESSION_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.TwoFactorEncryptionKey, err = mustEnv("TWO_FACTOR_ENCRYPTION_KEY"); err != nil {
		return Config{}, err
	}
	if len(cfg.SessionSecret) < 32 {
		return Config{}, fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}

	cfg.Environment = envOrDefault("APP_ENV", "development")
	cfg.Port = envOrDefault("PORT", "8080")
	cfg.Pool = db.PoolConfig{
		MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
	}

	cfg.TOTPIssuer = envOrDefault("TOTP_ISSUER", "RoadPress Admin")
	cfg.BcryptCost = envIntOrDefault("BCRYPT_COST", password.DefaultCost)
	cfg.SessionTTL = envHoursOrDefault("SESSION_TTL_HOURS", 12)
	cfg.LoginMaxAttempts = envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5)
	cfg.LoginLockDuration = envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15)
	cfg.LoginRateLimitMax = envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10)
	cfg.LoginRateLimitWindow = envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60)
	cfg.TrustProxyHeaders = EnvBoolOrDefault("TRUST_PROXY_HEADERS", false)

	cfg.AdminBootstrapSecret = strings.TrimSpace(os.Getenv("ADMIN_BOOTSTRAP_SECRET"))
	cfg.AdminEmail = strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.InternalAPISecret = strings.TrimSpace(os.Getenv("INTERNAL_API_SECRET"))
	cfg.CronSecret = strings.TrimSpace(os.Getenv("CRON_SECRET"))
	cfg.CleanupRetention = maintenance.Retention{
		Sessions:      envDaysOrDefault("AUTH_SESSION_RETENTION_DAYS", 14),
		LoginAttempts: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		DebugLogs:     envDaysOrDefault("DEBUG_LOG_RETENTION_DAYS", 90),
		BatchSize:     envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	}

	cfg.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))
	cfg.SentryDSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	cfg.RunMigrationsOnStartup = EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false)

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimRight(strings.TrimSpace(part), "/"); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
