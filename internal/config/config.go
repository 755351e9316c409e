package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Identity IdentityConfig
	Lockout  LockoutConfig
	Flow     FlowConfig
	Cookie   CookieConfig
}

type ServerConfig struct {
	Port              string
	Env               string
	LogLevel          string
	TrustedProxies    []string
	RequestsPerMinute int
}

type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LockoutConfig struct {
	MaxPasswordAttempts     int
	MaxSecondFactorAttempts int
	LockoutTTL              time.Duration
	MinPasswordLength       int
	LedgerBackstopTTL       time.Duration
}

type FlowConfig struct {
	CountdownStart    int
	CountdownInterval time.Duration
	FlowTTL           time.Duration
	RecoveryPath      string
	DashboardPath     string
}

type CookieConfig struct {
	Domain             string
	Secure             bool
	SameSite           string
	FallbackAccessTTL  time.Duration
	FallbackRefreshTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	baseURL := getEnv("IDENTITY_BASE_URL", "")
	if baseURL == "" {
		return nil, fmt.Errorf("IDENTITY_BASE_URL is required")
	}

	env := getEnv("ENV", "development")
	lockoutTTL := getEnvAsDuration("LOCKOUT_TTL", 15*time.Minute)

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			TrustedProxies:    parseList(getEnv("TRUSTED_PROXIES", "")),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		},
		Identity: IdentityConfig{
			BaseURL: strings.TrimRight(baseURL, "/"),
			Timeout: getEnvAsDuration("IDENTITY_TIMEOUT", 10*time.Second),
		},
		Lockout: LockoutConfig{
			MaxPasswordAttempts:     getEnvAsInt("MAX_PASSWORD_ATTEMPTS", 5),
			MaxSecondFactorAttempts: getEnvAsInt("MAX_SECOND_FACTOR_ATTEMPTS", 5),
			LockoutTTL:              lockoutTTL,
			MinPasswordLength:       getEnvAsInt("MIN_PASSWORD_LENGTH", 8),
			// Keep records for 2x the lock window so the ledger's lazy
			// expiry, not the store, decides when a lock matures.
			LedgerBackstopTTL: getEnvAsDuration("LEDGER_BACKSTOP_TTL", 2*lockoutTTL),
		},
		Flow: FlowConfig{
			CountdownStart:    getEnvAsInt("COUNTDOWN_START", 5),
			CountdownInterval: getEnvAsDuration("COUNTDOWN_INTERVAL", time.Second),
			FlowTTL:           getEnvAsDuration("FLOW_TTL", 30*time.Minute),
			RecoveryPath:      getEnv("RECOVERY_PATH", "/auth/secure-password-change"),
			DashboardPath:     getEnv("DASHBOARD_PATH", "/dashboard"),
		},
		Cookie: CookieConfig{
			Domain:             getEnv("COOKIE_DOMAIN", ""),
			Secure:             env == "production",
			SameSite:           getEnv("COOKIE_SAMESITE", "lax"),
			FallbackAccessTTL:  getEnvAsDuration("COOKIE_ACCESS_TTL", 15*time.Minute),
			FallbackRefreshTTL: getEnvAsDuration("COOKIE_REFRESH_TTL", 7*24*time.Hour),
		},
	}

	if cfg.Lockout.MaxPasswordAttempts < 1 || cfg.Lockout.MaxSecondFactorAttempts < 1 {
		return nil, fmt.Errorf("attempt maxima must be at least 1")
	}
	if cfg.Flow.CountdownStart < 1 {
		return nil, fmt.Errorf("COUNTDOWN_START must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
