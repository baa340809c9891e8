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
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Reset     ResetConfig
	Email     EmailConfig
	Redis     RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	JWTSecret           string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	TOTPIssuer          string
	TOTPEncryptionKey   string // 32 bytes for AES-256
	AttemptRetention    time.Duration
}

type RateLimitConfig struct {
	// Backend selects where per-identity state lives: "memory" for a
	// single instance, "redis" to share across a fleet
	Backend string

	// EdgeRequestsPerMinute is the coarse per-IP burst limit applied
	// ahead of the adaptive limiter
	EdgeRequestsPerMinute int

	// SweepInterval and SweepRetention drive the maintenance sweep.
	// Retention is configurable rather than derived from constant
	// arithmetic; idle entries survive at least this long past their
	// window before eviction.
	SweepInterval  time.Duration
	SweepRetention time.Duration

	ThreatWindow  time.Duration
	BlockDuration time.Duration

	// FeedRetention bounds the in-memory security event feed
	FeedRetention time.Duration
	FeedMaxEvents int
}

type ResetConfig struct {
	TokenTTL        time.Duration
	TokenRetention  time.Duration // how long expired tokens are kept before cleanup
	CleanupInterval time.Duration
	DBTimeout       time.Duration
}

type EmailConfig struct {
	AWSRegion    string
	FromAddress  string
	ResetURLBase string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authcore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 200),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			TOTPIssuer:          getEnv("TOTP_ISSUER", "QistPay"),
			TOTPEncryptionKey:   getEnv("TOTP_ENCRYPTION_KEY", ""),
			AttemptRetention:    getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Backend:               getEnv("RATE_LIMIT_BACKEND", "memory"),
			EdgeRequestsPerMinute: getEnvAsInt("RATE_LIMIT_EDGE_RPM", 120),
			SweepInterval:         getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
			SweepRetention:        getEnvAsDuration("RATE_LIMIT_SWEEP_RETENTION", 1*time.Hour),
			ThreatWindow:          getEnvAsDuration("RATE_LIMIT_THREAT_WINDOW", 30*time.Minute),
			BlockDuration:         getEnvAsDuration("RATE_LIMIT_BLOCK_DURATION", 15*time.Minute),
			FeedRetention:         getEnvAsDuration("SECURITY_FEED_RETENTION", 2*time.Hour),
			FeedMaxEvents:         getEnvAsInt("SECURITY_FEED_MAX_EVENTS", 100000),
		},
		Reset: ResetConfig{
			TokenTTL:        getEnvAsDuration("RESET_TOKEN_TTL", 24*time.Hour),
			TokenRetention:  getEnvAsDuration("RESET_TOKEN_RETENTION", 24*time.Hour),
			CleanupInterval: getEnvAsDuration("RESET_CLEANUP_INTERVAL", 1*time.Hour),
			DBTimeout:       getEnvAsDuration("RESET_DB_TIMEOUT", 3*time.Second),
		},
		Email: EmailConfig{
			AWSRegion:    getEnv("AWS_REGION", "eu-west-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", "no-reply@qistpay.example"),
			ResetURLBase: getEnv("RESET_URL_BASE", "http://localhost:3000"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Backend != "memory" && cfg.RateLimit.Backend != "redis" {
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be \"memory\" or \"redis\", got %q", cfg.RateLimit.Backend)
	}

	if key := cfg.Auth.TOTPEncryptionKey; key != "" && len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(key))
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
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

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
