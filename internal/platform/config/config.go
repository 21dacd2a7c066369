package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// ErrMissingJWTSecret is returned by Load when JWT_SECRET is not provided.
var ErrMissingJWTSecret = errors.New("JWT_SECRET environment variable is not set")

type Config struct {
	APIPort  string
	BaseURL  string
	LogLevel string

	JWTKey []byte

	BcryptCost      int
	HashConcurrency int

	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	TokenSweepInterval   time.Duration

	RateLimitAuthPerMin int
	TrustedProxies      []string

	StoreDriver string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MailQueueName string
	MailAPIURL    string
	MailAPIKey    string
}

// Load reads the configuration from the environment (and a .env file when one
// exists). A missing JWT_SECRET is a fatal configuration error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, ErrMissingJWTSecret
	}

	cfg := &Config{
		APIPort:  getEnv("API_PORT", "8080"),
		BaseURL:  strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTKey: []byte(secret),

		BcryptCost:      getEnvAsInt("BCRYPT_COST", 10),
		HashConcurrency: getEnvAsInt("HASH_CONCURRENCY", 4),

		EmailVerificationTTL: getEnvAsDuration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
		PasswordResetTTL:     getEnvAsDuration("PASSWORD_RESET_TTL", 24*time.Hour),
		TokenSweepInterval:   getEnvAsDuration("TOKEN_SWEEP_INTERVAL", time.Hour),

		RateLimitAuthPerMin: getEnvAsInt("RATE_LIMIT_AUTH_PER_MIN", 10),
		TrustedProxies:      getEnvAsList("TRUSTED_PROXIES"),

		StoreDriver: getEnv("STORE_DRIVER", StoreDriverPostgres),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "memorials"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		MailQueueName: getEnv("MAIL_QUEUE_NAME", "outbound_mail_queue"),
		MailAPIURL:    strings.TrimRight(getEnv("MAIL_API_URL", ""), "/"),
		MailAPIKey:    getEnv("MAIL_API_KEY", ""),
	}

	// DATABASE_URL wins over the individual parts; golang-migrate needs a URL.
	cfg.DBConnStr = getEnv("DATABASE_URL", "")
	if cfg.DBConnStr == "" {
		cfg.DBConnStr = "postgres://" + cfg.DBUser + ":" + cfg.DBPassword +
			"@" + cfg.DBHost + ":" + cfg.DBPort +
			"/" + cfg.DBName + "?sslmode=" + cfg.DBSslMode
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, errors.New("STORE_DRIVER must be one of: postgres, memory")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
