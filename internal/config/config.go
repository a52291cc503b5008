package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Importer ImporterConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines parameters for the operator API tokens and hashing of
// imported plaintext credentials.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// Capabilities are the feature flags passed explicitly into the import
// engine instead of being read from ambient process state.
type Capabilities struct {
	MultiTenancy   bool
	AccountLinking bool
	MFA            bool
}

// ImporterConfig controls the batch processor and admission limits. Initial
// delay and interval are overridable so tests can drive timing.
type ImporterConfig struct {
	AppID               string
	BatchSize           int
	Workers             int
	MaxUsersPerRequest  int
	InitialDelaySeconds int
	IntervalSeconds     int
	FiringLockTTLSec    int
	Capabilities        Capabilities
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "identity-import-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Importer: ImporterConfig{
			AppID:               getEnv("IMPORT_APP_ID", "public"),
			BatchSize:           getEnvAsInt("IMPORT_BATCH_SIZE", 1000),
			Workers:             getEnvAsInt("IMPORT_WORKERS", 8),
			MaxUsersPerRequest:  getEnvAsInt("IMPORT_MAX_USERS_PER_REQUEST", 10000),
			InitialDelaySeconds: getEnvAsInt("IMPORT_INITIAL_DELAY_SECONDS", 30),
			IntervalSeconds:     getEnvAsInt("IMPORT_INTERVAL_SECONDS", 60),
			FiringLockTTLSec:    getEnvAsInt("IMPORT_FIRING_LOCK_TTL_SECONDS", 300),
			Capabilities: Capabilities{
				MultiTenancy:   getEnvAsBool("FEATURE_MULTI_TENANCY", true),
				AccountLinking: getEnvAsBool("FEATURE_ACCOUNT_LINKING", true),
				MFA:            getEnvAsBool("FEATURE_MFA", false),
			},
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// InitialDelay returns the processor's first-firing delay.
func (i ImporterConfig) InitialDelay() time.Duration {
	return time.Duration(i.InitialDelaySeconds) * time.Second
}

// Interval returns the processor's repeat interval.
func (i ImporterConfig) Interval() time.Duration {
	return time.Duration(i.IntervalSeconds) * time.Second
}

// FiringLockTTL bounds how long a processor instance may hold the firing lock.
func (i ImporterConfig) FiringLockTTL() time.Duration {
	return time.Duration(i.FiringLockTTLSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
