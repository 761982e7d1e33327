package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted by STORE_BACKEND
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Notification channels accepted by NOTIFY_CHANNELS
const (
	ChannelLog   = "log"
	ChannelSES   = "ses"
	ChannelKafka = "kafka"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Security SecurityConfig
	Notify   NotifyConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// RequestsPerMinute caps requests per client IP at the HTTP layer
	RequestsPerMinute int
	// TrustedProxies are CIDR ranges whose forwarding headers are believed
	TrustedProxies []string
	// RequestContextFallback fills missing ip_address/user_agent from the HTTP
	// request itself. Only for deployments where end users call the API directly.
	RequestContextFallback bool
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
	AutoMigrate       bool
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	KeyTTL    time.Duration
}

type SecurityConfig struct {
	StoreBackend       string
	MemoryShards       int
	MaxAttempts        int
	Window             time.Duration
	LockoutDuration    time.Duration
	BackoffExponentCap int
	RetentionHorizon   time.Duration
	EvictionInterval   time.Duration
	CleanupInterval    time.Duration

	RiskLocation *time.Location

	ChallengeEnabled   bool
	ChallengeThreshold int

	PasswordStrongThreshold int
	PasswordLocale          string

	StatsTopNetworks int
}

type NotifyConfig struct {
	Channels  []string
	QueueSize int
	Workers   int
	Timeout   time.Duration

	AWSRegion   string
	FromAddress string
	Recipients  []string

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaClientID string
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	// FingerprintKey keys the identity digests written to audit logs
	FingerprintKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	location, err := time.LoadLocation(getEnv("RISK_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("RISK_TIMEZONE is invalid: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:    parseAllowedOrigins(env),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvAsInt("HTTP_REQUESTS_PER_MINUTE", 300),
			TrustedProxies:    getEnvAsList("TRUSTED_PROXIES", nil),

			RequestContextFallback: getEnvAsBool("REQUEST_CONTEXT_FALLBACK", false),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "authguard"),
			KeyTTL:    getEnvAsDuration("REDIS_KEY_TTL", 48*time.Hour),
		},
		Security: SecurityConfig{
			StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			MemoryShards:            getEnvAsInt("SECURITY_MEMORY_SHARDS", 32),
			MaxAttempts:             getEnvAsInt("SECURITY_MAX_ATTEMPTS", 5),
			Window:                  getEnvAsDuration("SECURITY_WINDOW", 15*time.Minute),
			LockoutDuration:         getEnvAsDuration("SECURITY_LOCKOUT_DURATION", 15*time.Minute),
			BackoffExponentCap:      getEnvAsInt("SECURITY_BACKOFF_EXPONENT_CAP", 4),
			RetentionHorizon:        getEnvAsDuration("SECURITY_RETENTION", 24*time.Hour),
			EvictionInterval:        getEnvAsDuration("SECURITY_EVICTION_INTERVAL", 0),
			CleanupInterval:         getEnvAsDuration("SECURITY_CLEANUP_INTERVAL", 10*time.Minute),
			RiskLocation:            location,
			ChallengeEnabled:        getEnvAsBool("CHALLENGE_ENABLED", true),
			ChallengeThreshold:      getEnvAsInt("CHALLENGE_THRESHOLD", 30),
			PasswordStrongThreshold: getEnvAsInt("PASSWORD_STRONG_THRESHOLD", 60),
			PasswordLocale:          getEnv("PASSWORD_LOCALE", "en"),
			StatsTopNetworks:        getEnvAsInt("STATS_TOP_NETWORKS", 5),
		},
		Notify: NotifyConfig{
			Channels:      getEnvAsList("NOTIFY_CHANNELS", []string{ChannelLog}),
			QueueSize:     getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			Workers:       getEnvAsInt("NOTIFY_WORKERS", 2),
			Timeout:       getEnvAsDuration("NOTIFY_TIMEOUT", 5*time.Second),
			AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
			FromAddress:   getEnv("NOTIFY_FROM_ADDRESS", ""),
			Recipients:    getEnvAsList("NOTIFY_RECIPIENTS", nil),
			KafkaBrokers:  getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:    getEnv("KAFKA_SECURITY_TOPIC", "security.suspicious-activity"),
			KafkaClientID: getEnv("KAFKA_CLIENT_ID", "authguard"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			FingerprintKey:    getEnv("LOG_FINGERPRINT_KEY", jwtSecret),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Security.StoreBackend {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres (got %q)", c.Security.StoreBackend)
	}

	s := c.Security
	if s.MaxAttempts < 1 {
		return fmt.Errorf("SECURITY_MAX_ATTEMPTS must be at least 1")
	}
	if s.Window <= 0 || s.LockoutDuration <= 0 {
		return fmt.Errorf("SECURITY_WINDOW and SECURITY_LOCKOUT_DURATION must be positive")
	}
	if s.BackoffExponentCap < 0 {
		return fmt.Errorf("SECURITY_BACKOFF_EXPONENT_CAP must not be negative")
	}
	if s.RetentionHorizon < s.Window {
		return fmt.Errorf("SECURITY_RETENTION (%s) must not be shorter than SECURITY_WINDOW (%s)", s.RetentionHorizon, s.Window)
	}
	if s.PasswordStrongThreshold < 0 || s.PasswordStrongThreshold > 100 {
		return fmt.Errorf("PASSWORD_STRONG_THRESHOLD must be within 0-100")
	}

	for _, ch := range c.Notify.Channels {
		switch ch {
		case ChannelLog, ChannelKafka:
		case ChannelSES:
			if c.Notify.FromAddress == "" || len(c.Notify.Recipients) == 0 {
				return fmt.Errorf("NOTIFY_FROM_ADDRESS and NOTIFY_RECIPIENTS are required for the ses channel")
			}
		default:
			return fmt.Errorf("unknown notification channel %q", ch)
		}
	}

	return nil
}

// HasChannel reports whether the named notification channel is enabled
func (n *NotifyConfig) HasChannel(name string) bool {
	for _, ch := range n.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

// getEnvAsList splits a comma-separated variable, dropping blank items
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS", []string{})
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
