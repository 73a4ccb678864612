package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server            ServerConfig
	Database          DatabaseConfig
	Auth              AuthConfig
	Email             EmailConfig
	CORS              CORSConfig
	RateLimit         RateLimitConfig
	NotificationLimit RateLimitConfig
	App               AppConfig
	Log               LogConfig
	Scheduler         SchedulerConfig
	Vault             VaultConfig
	LLM               LLMConfig
	Consensus         ConsensusConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string
	Port            string
	TimeoutRead     time.Duration
	TimeoutWrite    time.Duration
	TimeoutIdle     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

// AuthConfig holds bearer token verification settings.
// Tokens are issued by the identity provider and signed with Secret (HS256).
type AuthConfig struct {
	Secret          string
	Issuer          string
	Audience        string
	DevTokenTTL     time.Duration
	StreamTicketTTL time.Duration
}

// EmailConfig holds email-related configuration
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	FromName     string
	AppURL       string
	DialTimeout  time.Duration
}

// Configured reports whether an SMTP relay has been set up
func (e EmailConfig) Configured() bool {
	return e.SMTPHost != ""
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Duration time.Duration
}

// AppConfig holds general application configuration
type AppConfig struct {
	Env     string
	Name    string
	Version string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	DigestCron              string // e.g., "0 8 * * *" (Daily 8 AM)
	WeeklyDigestWeekday     int    // 0-6, 0=Sunday
	InvitationExpiryCron    string // e.g., "*/30 * * * *"
	NotificationCleanupCron string // e.g., "0 3 * * *"
	NotificationRetention   time.Duration
	DigestConcurrency       int
	EnableDigest            bool
	EnableInvitationExpiry  bool
	EnableCleanup           bool
}

// VaultConfig holds Vault-related configuration
type VaultConfig struct {
	Address    string
	Token      string
	SecretPath string // KV v2 path, e.g. "secret/data/delphi"
	Enabled    bool
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SummaryModel string
	Timeout      time.Duration
	Enabled      bool
}

// Configured reports whether the chat completion endpoint can be called
func (l LLMConfig) Configured() bool {
	return l.Enabled && l.APIKey != ""
}

// ConsensusConfig holds consensus thresholds
type ConsensusConfig struct {
	ReachedThreshold int // consensus level (0-100) at which consensus_reached fires
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// godotenv doesn't override already-set variables, so order matters
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "localhost"),
			Port:            getEnv("SERVER_PORT", "8080"),
			TimeoutRead:     getDurationEnv("SERVER_TIMEOUT_READ", 15*time.Second),
			TimeoutWrite:    getDurationEnv("SERVER_TIMEOUT_WRITE", 90*time.Second),
			TimeoutIdle:     getDurationEnv("SERVER_TIMEOUT_IDLE", 60*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "delphi"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "delphi_db"),
			SSLMode:         getEnv("DB_SSLMODE", "prefer"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnv("DB_MIGRATIONS_PATH", "./migrations"),
		},
		Auth: AuthConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			Issuer:          getEnv("JWT_ISSUER", ""),
			Audience:        getEnv("JWT_AUDIENCE", ""),
			DevTokenTTL:     getDurationEnv("JWT_DEV_TOKEN_TTL", 12*time.Hour),
			StreamTicketTTL: getDurationEnv("STREAM_TICKET_TTL", time.Minute),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
			FromName:     getEnv("SMTP_FROM_NAME", "Delphi Healthcare Platform"),
			AppURL:       strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
			DialTimeout:  getDurationEnv("SMTP_DIAL_TIMEOUT", 10*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getSliceEnv("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getSliceEnv("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"}),
			ExposedHeaders:   getSliceEnv("CORS_EXPOSED_HEADERS", []string{"Content-Disposition"}),
			AllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getIntEnv("CORS_MAX_AGE", 300),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
			Requests: getIntEnv("RATE_LIMIT_REQUESTS", 100),
			Duration: getDurationEnv("RATE_LIMIT_DURATION", 1*time.Minute),
		},
		NotificationLimit: RateLimitConfig{
			Enabled:  getBoolEnv("NOTIFICATION_RATE_LIMIT_ENABLED", true),
			Requests: getIntEnv("NOTIFICATION_RATE_LIMIT_REQUESTS", 10),
			Duration: getDurationEnv("NOTIFICATION_RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		App: AppConfig{
			Env:     getEnv("APP_ENV", "development"),
			Name:    getEnv("APP_NAME", "Delphi"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Scheduler: SchedulerConfig{
			DigestCron:              getEnv("SCHEDULER_DIGEST_CRON", "0 8 * * *"), // Daily 8 AM
			WeeklyDigestWeekday:     getIntEnv("SCHEDULER_WEEKLY_DIGEST_WEEKDAY", 1),
			InvitationExpiryCron:    getEnv("SCHEDULER_INVITATION_EXPIRY_CRON", "*/30 * * * *"),
			NotificationCleanupCron: getEnv("SCHEDULER_NOTIFICATION_CLEANUP_CRON", "0 3 * * *"),
			NotificationRetention:   getDurationEnv("SCHEDULER_NOTIFICATION_RETENTION", 30*24*time.Hour),
			DigestConcurrency:       getIntEnv("SCHEDULER_DIGEST_CONCURRENCY", 4),
			EnableDigest:            getBoolEnv("SCHEDULER_ENABLE_DIGEST", true),
			EnableInvitationExpiry:  getBoolEnv("SCHEDULER_ENABLE_INVITATION_EXPIRY", true),
			EnableCleanup:           getBoolEnv("SCHEDULER_ENABLE_NOTIFICATION_CLEANUP", true),
		},
		Vault: VaultConfig{
			Address:    getEnv("VAULT_ADDR", "http://localhost:8200"),
			Token:      getEnv("VAULT_TOKEN", ""),
			SecretPath: getEnv("VAULT_SECRET_PATH", "secret/data/delphi"),
			Enabled:    getBoolEnv("VAULT_ENABLED", false),
		},
		LLM: LLMConfig{
			BaseURL:      getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:       getEnv("LLM_API_KEY", ""),
			Model:        getEnv("LLM_MODEL", "gpt-4-turbo-preview"),
			SummaryModel: getEnv("LLM_SUMMARY_MODEL", "gpt-4-turbo-preview"),
			Timeout:      getDurationEnv("LLM_TIMEOUT", 60*time.Second),
			Enabled:      getBoolEnv("LLM_ENABLED", true),
		},
		Consensus: ConsensusConfig{
			ReachedThreshold: getIntEnv("CONSENSUS_REACHED_THRESHOLD", 75),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Database.Password == "" && c.App.Env == "production" {
		return fmt.Errorf("DB_PASSWORD is required in production")
	}
	if c.Consensus.ReachedThreshold < 0 || c.Consensus.ReachedThreshold > 100 {
		return fmt.Errorf("CONSENSUS_REACHED_THRESHOLD must be between 0 and 100")
	}
	if c.Scheduler.WeeklyDigestWeekday < 0 || c.Scheduler.WeeklyDigestWeekday > 6 {
		return fmt.Errorf("SCHEDULER_WEEKLY_DIGEST_WEEKDAY must be between 0 and 6")
	}
	if c.NotificationLimit.Enabled && c.NotificationLimit.Requests < 1 {
		return fmt.Errorf("NOTIFICATION_RATE_LIMIT_REQUESTS must be positive")
	}
	return nil
}

// ApplySecrets overrides credentials with values from an external secret source.
// Keys that are absent or empty leave the current value in place.
func (c *Config) ApplySecrets(secrets map[string]string) {
	if v := secrets["jwt_secret"]; v != "" {
		c.Auth.Secret = v
	}
	if v := secrets["llm_api_key"]; v != "" {
		c.LLM.APIKey = v
	}
	if v := secrets["smtp_password"]; v != "" {
		c.Email.SMTPPassword = v
	}
	if v := secrets["db_password"]; v != "" {
		c.Database.Password = v
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Split by comma and trim whitespace
		parts := strings.Split(value, ",")
		var result []string
		for _, v := range parts {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
