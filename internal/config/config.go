package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Inngest    InngestConfig
	Anaf       AnafConfig
	RateLimit  RateLimitConfig
	Sync       SyncConfig
	Polling    PollingConfig
	Schematron SchematronConfig
	Storage    StorageConfig
	Supabase   SupabaseConfig
	Email      EmailConfig
	Logging    LoggingConfig
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port    string
	Host    string
	Env     string
	BaseURL string
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// InngestConfig holds the task-queue client settings.
type InngestConfig struct {
	EventKey   string
	SigningKey string
	AppID      string
	Dev        bool
}

// AnafConfig holds the authority API and OAuth2 settings.
type AnafConfig struct {
	BaseURL           string
	Timeout           time.Duration
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
}

// RateLimitConfig holds the per-bucket authority call budgets.
type RateLimitConfig struct {
	Window        time.Duration
	GlobalLimit   int
	UploadLimit   int
	ListLimit     int
	PollLimit     int
	DownloadLimit int
}

// SyncConfig holds the inbox reconciliation tolerances.
type SyncConfig struct {
	DefaultDaysBack    int
	LookbackFloor      int
	ProgressEvery      int
	LateSubmissionDays int
}

// PollingConfig holds the status-poll retry settings.
type PollingConfig struct {
	MaxAttempts int
}

// SchematronConfig holds the semantic-validator sidecar settings.
type SchematronConfig struct {
	URL     string
	Timeout time.Duration
}

// StorageConfig holds the XML archive settings.
type StorageConfig struct {
	Bucket string
}

// SupabaseConfig holds the S3-compatible storage credentials.
type SupabaseConfig struct {
	URL             string
	StorageEndpoint string
	StorageRegion   string
	AccessKeyID     string
	SecretAccessKey string
}

// EmailConfig holds the notification delivery settings.
type EmailConfig struct {
	ResendAPIKey  string
	FromAddress   string
	ReportAddress string
}

// LoggingConfig holds level and output format.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables, with .env support
// for local development.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:    getEnv("SERVER_PORT", "8081"),
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Env:     getEnv("SERVER_ENV", "development"),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8081"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PGHOST", "localhost"),
			Port:     getEnv("PGPORT", "5432"),
			User:     getEnv("PGUSER", "postgres"),
			Password: getEnv("PGPASSWORD", "postgres"),
			Name:     getEnv("PGDATABASE", "anaf"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Inngest: InngestConfig{
			EventKey:   getEnv("INNGEST_EVENT_KEY", ""),
			SigningKey: getEnv("INNGEST_SIGNING_KEY", ""),
			AppID:      getEnv("INNGEST_APP_ID", "anaf-service"),
			Dev:        getEnvAsBool("INNGEST_DEV", true),
		},
		Anaf: AnafConfig{
			BaseURL:           getEnv("ANAF_BASE_URL", "https://api.anaf.ro/prod/FCTEL/rest"),
			Timeout:           getEnvAsDuration("ANAF_TIMEOUT", 30*time.Second),
			OAuthTokenURL:     getEnv("ANAF_OAUTH_TOKEN_URL", "https://logincert.anaf.ro/anaf-oauth2/v1/token"),
			OAuthClientID:     getEnv("ANAF_OAUTH_CLIENT_ID", ""),
			OAuthClientSecret: getEnv("ANAF_OAUTH_CLIENT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Window:        getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			GlobalLimit:   getEnvAsInt("RATE_LIMIT_GLOBAL", 50),
			UploadLimit:   getEnvAsInt("RATE_LIMIT_UPLOAD", 30),
			ListLimit:     getEnvAsInt("RATE_LIMIT_LIST", 10),
			PollLimit:     getEnvAsInt("RATE_LIMIT_POLL", 20),
			DownloadLimit: getEnvAsInt("RATE_LIMIT_DOWNLOAD", 30),
		},
		Sync: SyncConfig{
			DefaultDaysBack:    getEnvAsInt("SYNC_DEFAULT_DAYS_BACK", 60),
			LookbackFloor:      getEnvAsInt("SYNC_LOOKBACK_FLOOR", 10),
			ProgressEvery:      getEnvAsInt("SYNC_PROGRESS_EVERY", 5),
			LateSubmissionDays: getEnvAsInt("SYNC_LATE_SUBMISSION_DAYS", 5),
		},
		Polling: PollingConfig{
			MaxAttempts: getEnvAsInt("POLL_MAX_ATTEMPTS", 5),
		},
		Schematron: SchematronConfig{
			URL:     getEnv("SCHEMATRON_URL", ""),
			Timeout: getEnvAsDuration("SCHEMATRON_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			Bucket: getEnv("STORAGE_BUCKET", "anaf-documents"),
		},
		Supabase: SupabaseConfig{
			URL:             getEnv("SUPABASE_URL", ""),
			StorageEndpoint: getEnv("SUPABASE_STORAGE_ENDPOINT", ""),
			StorageRegion:   getEnv("SUPABASE_STORAGE_REGION", ""),
			AccessKeyID:     getEnv("SUPABASE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("SUPABASE_SECRET_ACCESS_KEY", ""),
		},
		Email: EmailConfig{
			ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
			FromAddress:   getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			ReportAddress: getEnv("EMAIL_REPORT_ADDRESS", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv reads a string variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an integer variable with a default.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool reads a boolean variable with a default.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration reads a duration variable with a default.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return "host=" + c.Database.Host +
		" port=" + c.Database.Port +
		" user=" + c.Database.User +
		" password=" + c.Database.Password +
		" dbname=" + c.Database.Name +
		" sslmode=" + c.Database.SSLMode
}

// GetRedisAddr returns the Redis host:port address.
func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}
