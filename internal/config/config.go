// internal/config/config.go
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
	Environment  string
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Account      AccountConfig
	Redis        RedisConfig
	AWS          AWSConfig
	Storage      StorageConfig
	Payment      PaymentConfig
	Email        EmailConfig
	Kafka        KafkaConfig
	Registration RegistrationConfig
	I18n         I18nConfig
	Log          LogConfig
	Frontend     FrontendConfig
	Admin        AdminSeedConfig
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  int // in hours
	RefreshTokenTTL int // in hours
	Issuer          string
}

// AccountConfig bounds the lifetime of emailed account tokens.
type AccountConfig struct {
	VerificationTTL  time.Duration
	PasswordResetTTL time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
}

type StorageConfig struct {
	LocalPath    string
	MaxFileSize  int64 // in bytes
	MaxAttempts  int
	AllowedTypes []string
}

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	Currency             string
}

type EmailConfig struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	FromEmail     string
	FromName      string
	SkipTLSVerify bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RegistrationConfig holds the lifecycle policy knobs.
type RegistrationConfig struct {
	AllowConcurrentCases bool
	DecisionFrom         []string
	FeeAmount            int64 // smallest currency unit
	NotifyTimeout        time.Duration
	ReferenceAttempts    int
}

type I18nConfig struct {
	DefaultLocale string
}

type LogConfig struct {
	Level  string
	Format string
}

type AdminSeedConfig struct {
	Email    string
	Password string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			CORSOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "export_registry"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL:  getEnvAsInt("JWT_ACCESS_TTL", 24),   // 24 hours
			RefreshTokenTTL: getEnvAsInt("JWT_REFRESH_TTL", 168), // 7 days
			Issuer:          getEnv("JWT_ISSUER", "export-registry"),
		},
		Account: AccountConfig{
			VerificationTTL:  time.Duration(getEnvAsInt("ACCOUNT_VERIFICATION_TTL_HOURS", 24)) * time.Hour,
			PasswordResetTTL: time.Duration(getEnvAsInt("ACCOUNT_PASSWORD_RESET_TTL_MINUTES", 60)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-west-3"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "export-registry-documents"),
		},
		Storage: StorageConfig{
			LocalPath:    getEnv("STORAGE_LOCAL_PATH", "./uploads"),
			MaxFileSize:  int64(getEnvAsInt("STORAGE_MAX_FILE_SIZE_MB", 10)) * 1024 * 1024,
			MaxAttempts:  getEnvAsInt("STORAGE_MAX_ATTEMPTS", 3),
			AllowedTypes: getEnvAsSlice("STORAGE_ALLOWED_TYPES", []string{".pdf", ".jpg", ".jpeg", ".png"}),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			Currency:             getEnv("PAYMENT_CURRENCY", "eur"),
		},
		Email: EmailConfig{
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername:  getEnv("SMTP_USERNAME", ""),
			SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
			FromEmail:     getEnv("FROM_EMAIL", "noreply@export-registry.gov"),
			FromName:      getEnv("FROM_NAME", "Export Registry"),
			SkipTLSVerify: getEnvAsBool("SMTP_SKIP_TLS_VERIFY", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_CASE_EVENTS_TOPIC", "registration.case-events"),
		},
		Registration: RegistrationConfig{
			AllowConcurrentCases: getEnvAsBool("REGISTRATION_ALLOW_CONCURRENT_CASES", false),
			DecisionFrom:         getEnvAsSlice("REGISTRATION_DECISION_FROM", []string{"SUBMITTED", "UNDER_REVIEW"}),
			FeeAmount:            int64(getEnvAsInt("REGISTRATION_FEE_AMOUNT", 15000)),
			NotifyTimeout:        time.Duration(getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 10)) * time.Second,
			ReferenceAttempts:    getEnvAsInt("REGISTRATION_REFERENCE_ATTEMPTS", 5),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "fr"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
		Admin: AdminSeedConfig{
			Email:    getEnv("ADMIN_EMAIL", "admin@export-registry.gov"),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Payment.StripeSecretKey == "" && c.Environment == "production" {
		return fmt.Errorf("stripe secret key is required in production")
	}

	for _, status := range c.Registration.DecisionFrom {
		if status != "SUBMITTED" && status != "UNDER_REVIEW" {
			return fmt.Errorf("invalid decision entry state %q: must be SUBMITTED or UNDER_REVIEW", status)
		}
	}
	if len(c.Registration.DecisionFrom) == 0 {
		return fmt.Errorf("at least one decision entry state is required")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
