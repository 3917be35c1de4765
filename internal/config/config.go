package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultJWTSecret       = "default_jwt_secret"
	defaultIntegritySecret = "default_integrity_secret"
)

// Config holds all configuration for our application
type Config struct {
	Port                 string
	Origin               string
	Environment          string
	JWTSecret            string
	JWTExpirationMinutes int
	IntegritySecret      string
	Log                  LogConfig
	Database             DatabaseConfig
	OTP                  OTPConfig
	Redis                RedisConfig
	Mailer               MailerConfig
	Keys                 KeyConfig
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string // mysql, postgres or sqlite
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	Path     string // sqlite file, ":memory:" allowed
	DSN      string
}

// OTPConfig holds one-time-code settings.
type OTPConfig struct {
	Store           string // database or redis
	TTLMinutes      int
	CleanupSchedule string
}

// RedisConfig holds redis connection details
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MailerConfig holds email service configuration
type MailerConfig struct {
	Transport string // smtp or log
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
}

// KeyConfig tells the field encryption engine where its private keys live.
type KeyConfig struct {
	Source       string // file or vault
	Dir          string
	AutoGenerate bool
	VaultAddr    string
	VaultToken   string
	VaultMount   string
	VaultPath    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "mysql"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "sphere"),
		Path:     getEnv("DB_PATH", "sphere.db"),
	}
	dbConfig.DSN = buildDSN(dbConfig)

	jwtExpMinutes, err := strconv.Atoi(getEnv("JWT_EXPIRATION_MINUTES", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION_MINUTES: %w", err)
	}

	otpTTL, err := strconv.Atoi(getEnv("OTP_TTL_MINUTES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid OTP_TTL_MINUTES: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	autoGenerate, err := strconv.ParseBool(getEnv("KEYS_AUTOGENERATE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid KEYS_AUTOGENERATE: %w", err)
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8000"),
		Origin:               getEnv("ORIGIN", "http://localhost:5173"),
		Environment:          getEnv("APP_ENV", "development"),
		JWTSecret:            getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpirationMinutes: jwtExpMinutes,
		IntegritySecret:      getEnv("INTEGRITY_SECRET", defaultIntegritySecret),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Database: dbConfig,
		OTP: OTPConfig{
			Store:           getEnv("OTP_STORE", "database"),
			TTLMinutes:      otpTTL,
			CleanupSchedule: getEnv("OTP_CLEANUP_SCHEDULE", "@every 10m"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Mailer: MailerConfig{
			Transport: getEnv("MAIL_TRANSPORT", "log"),
			Host:      getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:      smtpPort,
			Username:  getEnv("SMTP_USER", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			From:      getEnv("MAIL_FROM", "noreply@sphere-health.com"),
		},
		Keys: KeyConfig{
			Source:       getEnv("KEY_SOURCE", "file"),
			Dir:          getEnv("KEYS_DIR", "keys"),
			AutoGenerate: autoGenerate,
			VaultAddr:    getEnv("VAULT_ADDR", ""),
			VaultToken:   getEnv("VAULT_TOKEN", ""),
			VaultMount:   getEnv("VAULT_MOUNT", "secret"),
			VaultPath:    getEnv("VAULT_PATH", "sphere/keys"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want mysql, postgres or sqlite", c.Database.Driver)
	}
	switch c.OTP.Store {
	case "database", "redis":
	default:
		return fmt.Errorf("invalid OTP_STORE %q: want database or redis", c.OTP.Store)
	}
	switch c.Mailer.Transport {
	case "smtp", "log":
	default:
		return fmt.Errorf("invalid MAIL_TRANSPORT %q: want smtp or log", c.Mailer.Transport)
	}
	switch c.Keys.Source {
	case "file", "vault":
	default:
		return fmt.Errorf("invalid KEY_SOURCE %q: want file or vault", c.Keys.Source)
	}
	if c.OTP.TTLMinutes <= 0 {
		return errors.New("OTP_TTL_MINUTES must be positive")
	}
	if c.JWTExpirationMinutes <= 0 {
		return errors.New("JWT_EXPIRATION_MINUTES must be positive")
	}
	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
		if c.IntegritySecret == defaultIntegritySecret {
			return errors.New("INTEGRITY_SECRET must be set in production")
		}
		if c.Keys.Source == "file" && c.Keys.AutoGenerate {
			return errors.New("KEYS_AUTOGENERATE must be false in production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func buildDSN(db DatabaseConfig) string {
	switch db.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			db.Host, db.Username, db.Password, db.Name, db.Port)
	case "sqlite":
		return db.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			db.Username, db.Password, db.Host, db.Port, db.Name)
	}
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
