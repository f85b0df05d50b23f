package store

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds PostgreSQL connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds a libpq-style connection string for the pgx stdlib driver.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks the configuration for obviously invalid values.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("store: DB host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("store: DB name is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("store: max idle conns (%d) cannot exceed max open conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("store: max open conns must be at least 1")
	}
	return nil
}

// LoadConfigFromEnv loads Config from environment variables with
// production-ready defaults, mirroring the teacher's database.LoadConfigFromEnv.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("FLEET_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("store: invalid FLEET_DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("FLEET_DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("FLEET_DB_MAX_IDLE_CONNS", "10"))
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("FLEET_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("store: invalid FLEET_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("FLEET_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("store: invalid FLEET_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("FLEET_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("FLEET_DB_USER", "fleet"),
		Password:        os.Getenv("FLEET_DB_PASSWORD"),
		Database:        getEnvOrDefault("FLEET_DB_NAME", "fleet"),
		SSLMode:         getEnvOrDefault("FLEET_DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
