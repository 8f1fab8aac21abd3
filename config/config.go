package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Integrity IntegrityConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

// IntegrityConfig holds the integrity check schedule. An empty schedule
// disables the background checks.
type IntegrityConfig struct {
	CronSchedule string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// A missing .env is fine; the environment may carry everything.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getenvWithDefault("APP_PORT", "8080"),
			CORSOrigins: splitList(getenvWithDefault("CORS_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			Path: getenvWithDefault("DB_PATH", "inventory.db"),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Integrity: IntegrityConfig{
			CronSchedule: getenvWithDefault("INTEGRITY_CRON", "0 3 * * *"),
		},
	}
	// INTEGRITY_CRON set to an empty value turns the checks off.
	if v, ok := os.LookupEnv("INTEGRITY_CRON"); ok && strings.TrimSpace(v) == "" {
		cfg.Integrity.CronSchedule = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}
	if n, err := strconv.Atoi(c.Server.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("APP_PORT must be a valid port, got %q", c.Server.Port)
	}

	if c.Database.Path == "" {
		return errors.New("DB_PATH must be provided")
	}

	// Parsed exactly as logger.New parses it.
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	if c.Integrity.CronSchedule != "" {
		if _, err := cron.ParseStandard(c.Integrity.CronSchedule); err != nil {
			return fmt.Errorf("INTEGRITY_CRON is not a valid cron expression: %w", err)
		}
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
