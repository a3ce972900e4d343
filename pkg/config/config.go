// Package config provides process bootstrap configuration for Gruxi.
// This is the configuration needed before any ConfigSnapshot can be loaded:
// where the admin API listens, how to reach the config store, and the
// initial operation mode. The bindings/sites/processors themselves come
// from internal/store, not from here.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-level bootstrap configuration.
type Config struct {
	Admin    AdminConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Mode     string
}

// AdminConfig describes the admin API's own bind endpoint, independent of
// the data-plane bindings held in a ConfigSnapshot.
type AdminConfig struct {
	Host         string
	Port         int
	TLSCertPath  string
	TLSKeyPath   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig describes the config-store connection.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// AuthConfig describes the admin session token policy.
type AuthConfig struct {
	JWTSecret       string
	SessionExpiry   time.Duration
	BootstrapUser   string
	BootstrapPass   string
}

// Load populates Config from GRUXI_* environment variables with defaults.
func Load() *Config {
	return &Config{
		Admin: AdminConfig{
			Host:         getEnv("GRUXI_ADMIN_HOST", "0.0.0.0"),
			Port:         getEnvInt("GRUXI_ADMIN_PORT", 2087),
			TLSCertPath:  getEnv("GRUXI_ADMIN_TLS_CERT", ""),
			TLSKeyPath:   getEnv("GRUXI_ADMIN_TLS_KEY", ""),
			ReadTimeout:  time.Duration(getEnvInt("GRUXI_ADMIN_READ_TIMEOUT_S", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("GRUXI_ADMIN_WRITE_TIMEOUT_S", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   getEnv("GRUXI_DB_DRIVER", "postgres"),
			Host:     getEnv("GRUXI_DB_HOST", "localhost"),
			Port:     getEnvInt("GRUXI_DB_PORT", 5432),
			User:     getEnv("GRUXI_DB_USER", "gruxi"),
			Password: getEnv("GRUXI_DB_PASSWORD", ""),
			Name:     getEnv("GRUXI_DB_NAME", "gruxi"),
			SSLMode:  getEnv("GRUXI_DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("GRUXI_JWT_SECRET", "change-me-in-production"),
			SessionExpiry: time.Duration(getEnvInt("GRUXI_SESSION_EXPIRY_MINUTES", 60)) * time.Minute,
			BootstrapUser: getEnv("GRUXI_BOOTSTRAP_USER", "admin"),
			BootstrapPass: getEnv("GRUXI_BOOTSTRAP_PASSWORD", ""),
		},
		Mode: getEnv("GRUXI_OPERATION_MODE", "PRODUCTION"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
