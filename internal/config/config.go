// Package config loads the agenttrace configuration from TOML, merging
// over built-in defaults. A missing file is not an error: defaults apply.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Audit    AuditConfig    `toml:"audit"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
	// AdminPasswordHash is a bcrypt hash; empty disables console auth.
	AdminPasswordHash string `toml:"admin_password_hash"`
}

type AuditConfig struct {
	// Level is the default verbosity for new records:
	// minimal | standard | detailed | debug.
	Level string `toml:"level"`
	// QueueSize bounds the async write queue.
	QueueSize int `toml:"queue_size"`
	// FallbackCapacity bounds the in-memory ring of the log-only
	// fallback store.
	FallbackCapacity int `toml:"fallback_capacity"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/audit.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		Audit: AuditConfig{
			Level:            "standard",
			QueueSize:        256,
			FallbackCapacity: 1024,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
