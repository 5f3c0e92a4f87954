// Package config loads server configuration from defaults, an optional YAML
// file and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines everything main needs to assemble the server.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// MongoConfig selects the persistence backend. An empty URI selects the
// in-memory store, which keeps nothing across restarts.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration. The YAML file named by REUNION_CONFIG_PATH
// is applied over the defaults, then individual environment variables win
// over both.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{Port: "8080"},
		Mongo:  MongoConfig{URI: "mongodb://mongo:27017", Database: "reunionlive"},
		Auth:   AuthConfig{JWTSecret: ""},
		Log:    LogConfig{Level: "info"},
	}

	if path := os.Getenv("REUNION_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v, ok := os.LookupEnv("MONGO_URI"); ok {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
