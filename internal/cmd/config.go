package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server's tunable settings. Everything has a default so
// the binary runs with no config file at all.
type Config struct {
	Server struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	NATS struct {
		URL           string        `yaml:"url"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
	} `yaml:"nats"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Changefeed struct {
		Channel          string        `yaml:"channel"`
		FallbackInterval time.Duration `yaml:"fallback_interval"`
		PingInterval     time.Duration `yaml:"ping_interval"`
	} `yaml:"changefeed"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = getEnv("PORT", "8080")
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.IdleTimeout = 120 * time.Second
	cfg.NATS.URL = getEnv("NATS_URL", "nats://localhost:4222")
	cfg.NATS.ReconnectWait = 2 * time.Second
	cfg.Redis.Enabled = getEnv("REDIS_ADDR", "") != ""
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Changefeed.Channel = "game_changes"
	cfg.Changefeed.FallbackInterval = 30 * time.Second
	cfg.Changefeed.PingInterval = 90 * time.Second
	return cfg
}

// loadConfig merges an optional YAML file over the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
