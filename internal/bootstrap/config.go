package bootstrap

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"orderflow/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig loads and validates path, then runs environment checks schema validation cannot do
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

func checkPreFlight(cfg *Config) error {
	if p := cfg.Storage.SQLitePath; p != "" && p != ":memory:" {
		dir := filepath.Dir(p)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("storage directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("storage path parent %s is not a directory", dir)
		}
	}

	if cfg.Sink.Type == config.SinkRedis {
		if _, _, err := net.SplitHostPort(cfg.Sink.RedisAddr); err != nil {
			return fmt.Errorf("invalid sink.redis_addr %q: %w", cfg.Sink.RedisAddr, err)
		}
	}
	return nil
}

// CheckLive verifies the settings only the live runner needs
func CheckLive(cfg *Config) error {
	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required in live mode")
	}
	u, err := url.Parse(cfg.Feed.URL)
	if err != nil {
		return fmt.Errorf("invalid feed.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("feed.url must use ws or wss, got %q", u.Scheme)
	}
	return nil
}
