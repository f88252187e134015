package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"publicURL"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Sandbox struct {
		Limit   int           `yaml:"limit"`
		Timeout time.Duration `yaml:"timeout"`
		Grace   time.Duration `yaml:"grace"`
	} `yaml:"sandbox"`

	Filesystem struct {
		Roots []string `yaml:"roots"`
	} `yaml:"filesystem"`

	Finance struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"finance"`

	Git struct {
		Workdir  string `yaml:"workdir"`
		TokenEnv string `yaml:"tokenEnv"`
	} `yaml:"git"`
}

func loadConfig(path string) (config, error) {
	cfg := config{
		Transport: "stdio",
		Addr:      ":8080",
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	if path != "" {
		bs, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(bs, &cfg); err != nil {
			return config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	switch cfg.Transport {
	case "stdio", "sse":
	default:
		return config{}, fmt.Errorf("unknown transport %q: must be stdio or sse", cfg.Transport)
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost" + cfg.Addr
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")

	return cfg, nil
}

func newLogger(cfg config) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}

	opts := &slog.HandlerOptions{Level: level}

	// The stdio transport owns stdout, so logs always go to stderr.
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
}
