/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the engine's YAML configuration file, applies
// environment overrides, and validates the result before the composition
// root wires anything up.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the admin/health HTTP surface (chi-served /healthz and
// /metrics only — the business API is out of scope, see spec.md §1).
type ServerConfig struct {
	HealthPort  string `yaml:"health_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig selects and configures the storage driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// ZombieConfig configures the sweeper (spec.md §4.11).
type ZombieConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	SoftTimeout  time.Duration `yaml:"soft_timeout"`
	HardTimeout  time.Duration `yaml:"hard_timeout"`
}

// EventsConfig selects the C13 event sink backend.
type EventsConfig struct {
	Backend  string `yaml:"backend"` // "memory", "file", or "redis_stream"
	FilePath string `yaml:"file_path"`
	RedisAddr string `yaml:"redis_addr"`
	Stream   string `yaml:"stream"`
}

// PilotConfig configures the Slack notification channel the pilot surface
// (C9) and Park & Notify (C10) share.
type PilotConfig struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
}

// TemplateConfig names the directory the hot-reload watcher observes.
type TemplateConfig struct {
	Directory string `yaml:"directory"`
}

// LoggingConfig mirrors the teacher's logging shape.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the engine's top-level configuration document.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Zombie   ZombieConfig    `yaml:"zombie"`
	Events   EventsConfig    `yaml:"events"`
	Pilot    PilotConfig     `yaml:"pilot"`
	Template TemplateConfig  `yaml:"template"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// Load reads path, parses it as YAML, applies defaults, layers in
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HealthPort == "" {
		cfg.Server.HealthPort = "8080"
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Zombie.PollInterval == 0 {
		cfg.Zombie.PollInterval = 60 * time.Second
	}
	if cfg.Zombie.SoftTimeout == 0 {
		cfg.Zombie.SoftTimeout = 5 * time.Minute
	}
	if cfg.Zombie.HardTimeout == 0 {
		cfg.Zombie.HardTimeout = 30 * time.Minute
	}
	if cfg.Events.Backend == "" {
		cfg.Events.Backend = "memory"
	}
	if cfg.Events.Stream == "" {
		cfg.Events.Stream = "constitution-engine-events"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// loadFromEnv overlays a handful of environment variables onto cfg,
// matching the teacher's loadFromEnv convention of a flat, deployment-
// friendly override surface above the YAML file.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("EVENTS_BACKEND"); v != "" {
		cfg.Events.Backend = v
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		cfg.Server.HealthPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		cfg.Pilot.SlackToken = v
	}
	if v := os.Getenv("ZOMBIE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZOMBIE_POLL_INTERVAL: %w", err)
		}
		cfg.Zombie.PollInterval = d
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			return fmt.Errorf("DRY_RUN: %w", err)
		}
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for the postgres driver")
	}

	switch cfg.Events.Backend {
	case "memory", "file", "redis_stream":
	default:
		return fmt.Errorf("unsupported events backend %q", cfg.Events.Backend)
	}
	if cfg.Events.Backend == "file" && cfg.Events.FilePath == "" {
		return fmt.Errorf("events file_path is required for the file backend")
	}
	if cfg.Events.Backend == "redis_stream" && cfg.Events.RedisAddr == "" {
		return fmt.Errorf("events redis_addr is required for the redis_stream backend")
	}

	if cfg.Zombie.HardTimeout <= cfg.Zombie.SoftTimeout {
		return fmt.Errorf("zombie hard_timeout must be greater than soft_timeout")
	}
	if cfg.Zombie.PollInterval <= 0 {
		return fmt.Errorf("zombie poll_interval must be greater than 0")
	}

	return nil
}
