// Package config loads CLI configuration from linego.yaml with
// environment overrides. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Session SessionConfig `yaml:"session"`
	Gateway GatewayConfig `yaml:"gateway"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

type DeviceConfig struct {
	Kind       string `yaml:"kind"`
	AppVersion string `yaml:"app_version"`
	SystemName string `yaml:"system_name"`
}

type SessionConfig struct {
	Path string `yaml:"path"`
	// Redis selects a redis-backed session store when set, e.g.
	// redis://localhost:6379/0.
	Redis       string `yaml:"redis"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type GatewayConfig struct {
	Host     string `yaml:"host"`
	PushHost string `yaml:"push_host"`
}

type EventsConfig struct {
	Mode      string   `yaml:"mode"` // push or polling
	Chats     []string `yaml:"chats"`
	QueueSize int      `yaml:"queue_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads path (when it exists), applies LINEGO_* environment
// overrides, and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Device.Kind, "LINEGO_DEVICE")
	set(&cfg.Device.AppVersion, "LINEGO_APP_VERSION")
	set(&cfg.Device.SystemName, "LINEGO_SYSTEM_NAME")
	set(&cfg.Session.Path, "LINEGO_SESSION_PATH")
	set(&cfg.Session.Redis, "LINEGO_SESSION_REDIS")
	set(&cfg.Gateway.Host, "LINEGO_HOST")
	set(&cfg.Gateway.PushHost, "LINEGO_PUSH_HOST")
	set(&cfg.Events.Mode, "LINEGO_EVENTS_MODE")
	set(&cfg.Log.Level, "LINEGO_LOG_LEVEL")
	if v := os.Getenv("LINEGO_CHATS"); v != "" {
		cfg.Events.Chats = nil
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.Events.Chats = append(cfg.Events.Chats, c)
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Device.Kind == "" {
		cfg.Device.Kind = "DESKTOPWIN"
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = ".linego-session.json"
	}
	if cfg.Events.Mode == "" {
		cfg.Events.Mode = "push"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
