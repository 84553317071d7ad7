// Package config loads service settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"handoff/internal/auth"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Responder ResponderConfig `yaml:"responder"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	StaticDir       string        `yaml:"static_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ResponderConfig struct {
	// Kind is "simulated" or "ollama".
	Kind           string        `yaml:"kind"`
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	FallbackReply  string        `yaml:"fallback_reply"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	SensitiveGuard bool          `yaml:"sensitive_guard"`
}

type AuthConfig struct {
	JWTSecret string             `yaml:"jwt_secret"`
	JWTExpiry time.Duration      `yaml:"jwt_expiry"`
	Tokens    []auth.StaticToken `yaml:"tokens"`
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type RateLimitConfig struct {
	Messages int           `yaml:"messages"`
	Window   time.Duration `yaml:"window"`
}

type NotifyConfig struct {
	RedisAddr   string        `yaml:"redis_addr"`
	RedisStream string        `yaml:"redis_stream"`
	Timeout     time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Responder: ResponderConfig{
			Kind:           "simulated",
			URL:            "http://localhost:11434",
			Model:          "llama3.2",
			Timeout:        10 * time.Second,
			FallbackReply:  "Sorry, I'm having trouble answering right now. You can ask for a human agent at any time.",
			CacheTTL:       10 * time.Minute,
			SensitiveGuard: true,
		},
		Auth:      AuthConfig{JWTExpiry: 12 * time.Hour},
		Storage:   StorageConfig{Driver: "memory", Path: "handoff.db"},
		RateLimit: RateLimitConfig{Messages: 10, Window: time.Minute},
		Notify:    NotifyConfig{RedisStream: "handoff:requests", Timeout: 5 * time.Second},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// A missing file means "defaults + env".
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = envOrDefault("HANDOFF_ADDR", c.Server.Addr)
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Log.Level = envOrDefault("HANDOFF_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("HANDOFF_LOG_FORMAT", c.Log.Format)

	c.Responder.Kind = envOrDefault("HANDOFF_RESPONDER", c.Responder.Kind)
	c.Responder.URL = envOrDefault("OLLAMA_URL", c.Responder.URL)
	c.Responder.Model = envOrDefault("OLLAMA_MODEL", c.Responder.Model)

	c.Auth.JWTSecret = envOrDefault("HANDOFF_JWT_SECRET", c.Auth.JWTSecret)
	c.Storage.Driver = envOrDefault("HANDOFF_STORAGE", c.Storage.Driver)
	c.Storage.Path = envOrDefault("HANDOFF_DB_PATH", c.Storage.Path)
	c.Notify.RedisAddr = envOrDefault("HANDOFF_REDIS_ADDR", c.Notify.RedisAddr)

	var err error
	if c.Responder.Timeout, err = envDuration("HANDOFF_RESPONDER_TIMEOUT", c.Responder.Timeout); err != nil {
		return err
	}
	if c.RateLimit.Window, err = envDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window); err != nil {
		return err
	}
	if c.Responder.CacheTTL, err = envDuration("CACHE_TTL", c.Responder.CacheTTL); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
		c.RateLimit.Messages = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	switch c.Responder.Kind {
	case "simulated":
	case "ollama":
		if c.Responder.URL == "" || c.Responder.Model == "" {
			errs = append(errs, errors.New("responder.url and responder.model are required for ollama"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown responder.kind %q", c.Responder.Kind))
	}
	if c.Responder.Timeout <= 0 {
		errs = append(errs, errors.New("responder.timeout must be positive"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.RateLimit.Messages > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" {
			errs = append(errs, fmt.Errorf("auth.tokens[%d].token is empty", i))
		}
		if _, err := auth.ParseRole(string(t.Role)); err != nil {
			errs = append(errs, fmt.Errorf("auth.tokens[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func envOrDefault(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
