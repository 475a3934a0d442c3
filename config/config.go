package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/GetStream/chat-render/render"
)

// EnvPrefix prefixes every environment override, e.g. RENDERD_HTTP_ADDR.
const EnvPrefix = "RENDERD_"

// Config holds the application configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Render   RenderConfig   `yaml:"render" envPrefix:"RENDER_"`
}

// HTTPConfig holds the API server configuration
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PostgresConfig holds the database configuration
type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// RedisConfig holds the cache configuration
type RedisConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json or text
}

// RenderConfig holds the rendering options
type RenderConfig struct {
	AllowMessageRetraction string `yaml:"allow_message_retraction" env:"ALLOW_MESSAGE_RETRACTION"`
	// GeoURIReplacement is a pointer so that an explicit empty value, which
	// disables geo URI rewriting, differs from an absent one.
	GeoURIReplacement *string       `yaml:"geouri_replacement" env:"GEOURI_REPLACEMENT"`
	TimeFormat        string        `yaml:"time_format" env:"TIME_FORMAT"`
	TimeZone          string        `yaml:"time_zone" env:"TIME_ZONE"`
	HookTimeout       time.Duration `yaml:"hook_timeout" env:"HOOK_TIMEOUT"`
	Concurrency       int           `yaml:"concurrency" env:"CONCURRENCY"`
}

// Load loads configuration from a YAML file and applies RENDERD_*
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Render.AllowMessageRetraction == "" {
		c.Render.AllowMessageRetraction = string(render.RetractAll)
	}
	if c.Render.GeoURIReplacement == nil {
		s := render.DefaultGeoURIReplacement
		c.Render.GeoURIReplacement = &s
	}
	if c.Render.TimeFormat == "" {
		c.Render.TimeFormat = "15:04"
	}
	if c.Render.TimeZone == "" {
		c.Render.TimeZone = "UTC"
	}
	if c.Render.HookTimeout == 0 {
		c.Render.HookTimeout = 2 * time.Second
	}
	if c.Render.Concurrency == 0 {
		c.Render.Concurrency = 4
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required (or set RENDERD_POSTGRES_DSN)"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required (or set RENDERD_REDIS_ADDR)"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.HTTP.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must not be negative"))
	}
	if _, err := c.Render.Options(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Options converts the configuration into renderer options.
func (c RenderConfig) Options() (render.Options, error) {
	policy, err := render.ParseRetractionPolicy(c.AllowMessageRetraction)
	if err != nil {
		return render.Options{}, fmt.Errorf("render.allow_message_retraction: %w", err)
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return render.Options{}, fmt.Errorf("render.time_zone: %w", err)
	}
	if c.HookTimeout < 0 {
		return render.Options{}, errors.New("render.hook_timeout must not be negative")
	}
	if c.Concurrency < 0 {
		return render.Options{}, errors.New("render.concurrency must not be negative")
	}
	var geo string
	if c.GeoURIReplacement != nil {
		geo = *c.GeoURIReplacement
	}
	return render.Options{
		AllowMessageRetraction: policy,
		GeoURIReplacement:      geo,
		TimeFormat:             c.TimeFormat,
		Location:               loc,
		HookTimeout:            c.HookTimeout,
		Concurrency:            c.Concurrency,
	}, nil
}
