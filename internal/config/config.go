// Package config loads the routingslip command configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Publisher kinds.
const (
	PublisherLog   = "log"
	PublisherRedis = "redis"
	PublisherNone  = "none"
)

// Config is the top-level configuration of the routingslip command.
type Config struct {
	// Engine contains execution settings.
	Engine EngineConfig `yaml:"engine"`

	// Store selects where slips are persisted.
	Store StoreConfig `yaml:"store"`

	// Publisher selects where lifecycle events go.
	Publisher PublisherConfig `yaml:"publisher"`

	// Log contains logger settings.
	Log LogConfig `yaml:"log"`
}

// EngineConfig contains engine settings.
type EngineConfig struct {
	ActivityTimeout     time.Duration `yaml:"activity_timeout"`
	CompensationTimeout time.Duration `yaml:"compensation_timeout"`
	Retry               RetryConfig   `yaml:"retry"`
	MaxConcurrentSlips  int           `yaml:"max_concurrent_slips"`
	Owner               string        `yaml:"owner"`
	LeaseTTL            time.Duration `yaml:"lease_ttl"`
	Interruptible       bool          `yaml:"interruptible_activities"`
}

// RetryConfig mirrors routingslip.RetryPolicy.
type RetryConfig struct {
	Limit       int           `yaml:"limit"`
	Interval    time.Duration `yaml:"interval"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Jitter      float64       `yaml:"jitter"`
}

// StoreConfig contains persistence settings.
type StoreConfig struct {
	Kind  string      `yaml:"kind"`
	Dir   string      `yaml:"dir"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains the Redis connection used by the redis store and
// publisher.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PublisherConfig contains event publishing settings.
type PublisherConfig struct {
	Kind    string `yaml:"kind"`
	Channel string `yaml:"channel"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	policy := routingslip.DefaultRetryPolicy()
	return Config{
		Engine: EngineConfig{
			ActivityTimeout:     30 * time.Second,
			CompensationTimeout: time.Minute,
			Retry: RetryConfig{
				Limit:       policy.Limit,
				Interval:    policy.Interval,
				Multiplier:  policy.Multiplier,
				MaxInterval: policy.MaxInterval,
				Jitter:      policy.Jitter,
			},
			MaxConcurrentSlips: 8,
			LeaseTTL:           30 * time.Second,
		},
		Store: StoreConfig{
			Kind: StoreFile,
			Dir:  ".routingslip",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "routingslip:",
			},
		},
		Publisher: PublisherConfig{
			Kind:    PublisherLog,
			Channel: "routingslip:events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration with priority: env > file > defaults. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	loadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("ROUTINGSLIP_STORE"); v != "" {
		cfg.Store.Kind = v
	}
	if v := os.Getenv("ROUTINGSLIP_STATE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("ROUTINGSLIP_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("ROUTINGSLIP_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("ROUTINGSLIP_PUBLISHER"); v != "" {
		cfg.Publisher.Kind = v
	}
	if v := os.Getenv("ROUTINGSLIP_OWNER"); v != "" {
		cfg.Engine.Owner = v
	}
	if v := os.Getenv("ROUTINGSLIP_ACTIVITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ActivityTimeout = d
		}
	}
	if v := os.Getenv("ROUTINGSLIP_RETRY_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Retry.Limit = i
		}
	}
	if v := os.Getenv("ROUTINGSLIP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks that the configuration is valid. Every problem is reported.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.Engine.ActivityTimeout < 0 {
		errs = multierror.Append(errs, errors.New("engine.activity_timeout must be >= 0"))
	}
	if c.Engine.CompensationTimeout < 0 {
		errs = multierror.Append(errs, errors.New("engine.compensation_timeout must be >= 0"))
	}
	if c.Engine.Retry.Limit < 0 {
		errs = multierror.Append(errs, errors.New("engine.retry.limit must be >= 0"))
	}
	if c.Engine.Retry.Jitter < 0 || c.Engine.Retry.Jitter > 1 {
		errs = multierror.Append(errs, errors.New("engine.retry.jitter must be between 0 and 1"))
	}
	if c.Engine.LeaseTTL <= 0 {
		errs = multierror.Append(errs, errors.New("engine.lease_ttl must be > 0"))
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if c.Store.Dir == "" {
			errs = multierror.Append(errs, errors.New("store.dir is required for the file store"))
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			errs = multierror.Append(errs, errors.New("store.redis.addr is required for the redis store"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("store.kind %q must be memory, file or redis", c.Store.Kind))
	}

	switch c.Publisher.Kind {
	case PublisherLog, PublisherNone:
	case PublisherRedis:
		if c.Store.Redis.Addr == "" {
			errs = multierror.Append(errs, errors.New("store.redis.addr is required for the redis publisher"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("publisher.kind %q must be log, redis or none", c.Publisher.Kind))
	}
	return errs.ErrorOrNil()
}

// RetryPolicy converts the retry settings.
func (c EngineConfig) RetryPolicy() routingslip.RetryPolicy {
	return routingslip.RetryPolicy{
		Limit:       c.Retry.Limit,
		Interval:    c.Retry.Interval,
		Multiplier:  c.Retry.Multiplier,
		MaxInterval: c.Retry.MaxInterval,
		Jitter:      c.Retry.Jitter,
	}
}

// Options converts the engine settings into engine options.
func (c EngineConfig) Options() []routingslip.Option {
	opts := []routingslip.Option{
		routingslip.WithRetryPolicy(c.RetryPolicy()),
		routingslip.WithActivityTimeout(c.ActivityTimeout),
		routingslip.WithCompensationTimeout(c.CompensationTimeout),
		routingslip.WithMaxConcurrentSlips(c.MaxConcurrentSlips),
		routingslip.WithLeaseTTL(c.LeaseTTL),
		routingslip.WithOwner(c.Owner),
	}
	if c.Interruptible {
		opts = append(opts, routingslip.WithInterruptibleActivities())
	}
	return opts
}
