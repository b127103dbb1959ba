package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
)

// fileConfig is the shape of the YAML configuration file.
type fileConfig struct {
	Log       logConfig        `yaml:"log"`
	Store     storeConfig      `yaml:"store"`
	HTTP      httpConfig       `yaml:"http"`
	Redis     redisConfig      `yaml:"redis"`
	Audit     bool             `yaml:"audit"`
	Metrics   bool             `yaml:"metrics"`
	Conductor conductor.Config `yaml:"conductor"`
}

type logConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

type storeConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// SkipMigrate disables schema migration on serve.
	SkipMigrate bool `yaml:"skip_migrate"`
}

type httpConfig struct {
	Addr            string        `yaml:"addr"`
	PollRate        float64       `yaml:"poll_rate"`
	PollBurst       int           `yaml:"poll_burst"`
	MaxWait         time.Duration `yaml:"max_wait"`
	TrustAnonymous  bool          `yaml:"trust_anonymous"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Events enables the server-sent event routes.
	Events bool `yaml:"events"`
}

type redisConfig struct {
	// Addr enables event publishing to Redis when set.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// Codec is json or msgpack.
	Codec string `yaml:"codec"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Log:   logConfig{Level: "info", Format: "text"},
		Store: storeConfig{Driver: "memory"},
		HTTP: httpConfig{
			Addr:            ":8080",
			PollRate:        10,
			PollBurst:       20,
			MaxWait:         time.Minute,
			ShutdownTimeout: 10 * time.Second,
			Events:          true,
		},
		Redis:     redisConfig{Prefix: "conductor", Codec: "json"},
		Metrics:   true,
		Conductor: conductor.DefaultConfig(),
	}
}

// loadConfig reads path over the defaults, then applies CONDUCTOR_*
// environment overrides. An empty path skips the file.
func loadConfig(path string, lookup func(string) (string, bool)) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

// applyEnv overlays CONDUCTOR_* variables.
func applyEnv(cfg *fileConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("CONDUCTOR_LOG_LEVEL", &cfg.Log.Level)
	str("CONDUCTOR_LOG_FORMAT", &cfg.Log.Format)
	str("CONDUCTOR_STORE_DRIVER", &cfg.Store.Driver)
	str("CONDUCTOR_STORE_DSN", &cfg.Store.DSN)
	str("CONDUCTOR_HTTP_ADDR", &cfg.HTTP.Addr)
	str("CONDUCTOR_REDIS_ADDR", &cfg.Redis.Addr)
	str("CONDUCTOR_REDIS_PASSWORD", &cfg.Redis.Password)
	str("CONDUCTOR_SWEEP_SCHEDULE", &cfg.Conductor.SweepSchedule)

	durations := map[string]*time.Duration{
		"CONDUCTOR_STALE_AGENT_TIMEOUT": &cfg.Conductor.StaleAgentTimeout,
		"CONDUCTOR_SWEEP_INTERVAL":      &cfg.Conductor.SweepInterval,
		"CONDUCTOR_RETRY_BASE_DELAY":    &cfg.Conductor.RetryBaseDelay,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := lookup("CONDUCTOR_DEFAULT_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONDUCTOR_DEFAULT_MAX_RETRIES: %w", err)
		}
		cfg.Conductor.DefaultMaxRetries = n
	}
	return nil
}

func (c fileConfig) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if n := c.Conductor.DefaultMaxRetries; n < 0 || n > job.MaxRetriesLimit {
		return fmt.Errorf("conductor.default_max_retries must be between 0 and %d", job.MaxRetriesLimit)
	}
	if c.Conductor.StaleAgentTimeout <= 0 {
		return errors.New("conductor.stale_agent_timeout must be positive")
	}
	return nil
}

// newLogger builds the process logger from the log section.
func newLogger(c logConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", c.Format)
	}
}
