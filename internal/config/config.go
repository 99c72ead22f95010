package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
		// MaxBodyBytes caps request bodies; measured curves are the bulk of it
		MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"8388608"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		// WorkerCount bounds how many optimization jobs run at once
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"4"`
		// MaxJobs is how many jobs are retained for status queries
		MaxJobs int `env:"OPT_MAX_JOBS" envDefault:"100"`
		// JobTimeout cancels a job that runs longer; 0 disables it
		JobTimeout time.Duration `env:"OPT_JOB_TIMEOUT" envDefault:"10m"`
		// DefaultMaxEval and DefaultSeed fill requests that leave them unset
		DefaultMaxEval int   `env:"OPT_DEFAULT_MAXEVAL" envDefault:"20000"`
		DefaultSeed    int64 `env:"OPT_DEFAULT_SEED" envDefault:"0"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Verbose logs in development unless a level is set explicitly
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTP.Port)
	}
	if c.Optimization.WorkerCount < 1 {
		return fmt.Errorf("OPT_WORKER_COUNT must be at least 1, got %d", c.Optimization.WorkerCount)
	}
	if c.Optimization.MaxJobs < 1 {
		return fmt.Errorf("OPT_MAX_JOBS must be at least 1, got %d", c.Optimization.MaxJobs)
	}
	if c.Optimization.DefaultMaxEval < 1 {
		return fmt.Errorf("OPT_DEFAULT_MAXEVAL must be positive, got %d", c.Optimization.DefaultMaxEval)
	}
	if c.Optimization.JobTimeout < 0 {
		return fmt.Errorf("OPT_JOB_TIMEOUT must not be negative")
	}
	return nil
}
