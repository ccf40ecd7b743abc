package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"taskmill/internal/worker"
)

// Config is the process configuration, loaded from the environment with an
// optional .env file for local development.
type Config struct {
	Addr              string        `env:"TASKMILL_ADDR" envDefault:":8080"`
	DBPath            string        `env:"TASKMILL_DB" envDefault:"taskmill.db"`
	Workers           int           `env:"TASKMILL_WORKERS" envDefault:"4"`
	SchedulerInterval time.Duration `env:"TASKMILL_SCHEDULER_INTERVAL" envDefault:"10s"`

	SleepPeriod    time.Duration `env:"TASKMILL_SLEEP_PERIOD" envDefault:"5s"`
	MinSleepPeriod time.Duration `env:"TASKMILL_MIN_SLEEP_PERIOD" envDefault:"5s"`
	MaxSleepPeriod time.Duration `env:"TASKMILL_MAX_SLEEP_PERIOD" envDefault:"15s"`
	SleepStep      time.Duration `env:"TASKMILL_SLEEP_STEP" envDefault:"5s"`

	Retention        string        `env:"TASKMILL_RETENTION" envDefault:"remove_all"`
	VisibilityWindow time.Duration `env:"TASKMILL_VISIBILITY_WINDOW" envDefault:"5m"`
	Debug            bool          `env:"TASKMILL_DEBUG" envDefault:"false"`
}

// Load reads the environment (plus .env when present) and validates the
// backoff invariants: min <= current <= max, step > 0.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.SleepStep <= 0 {
		return Config{}, fmt.Errorf("sleep step must be positive, got %v", cfg.SleepStep)
	}
	if cfg.MinSleepPeriod > cfg.SleepPeriod || cfg.SleepPeriod > cfg.MaxSleepPeriod {
		return Config{}, fmt.Errorf("sleep periods must satisfy min <= current <= max, got %v/%v/%v",
			cfg.MinSleepPeriod, cfg.SleepPeriod, cfg.MaxSleepPeriod)
	}
	if _, err := cfg.RetentionMode(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) SleepParams() worker.SleepParams {
	return worker.SleepParams{
		Current: c.SleepPeriod,
		Min:     c.MinSleepPeriod,
		Max:     c.MaxSleepPeriod,
		Step:    c.SleepStep,
	}
}

func (c Config) RetentionMode() (worker.RetentionMode, error) {
	switch c.Retention {
	case "remove_all", "":
		return worker.RetentionRemoveAll, nil
	case "keep_all":
		return worker.RetentionKeepAll, nil
	case "remove_finished":
		return worker.RetentionRemoveFinished, nil
	default:
		return 0, fmt.Errorf("unknown retention mode %q", c.Retention)
	}
}
