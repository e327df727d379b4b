package core

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings read from the environment.
type Config struct {
	APIBaseURL    string `env:"PORTAL_API_URL" envDefault:"http://localhost:9000/api"`
	Session       string `env:"PORTAL_SESSION"`
	SessionCookie string `env:"PORTAL_SESSION_COOKIE" envDefault:"session"`
	Batch         string `env:"PORTAL_BATCH"`

	CacheDir     string `env:"PORTAL_CACHE_DIR"`
	CacheBackend string `env:"PORTAL_CACHE_BACKEND" envDefault:"filesystem"`

	RequestTimeout   time.Duration `env:"PORTAL_REQUEST_TIMEOUT" envDefault:"8s"`
	DayOrderTimeout  time.Duration `env:"PORTAL_DAYORDER_TIMEOUT" envDefault:"5s"`
	DayOrderAttempts int           `env:"PORTAL_DAYORDER_ATTEMPTS" envDefault:"2"`

	GapFillBatch  int `env:"PORTAL_GAPFILL_BATCH" envDefault:"2"`
	GapFillWindow int `env:"PORTAL_GAPFILL_WINDOW" envDefault:"3"`

	TTL TTLConfig `envPrefix:"PORTAL_TTL_"`
}

// TTLConfig holds per-resource cache lifetimes.
type TTLConfig struct {
	Attendance time.Duration `env:"ATTENDANCE" envDefault:"30m"`
	Calendar   time.Duration `env:"CALENDAR" envDefault:"24h"`
	Timetable  time.Duration `env:"TIMETABLE" envDefault:"24h"`
	UserInfo   time.Duration `env:"USERINFO" envDefault:"24h"`
	Documents  time.Duration `env:"DOCUMENTS" envDefault:"6h"`
}

// LoadConfig parses Config from the environment and fills derived defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config and applies defaults that depend on the host.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		c.CacheDir = CacheRoot()
	}
	switch c.CacheBackend {
	case BackendFilesystem, BackendSQLite:
	default:
		return fmt.Errorf("unknown cache backend %q (want %s or %s)", c.CacheBackend, BackendFilesystem, BackendSQLite)
	}
	if c.DayOrderAttempts < 1 {
		c.DayOrderAttempts = 1
	}
	if c.GapFillBatch < 0 {
		c.GapFillBatch = 0
	}
	return nil
}
