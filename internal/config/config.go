// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every runtime knob of the identity service.
type Config struct {
	Addr     string `env:"DESKHIVE_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"DESKHIVE_GRPC_ADDR"`

	// Empty DSN runs the service against the in-memory store (dev mode).
	DatabaseDSN string `env:"DESKHIVE_PG_DSN"`

	AuthSecret    string        `env:"DESKHIVE_AUTH_SECRET"`
	Issuer        string        `env:"DESKHIVE_TOKEN_ISSUER" envDefault:"deskhive"`
	AccessTTL     time.Duration `env:"DESKHIVE_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"DESKHIVE_REFRESH_TTL" envDefault:"336h"`
	InvitationTTL time.Duration `env:"DESKHIVE_INVITATION_TTL" envDefault:"168h"`
	SessionCap    int           `env:"DESKHIVE_SESSION_CAP" envDefault:"5"`

	SweepSchedule string `env:"DESKHIVE_SWEEP_SCHEDULE" envDefault:"@hourly"`

	RateLimitPerSecond int   `env:"DESKHIVE_RATE_LIMIT_PER_SECOND" envDefault:"20"`
	RateLimitBurst     int   `env:"DESKHIVE_RATE_LIMIT_BURST" envDefault:"40"`
	MaxBodyBytes       int64 `env:"DESKHIVE_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load parses configuration from DESKHIVE_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AuthSecret == "" {
		return Config{}, errors.New("DESKHIVE_AUTH_SECRET is required")
	}
	return cfg, nil
}
