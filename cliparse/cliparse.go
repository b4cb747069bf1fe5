// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultHeartbeatInterval applies when a Config leaves HeartbeatInterval unset.
const DefaultHeartbeatInterval = 30 * time.Second

type Config struct {
	Port              int           `env:"PORT" envDefault:"3318"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	DatabaseType      string        `env:"DATABASE_TYPE" envDefault:"sqlite"`
	OperatorKeySalt   string        `env:"OPERATOR_KEY_SALT"`
	PublicURL         string        `env:"PUBLIC_URL" envDefault:"http://localhost:3318"`
	QuorumThreshold   float64       `env:"QUORUM_THRESHOLD" envDefault:"50"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	RedisURL          string        `env:"REDIS_URL"`
	VoteRateLimit     float64       `env:"VOTE_RATE_LIMIT" envDefault:"5"`
	VoteRateBurst     int           `env:"VOTE_RATE_BURST" envDefault:"10"`
}

// LoadDotEnv loads variables from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseFlags reads the environment, then lets CLI flags override it.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("quickly-quorum", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", cfg.Port, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", cfg.DatabaseType, "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Base URL printed in QR voting links")
	fs.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for cross-instance broadcasts")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.OperatorKeySalt, "operator-salt", cfg.OperatorKeySalt, "Operator key salt (prefer env)")

	// Assembly rules
	fs.Float64Var(&cfg.QuorumThreshold, "quorum", cfg.QuorumThreshold, "Quorum threshold in percent of ideal fraction")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "Idle interval before a stream heartbeat")
	fs.Float64Var(&cfg.VoteRateLimit, "vote-rate", cfg.VoteRateLimit, "Vote submissions per second per client")
	fs.IntVar(&cfg.VoteRateBurst, "vote-burst", cfg.VoteRateBurst, "Vote submission burst per client")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	// Secrets - MUST be provided
	if cfg.OperatorKeySalt == "" {
		return Config{}, errors.New("OPERATOR_KEY_SALT required")
	}

	if cfg.QuorumThreshold <= 0 || cfg.QuorumThreshold > 100 {
		return Config{}, errors.New("quorum threshold must be in (0, 100]")
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, errors.New("heartbeat interval must be positive")
	}

	return cfg, nil
}
