// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Command watch follows an assembly from a terminal: attendance, quorum
// and the results of the open agenda, refreshed from the live stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/danielhkuo/quickly-quorum/client"
	"github.com/danielhkuo/quickly-quorum/stream"
)

type config struct {
	BaseURL     string        `env:"QUORUM_URL" envDefault:"http://localhost:3318"`
	AssemblyID  string        `env:"QUORUM_ASSEMBLY_ID"`
	OperatorKey string        `env:"QUORUM_OPERATOR_KEY"`
	Transport   string        `env:"QUORUM_TRANSPORT" envDefault:"sse"`
	Refresh     time.Duration `env:"QUORUM_REFRESH" envDefault:"5s"`
}

func parseConfig(args []string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "API base URL")
	fs.StringVar(&cfg.AssemblyID, "a", cfg.AssemblyID, "Assembly ID")
	fs.StringVar(&cfg.OperatorKey, "k", cfg.OperatorKey, "Operator key (optional, shows attendance)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Live transport (sse or ws)")
	fs.DurationVar(&cfg.Refresh, "refresh", cfg.Refresh, "Polling interval alongside the stream")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.AssemblyID == "" {
		return config{}, errors.New("assembly ID required (use -a or QUORUM_ASSEMBLY_ID env)")
	}
	if cfg.Transport != "sse" && cfg.Transport != "ws" {
		return config{}, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if cfg.Refresh <= 0 {
		return config{}, errors.New("refresh interval must be positive")
	}
	return cfg, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("Error loading .env", "error", err)
		os.Exit(1)
	}

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	session := client.Session{BaseURL: cfg.BaseURL, OperatorKey: cfg.OperatorKey}
	api := client.NewAPI(session)

	var transport stream.Transport = &stream.SSETransport{BaseURL: cfg.BaseURL, Header: session.Header()}
	if cfg.Transport == "ws" {
		transport = &stream.WebSocketTransport{BaseURL: cfg.BaseURL, Header: session.Header()}
	}

	// Coalesces cache updates into one redraw.
	redraw := make(chan struct{}, 1)
	notify := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	view := client.NewView(api, cfg.AssemblyID,
		client.WithTransport(transport),
		client.WithPollInterval(cfg.Refresh),
		client.WithOnUpdate(func(string) { notify() }),
		client.WithOnStreamState(func(s stream.State) {
			slog.Info("stream", "state", s.String())
			notify()
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view.Start(ctx)
	defer view.Close()

	d := &dashboard{view: view, operator: cfg.OperatorKey != "", out: os.Stdout}
	notify()
	for {
		select {
		case <-ctx.Done():
			return
		case <-redraw:
			if err := d.render(ctx); err != nil {
				slog.Warn("refresh failed", "error", err)
			}
		}
	}
}
