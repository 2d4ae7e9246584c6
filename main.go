package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/markis/firehose/internal/args"
	"github.com/markis/firehose/internal/client"
	"github.com/markis/firehose/internal/config"
	"github.com/markis/firehose/internal/events"
	"github.com/markis/firehose/internal/logger"
	"github.com/markis/firehose/internal/metrics"
	"github.com/markis/firehose/internal/render"
	"github.com/markis/firehose/internal/stream"
)

// main function to parse arguments and follow the stream.
func main() {
	if err := run(); err != nil {
		if errors.Is(err, args.ErrHelpShown) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFile := os.Getenv("FIREHOSE_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := args.ParseArgs(ctx, *cfg, os.Args[1:])
	if err != nil {
		return err
	}

	log := logger.New(a.Debug)
	defer func() { _ = log.Sync() }()

	m := metrics.New()
	hub := stream.NewHub(
		events.WithLogger[stream.Category](log),
		events.WithFaultHandler[stream.Category](m.RecordFault),
	)
	p := stream.NewParser(hub, stream.WithReadSize(cfg.ReadSize))
	m.Attach(p)

	cfg.Render.Format = a.Format
	renderer, err := render.NewTerminalRenderer(os.Stdout, cfg.Render, log)
	if err != nil {
		return err
	}
	renderer.Attach(p)

	if a.Metrics != "" {
		go func() {
			if err := m.Serve(ctx, a.Metrics, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if a.Replay {
		log.Debug("replaying stream from stdin")
		if err := p.Process(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if rest := p.Buffered(); rest != "" {
			log.Warn("input ended inside a frame", zap.Int("bytes", len(rest)))
		}
		return nil
	}

	log.Debug("following stream", zap.String("path", a.Path), zap.String("params", a.Params.Encode()))
	return client.New(*cfg, log).Run(ctx, a.Path, a.Params, p)
}
