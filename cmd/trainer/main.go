// Package main implements the trainer CLI. It fits a forecaster on stored
// observation history and saves it to the configured artifact store, where
// the API server and the forecast worker pick it up on their next reload.
//
// Usage:
//
//	go run ./cmd/trainer
//	go run ./cmd/trainer --lookback=2160h
//	go run ./cmd/trainer --from=2025-10-01T00:00:00Z --to=2026-01-01T00:00:00Z --backend=mlp
//
// Configuration comes from the same environment as the API server (or a
// .env file via godotenv). The result is printed as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aqiwatch/internal/app"
	"aqiwatch/internal/config"
	"aqiwatch/internal/pipeline"
)

// options are the parsed command-line flags.
type options struct {
	from     time.Time
	to       time.Time
	backend  string
	lookback time.Duration
}

// parseFlags parses args. Without --from the window starts lookback before
// --to, which defaults to now.
func parseFlags(args []string, now time.Time, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fromFlag := fs.String("from", "", "Start of the training window (RFC3339)")
	toFlag := fs.String("to", "", "End of the training window (RFC3339, default now)")
	backend := fs.String("backend", "", "Override MODEL_BACKEND (gbt or mlp)")
	lookback := fs.Duration("lookback", 90*24*time.Hour, "Window length when --from is not set")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{to: now.UTC(), backend: *backend, lookback: *lookback}
	if *toFlag != "" {
		t, err := time.Parse(time.RFC3339, *toFlag)
		if err != nil {
			return options{}, fmt.Errorf("invalid --to: %w", err)
		}
		opts.to = t.UTC()
	}
	if *fromFlag != "" {
		t, err := time.Parse(time.RFC3339, *fromFlag)
		if err != nil {
			return options{}, fmt.Errorf("invalid --from: %w", err)
		}
		opts.from = t.UTC()
	} else {
		if opts.lookback <= 0 {
			return options{}, fmt.Errorf("--lookback must be positive")
		}
		opts.from = opts.to.Add(-opts.lookback)
	}
	if !opts.from.Before(opts.to) {
		return options{}, fmt.Errorf("--from (%s) must be before --to (%s)",
			opts.from.Format(time.RFC3339), opts.to.Format(time.RFC3339))
	}
	switch opts.backend {
	case "", "gbt", "mlp":
	default:
		return options{}, fmt.Errorf("--backend must be gbt or mlp, got %q", opts.backend)
	}
	return opts, nil
}

// train runs the trainer over the window and writes the result as JSON.
func train(ctx context.Context, t *pipeline.Trainer, opts options, out io.Writer) error {
	res, err := t.Train(ctx, opts.from, opts.to)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, time.Now(), stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if opts.backend != "" {
		cfg.Forecast.Backend = opts.backend
	}

	logger := app.NewLogger(cfg.LogLevel).With("component", "trainer")
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.NewTrainer(nil)
	if err != nil {
		return err
	}
	logger.Info("training started",
		"from", opts.from,
		"to", opts.to,
		"backend", cfg.Forecast.Backend,
		"artifact_store", cfg.AWS.ArtifactStore,
	)
	return train(ctx, t, opts, stdout)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
