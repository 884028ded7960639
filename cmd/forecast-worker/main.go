// Package main is the entrypoint for the forecast worker Lambda function.
//
// The worker consumes observation messages enqueued by POST
// /v1/observations?async=true and runs one forecast cycle per message.
//
// Cold start (main):
//  1. Load configuration (SSM secrets outside local).
//  2. Open the stores and build the pipeline with its alert manager.
//  3. Load the latest model artifact.
//  4. Register the handler and call lambda.Start.
//
// Per message: decode, run the cycle, and report the message as a batch item
// failure only when a retry can succeed. Malformed messages and cycles that
// already stored the observation are acknowledged so a redelivery never
// appends the same observation twice.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"aqiwatch/internal/app"
	"aqiwatch/internal/config"
	"aqiwatch/internal/pipeline"
	"aqiwatch/internal/queue"
	"aqiwatch/internal/types"
)

// CycleRunner is the part of *pipeline.Pipeline the worker uses.
type CycleRunner interface {
	RunForecastCycle(ctx context.Context, obs types.Observation) (pipeline.CycleResult, error)
	ReloadModel(ctx context.Context) (bool, error)
}

// Handler holds the dependencies for the worker Lambda handler.
type Handler struct {
	runner         CycleRunner
	logger         *slog.Logger
	reloadInterval time.Duration
	now            func() time.Time

	mu         sync.Mutex
	lastReload time.Time
}

// NewHandler creates a Handler. A positive reloadInterval makes warm
// invocations pick up newly saved models.
func NewHandler(runner CycleRunner, reloadInterval time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		runner:         runner,
		logger:         logger,
		reloadInterval: reloadInterval,
		now:            time.Now,
	}
}

// Handle processes an SQS event. Lambda SQS integration uses partial batch
// responses: only messages listed in BatchItemFailures are redelivered.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	h.maybeReload(ctx)

	response := events.SQSEventResponse{}
	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}
	return response, nil
}

// processMessage returns an error only for failures worth retrying.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeObservationMessage(record.Body)
	if err != nil {
		h.logger.Error("dropping malformed observation message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"observation_message_id", msg.MessageID,
		"request_id", msg.RequestID,
		"observed_at", msg.Observation.Timestamp,
	)
	if !msg.EnqueuedAt.IsZero() {
		logger = logger.With("queue_lag_ms", h.now().Sub(msg.EnqueuedAt).Milliseconds())
	}

	if msg.RequestID != "" {
		ctx = types.WithRequestID(ctx, msg.RequestID)
	}
	res, err := h.runner.RunForecastCycle(ctx, msg.Observation)
	if err != nil {
		if !retryable(err) {
			logger.Error("forecast cycle failed permanently; acknowledging",
				"cycle_id", res.CycleID,
				"error", err.Error(),
			)
			return nil
		}
		return fmt.Errorf("cycle %s: %w", res.CycleID, err)
	}

	logger.Info("observation processed",
		"cycle_id", res.CycleID,
		"forecast_available", res.ForecastAvailable,
		"alert_decision", string(res.Alert.Decision),
	)
	return nil
}

// retryable reports whether redelivering the message can succeed. Invalid
// observations never will, and a schema mismatch is only returned after
// the observation was stored.
func retryable(err error) bool {
	code := types.CodeOf(err)
	if strings.HasPrefix(string(code), "validation_") {
		return false
	}
	return code != types.ErrCodeInternalSchemaMismatch
}

func (h *Handler) maybeReload(ctx context.Context) {
	if h.reloadInterval <= 0 {
		return
	}
	h.mu.Lock()
	due := h.now().Sub(h.lastReload) >= h.reloadInterval
	if due {
		h.lastReload = h.now()
	}
	h.mu.Unlock()
	if !due {
		return
	}
	if _, err := h.runner.ReloadModel(ctx); err != nil && !types.IsCode(err, types.ErrCodeNotFoundArtifact) {
		h.logger.Warn("model reload failed; keeping current model", "error", err.Error())
	}
}

func main() {
	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel).With("component", "forecast-worker")

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	p, err := a.NewPipeline(ctx)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	h := NewHandler(p, cfg.Forecast.ReloadInterval, logger)
	logger.Info("forecast worker initialized",
		"version", cfg.Build.Version,
		"model_name", cfg.Forecast.ModelName,
	)
	lambda.Start(h.Handle)
}
