// Package app assembles the forecast pipeline and its collaborators from
// configuration. The API server, the SQS worker and the trainer all start
// from Open.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"aqiwatch/internal/alerts"
	"aqiwatch/internal/artifacts"
	"aqiwatch/internal/config"
	"aqiwatch/internal/core"
	"aqiwatch/internal/db"
	"aqiwatch/internal/external"
	"aqiwatch/internal/features"
	"aqiwatch/internal/notifications/email"
	"aqiwatch/internal/pipeline"
	"aqiwatch/internal/queue"
	"aqiwatch/internal/telemetry"
	"aqiwatch/internal/timeseries"
	"aqiwatch/internal/types"
)

// Metrics is the union of the measurement interfaces used across the app.
// Both *telemetry.CloudWatchMetrics and telemetry.Nop satisfy it.
type Metrics interface {
	pipeline.Metrics
	alerts.Metrics
	core.MetricsCollector
}

var (
	_ Metrics = (*telemetry.CloudWatchMetrics)(nil)
	_ Metrics = telemetry.Nop{}
)

// App holds the long-lived infrastructure shared by every entry point.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	AWS       aws.Config
	Pool      *pgxpool.Pool // nil when running on in-memory stores
	Store     timeseries.Store
	Builder   *features.Builder
	Artifacts artifacts.Store
	Metrics   Metrics

	sqs *sqs.Client
}

// NewLogger creates a JSON slog.Logger at the given level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Open connects the storage backends named by cfg. The caller owns the
// returned App and must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("app: load aws config: %w", err)
	}
	a.AWS = awsCfg

	if a.Builder, err = features.NewBuilder(cfg.Forecast.FeatureConfig()); err != nil {
		return nil, fmt.Errorf("app: feature builder: %w", err)
	}

	if cfg.Database.URL.Unmask() == "" {
		logger.Warn("DATABASE_URL is empty; observations and alert state are kept in memory")
		a.Store = timeseries.NewMemoryStore()
	} else {
		if a.Pool, err = OpenPool(ctx, cfg.Database); err != nil {
			return nil, err
		}
		a.Store = db.NewObservationRepository(a.Pool)
	}

	if a.Artifacts, err = a.newArtifactStore(); err != nil {
		a.Close()
		return nil, err
	}

	a.Metrics = telemetry.Nop{}
	if cfg.Observability.EnableMetrics {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		a.Metrics = telemetry.NewCloudWatchMetrics(cw, types.NewSlogLogger(logger)).
			WithNamespace(cfg.Observability.MetricNamespace)
	}
	return a, nil
}

// OpenPool creates and pings a pgx pool sized by cfg.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("app: parse database url: %w", err)
	}
	pc.MaxConns = int32(cfg.MaxConns)
	pc.MinConns = int32(cfg.MinConns)
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("app: create database pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: ping database: %w", err)
	}
	return pool, nil
}

func (a *App) newArtifactStore() (artifacts.Store, error) {
	cfg := a.Config.AWS
	switch cfg.ArtifactStore {
	case "memory":
		a.Logger.Warn("artifact store is in memory; trained models are lost on restart")
		return artifacts.NewMemoryStore(), nil
	case "s3":
		client := s3.NewFromConfig(a.AWS, func(o *s3.Options) {
			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
				o.UsePathStyle = true
			}
		})
		return artifacts.NewS3Store(client, artifacts.S3Config{
			Bucket: cfg.ArtifactBucket,
			Prefix: cfg.ArtifactPrefix,
			Logger: a.Logger,
		}), nil
	default:
		return artifacts.NewFileStore(cfg.ArtifactDir)
	}
}

// NewAlertManager builds the alert manager with the configured e-mail
// provider and alert state persistence.
func (a *App) NewAlertManager(ctx context.Context) (*alerts.Manager, error) {
	provider, err := a.newEmailProvider()
	if err != nil {
		return nil, err
	}
	loc, err := a.Config.Alert.TimeLocation()
	if err != nil {
		return nil, err
	}
	renderer, err := email.NewRenderer(a.Config.Email.Sender.Name, loc)
	if err != nil {
		return nil, fmt.Errorf("app: email renderer: %w", err)
	}
	notifier, err := email.NewNotifier(email.NotifierConfig{
		Provider: provider,
		Renderer: renderer,
		From:     a.Config.Email.Sender,
		Logger:   types.NewSlogLogger(a.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("app: email notifier: %w", err)
	}

	var state alerts.StateStore = alerts.NewMemoryStateStore()
	if a.Pool != nil {
		state = db.NewAlertStateRepository(a.Pool, a.Config.Alert.StateKey)
	}
	return alerts.NewManager(ctx, a.Config.Alert.ManagerConfig(), notifier, state,
		alerts.WithMetrics(a.Metrics),
		alerts.WithLogger(types.NewSlogLogger(a.Logger)),
	)
}

func (a *App) newEmailProvider() (external.EmailProvider, error) {
	cfg := a.Config.Email
	switch cfg.Provider {
	case "stub":
		return external.NewStubEmailProvider(a.Logger), nil
	case "ses":
		return external.NewSESClient(a.AWS, external.SESClientConfig{
			ConfigSetName: cfg.SESConfigSet,
			Logger:        a.Logger,
		}), nil
	case "sendgrid":
		return external.NewSendGridClient(&http.Client{Timeout: 15 * time.Second}, external.SendGridClientConfig{
			APIKey:    cfg.SendGridAPIKey,
			UserAgent: a.Config.Service + "/" + a.Config.Build.Version,
			Logger:    a.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown email provider %q", cfg.Provider)
	}
}

// NewPipeline builds the forecast pipeline together with its alert manager.
func (a *App) NewPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	mgr, err := a.NewAlertManager(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Store:     a.Store,
		Builder:   a.Builder,
		Alerter:   mgr,
		Artifacts: a.Artifacts,
		ModelName: a.Config.Forecast.ModelName,
		Metrics:   a.Metrics,
		Logger:    types.NewSlogLogger(a.Logger),
	})
}

// NewTrainer builds a trainer over the app's stores. pub may be nil.
func (a *App) NewTrainer(pub pipeline.Publisher) (*pipeline.Trainer, error) {
	return pipeline.NewTrainer(pipeline.TrainerConfig{
		Store:     a.Store,
		Builder:   a.Builder,
		Artifacts: a.Artifacts,
		Model:     a.Config.Forecast.ModelConfig(),
		ModelName: a.Config.Forecast.ModelName,
		Publisher: pub,
		Logger:    types.NewSlogLogger(a.Logger),
	})
}

// ObservationQueue returns a publisher for asynchronous ingestion, or nil
// when no queue is configured.
func (a *App) ObservationQueue() *queue.ObservationPublisher {
	if a.Config.AWS.ObservationQueueURL == "" {
		return nil
	}
	return queue.NewObservationPublisher(a.sqsClient(), a.Config.AWS.ObservationQueueURL, a.Logger)
}

func (a *App) sqsClient() *sqs.Client {
	if a.sqs == nil {
		a.sqs = sqs.NewFromConfig(a.AWS, func(o *sqs.Options) {
			if a.Config.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(a.Config.AWS.EndpointURL)
			}
		})
	}
	return a.sqs
}

// HealthProbes reports the backends that are actually configured.
func (a *App) HealthProbes() []core.HealthProbe {
	var probes []core.HealthProbe
	if a.Pool != nil {
		probes = append(probes, core.ProbeFunc{ProbeName: "database", Fn: a.Pool.Ping})
	}
	if p, ok := a.Artifacts.(artifacts.Pinger); ok {
		probes = append(probes, core.ProbeFunc{ProbeName: "artifacts", Fn: p.Ping})
	}
	if url := a.Config.AWS.ObservationQueueURL; url != "" {
		client := a.sqsClient()
		probes = append(probes, core.ProbeFunc{ProbeName: "queue", Fn: func(ctx context.Context) error {
			_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{QueueUrl: aws.String(url)})
			return err
		}})
	}
	return probes
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
