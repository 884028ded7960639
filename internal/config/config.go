// Package config defines the process configuration for AQI Watch. It is
// loaded once at startup and treated as immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"aqiwatch/internal/types"
)

// SecretString is an alias for types.SecretString so secrets loaded here are
// redacted wherever they are logged.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the subset
// they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"aqiwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Forecast      ForecastConfig
	Alert         AlertConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	// CycleTimeout bounds one synchronous forecast cycle.
	CycleTimeout       time.Duration `envconfig:"CYCLE_TIMEOUT" default:"20s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters. An
// empty URL selects the in-memory observation and alert state stores.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	ArtifactBucket string `envconfig:"ARTIFACT_BUCKET" validate:"required_if=ArtifactStore s3"`
	ArtifactPrefix string `envconfig:"ARTIFACT_PREFIX" default:"models"`
	// ArtifactDir is the root directory for the file artifact store.
	ArtifactDir   string `envconfig:"ARTIFACT_DIR" default:"./artifacts" validate:"required_if=ArtifactStore file"`
	ArtifactStore string `envconfig:"ARTIFACT_STORE" default:"file" validate:"oneof=memory file s3"`

	// ObservationQueueURL receives observations posted with ?async=true.
	ObservationQueueURL string `envconfig:"SQS_OBSERVATIONS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig selects the e-mail provider and sender.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid ses stub"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SESConfigSet   string       `envconfig:"SES_CONFIGURATION_SET"`
	Sender         types.SenderIdentity
}

// ForecastConfig holds the feature set and model training parameters. The
// feature settings must match between the trainer and the serving process.
type ForecastConfig struct {
	Lags               []time.Duration `envconfig:"FEATURE_LAGS" default:"1h,2h,3h,6h,12h,24h" validate:"min=1,dive,gt=0"`
	Windows            []time.Duration `envconfig:"FEATURE_WINDOWS" default:"3h,6h,24h" validate:"dive,gt=0"`
	Tolerance          time.Duration   `envconfig:"FEATURE_TOLERANCE" default:"30m" validate:"gte=0"`
	Horizons           []time.Duration `envconfig:"FORECAST_HORIZONS" default:"1h,24h,72h" validate:"min=1,dive,gt=0"`
	Backend            string          `envconfig:"MODEL_BACKEND" default:"gbt" validate:"oneof=gbt mlp"`
	ModelName          string          `envconfig:"MODEL_NAME" default:"aqi-forecaster" validate:"required"`
	MinTrainingRows    int             `envconfig:"MODEL_MIN_TRAINING_ROWS" default:"48" validate:"gte=1"`
	ValidationFraction float64         `envconfig:"MODEL_VALIDATION_FRACTION" default:"0.2" validate:"gte=0,lt=1"`
	// ReloadInterval is how often cmd/api checks for a newer artifact; zero disables the job.
	ReloadInterval time.Duration `envconfig:"MODEL_RELOAD_INTERVAL" default:"15m" validate:"gte=0"`
}

// AlertConfig holds hazard alerting settings.
type AlertConfig struct {
	Threshold       float64       `envconfig:"ALERT_THRESHOLD" default:"300" validate:"gt=0"`
	Cooldown        time.Duration `envconfig:"ALERT_COOLDOWN" default:"6h" validate:"gt=0"`
	Recipient       string        `envconfig:"ALERT_RECIPIENT" validate:"required,email"`
	DispatchTimeout time.Duration `envconfig:"ALERT_DISPATCH_TIMEOUT" default:"10s" validate:"gt=0"`
	// StateKey identifies the persisted alert_state row.
	StateKey string `envconfig:"ALERT_STATE_KEY" default:"default" validate:"required"`
	// Location names the monitored point in alert messages.
	Location string `envconfig:"ALERT_LOCATION"`
	// Timezone is used for timestamps in alert messages.
	Timezone string `envconfig:"ALERT_TIMEZONE" default:"UTC" validate:"timezone"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"AQIWatch"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
