package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aqiwatch/internal/model"
)

// setMinimalEnv sets the variables without defaults for a local run.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("ALERT_RECIPIENT", "ops@example.com")
	t.Setenv("FROM_ADDRESS", "alerts@example.com")
	t.Setenv("EMAIL_PROVIDER", "stub")
}

func loadLocal(t *testing.T) (*Config, error) {
	t.Helper()
	return load(nil, osEnv())
}

func TestLoad_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := loadLocal(t)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Alert.Threshold != 300 {
		t.Errorf("Alert.Threshold = %v, want 300", cfg.Alert.Threshold)
	}
	if cfg.Alert.Cooldown != 6*time.Hour {
		t.Errorf("Alert.Cooldown = %s, want 6h", cfg.Alert.Cooldown)
	}
	wantLags := []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour, 24 * time.Hour}
	if len(cfg.Forecast.Lags) != len(wantLags) {
		t.Fatalf("Forecast.Lags = %v, want %v", cfg.Forecast.Lags, wantLags)
	}
	for i := range wantLags {
		if cfg.Forecast.Lags[i] != wantLags[i] {
			t.Errorf("Forecast.Lags[%d] = %s, want %s", i, cfg.Forecast.Lags[i], wantLags[i])
		}
	}
	if got := cfg.Forecast.Horizons; len(got) != 3 || got[2] != 72*time.Hour {
		t.Errorf("Forecast.Horizons = %v, want [1h 24h 72h]", got)
	}
	if cfg.Email.Sender.Name != "AQI Watch" {
		t.Errorf("Email.Sender.Name = %q, want %q", cfg.Email.Sender.Name, "AQI Watch")
	}
	if cfg.AWS.ArtifactStore != "file" {
		t.Errorf("AWS.ArtifactStore = %q, want file", cfg.AWS.ArtifactStore)
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q, want dev", cfg.Build.Version)
	}
	if time.Local != time.UTC {
		t.Error("load() should pin time.Local to UTC")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("ALERT_THRESHOLD", "250")
	t.Setenv("ALERT_COOLDOWN", "3h")
	t.Setenv("FEATURE_LAGS", "1h,24h")
	t.Setenv("MODEL_BACKEND", "mlp")
	t.Setenv("ALERT_TIMEZONE", "Asia/Karachi")

	cfg, err := loadLocal(t)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Alert.Threshold != 250 || cfg.Alert.Cooldown != 3*time.Hour {
		t.Errorf("alert overrides not applied: %+v", cfg.Alert)
	}
	if len(cfg.Forecast.Lags) != 2 || cfg.Forecast.Lags[1] != 24*time.Hour {
		t.Errorf("Forecast.Lags = %v, want [1h 24h]", cfg.Forecast.Lags)
	}
	if mc := cfg.Forecast.ModelConfig(); mc.Backend != model.BackendMLP {
		t.Errorf("ModelConfig().Backend = %q, want mlp", mc.Backend)
	}
	loc, err := cfg.Alert.TimeLocation()
	if err != nil || loc.String() != "Asia/Karachi" {
		t.Errorf("TimeLocation() = %v, %v", loc, err)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad environment", "APP_ENV", "qa"},
		{"missing recipient", "ALERT_RECIPIENT", ""},
		{"recipient not an email", "ALERT_RECIPIENT", "ops"},
		{"unknown backend", "MODEL_BACKEND", "forest"},
		{"zero cooldown", "ALERT_COOLDOWN", "0s"},
		{"negative threshold", "ALERT_THRESHOLD", "-1"},
		{"validation fraction", "MODEL_VALIDATION_FRACTION", "1"},
		{"sendgrid without key", "EMAIL_PROVIDER", "sendgrid"},
		{"s3 without bucket", "ARTIFACT_STORE", "s3"},
		{"unknown timezone", "ALERT_TIMEZONE", "Mars/Olympus"},
		{"bad queue url", "SQS_OBSERVATIONS", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := load(nil, osEnv())
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("load() error = %v, want *ConfigError", err)
			}
			if cfgErr.Type != ErrValidation {
				t.Errorf("ConfigError.Type = %s, want %s", cfgErr.Type, ErrValidation)
			}
		})
	}
}

func TestLoad_ParsingFailure(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("ALERT_COOLDOWN", "six hours")

	_, err := loadLocal(t)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrParsing {
		t.Fatalf("load() error = %v, want parsing ConfigError", err)
	}
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("PORT", "9090")
	// Registered for cleanup so the dotenv value does not leak into other tests.
	t.Setenv("ALERT_LOCATION", "")
	os.Unsetenv("ALERT_LOCATION")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PORT=7070\nALERT_LOCATION=Lahore\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(nil, osEnv(), path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want the environment value 9090", cfg.Server.Port)
	}
	if cfg.Alert.Location != "Lahore" {
		t.Errorf("Alert.Location = %q, want the dotenv value Lahore", cfg.Alert.Location)
	}
}

func TestConversions(t *testing.T) {
	fc := ForecastConfig{
		Lags:               []time.Duration{time.Hour},
		Windows:            []time.Duration{3 * time.Hour},
		Tolerance:          10 * time.Minute,
		Horizons:           []time.Duration{time.Hour, 24 * time.Hour},
		Backend:            "gbt",
		MinTrainingRows:    10,
		ValidationFraction: 0.1,
	}
	feat := fc.FeatureConfig()
	if feat.Tolerance != 10*time.Minute || len(feat.Lags) != 1 {
		t.Errorf("FeatureConfig() = %+v", feat)
	}
	mc := fc.ModelConfig()
	if mc.MinTrainingRows != 10 || mc.ValidationFraction != 0.1 || len(mc.Horizons) != 2 {
		t.Errorf("ModelConfig() = %+v", mc)
	}
	if mc.GBT != model.DefaultGBTParams() {
		t.Errorf("ModelConfig() should keep default GBT params, got %+v", mc.GBT)
	}

	ac := AlertConfig{Threshold: 300, Cooldown: 6 * time.Hour, Recipient: "a@b.co", DispatchTimeout: time.Second, Location: "Lahore"}
	mgr := ac.ManagerConfig()
	if mgr.Recipient != "a@b.co" || mgr.Location != "Lahore" || mgr.Cooldown != 6*time.Hour {
		t.Errorf("ManagerConfig() = %+v", mgr)
	}
	if loc, err := ac.TimeLocation(); err != nil || loc != time.UTC {
		t.Errorf("TimeLocation() with empty timezone = %v, %v; want UTC", loc, err)
	}
}

func TestSecretStringRedaction(t *testing.T) {
	s := SecretString("SG.live-key")
	if s.String() != "***REDACTED***" {
		t.Errorf("String() = %q", s.String())
	}
	if s.Unmask() != "SG.live-key" {
		t.Errorf("Unmask() = %q", s.Unmask())
	}
}
