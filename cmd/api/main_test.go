package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"aqiwatch/internal/app"
	"aqiwatch/internal/config"
	"aqiwatch/internal/core"
)

// buildTestServer wires the production server on in-memory stores and the
// stub e-mail provider.
func buildTestServer(t *testing.T) *core.Server {
	t.Helper()
	setTestEnv(t)

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(a.Close)

	p, err := a.NewPipeline(ctx)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	loadInitialModel(ctx, p, logger)

	srv, err := newServer(cfg, logger, a, p)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: got status %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("GET /health: got status=%v, want 'healthy'", resp["status"])
	}
}

// TestObservationWithoutModel runs a real cycle before any model is trained:
// the response is degraded but successful and the status reflects it.
func TestObservationWithoutModel(t *testing.T) {
	srv := buildTestServer(t)

	body := `{"timestamp":"2026-01-10T06:00:00Z","aqi":120,"temperature_c":8,"humidity_pct":60}`
	req := httptest.NewRequest(http.MethodPost, "/v1/observations", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/observations: got %d; body: %s", rec.Code, rec.Body.String())
	}
	var cycle struct {
		Data struct {
			ForecastAvailable bool   `json:"forecast_available"`
			ForecastReason    string `json:"forecast_unavailable_reason"`
			Alert             struct {
				Decision string `json:"decision"`
			} `json:"alert"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cycle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cycle.Data.ForecastAvailable || cycle.Data.ForecastReason != "not_found_forecast" {
		t.Errorf("forecast = %v/%q, want unavailable/not_found_forecast",
			cycle.Data.ForecastAvailable, cycle.Data.ForecastReason)
	}
	if cycle.Data.Alert.Decision != "no_hazard" {
		t.Errorf("alert decision = %q, want no_hazard", cycle.Data.Alert.Decision)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/status: got %d", rec.Code)
	}
	var status struct {
		Data struct {
			CurrentAQI *float64 `json:"current_aqi"`
			Threshold  float64  `json:"hazard_threshold"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Data.CurrentAQI == nil || *status.Data.CurrentAQI != 120 {
		t.Errorf("current_aqi = %v, want 120", status.Data.CurrentAQI)
	}
	if status.Data.Threshold != 250 {
		t.Errorf("hazard_threshold = %v, want the configured 250", status.Data.Threshold)
	}
}

func TestAsyncWithoutQueueIsRejected(t *testing.T) {
	srv := buildTestServer(t)

	body := `{"timestamp":"2026-01-10T06:00:00Z","aqi":120,"humidity_pct":60}`
	req := httptest.NewRequest(http.MethodPost, "/v1/observations?async=true", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("got %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

// setTestEnv sets the minimal local environment: in-memory stores, no
// metrics, stub e-mail.
func setTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQS_OBSERVATIONS", "")
	t.Setenv("ARTIFACT_STORE", "memory")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("EMAIL_PROVIDER", "stub")
	t.Setenv("FROM_ADDRESS", "alerts@example.com")
	t.Setenv("ALERT_RECIPIENT", "ops@example.com")
	t.Setenv("ALERT_THRESHOLD", "250")
	t.Setenv("MODEL_RELOAD_INTERVAL", "0")
}
