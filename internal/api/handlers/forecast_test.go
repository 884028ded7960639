package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"aqiwatch/internal/alerts"
	"aqiwatch/internal/core"
	"aqiwatch/internal/pipeline"
	"aqiwatch/internal/types"
)

// --- Mocks ---

type mockPipeline struct {
	cycleResult pipeline.CycleResult
	cycleErr    error
	status      pipeline.Status
	forecast    *types.ForecastResult
	forecastErr error

	observed []types.Observation
	deadline bool
}

func (m *mockPipeline) RunForecastCycle(ctx context.Context, obs types.Observation) (pipeline.CycleResult, error) {
	m.observed = append(m.observed, obs)
	_, m.deadline = ctx.Deadline()
	return m.cycleResult, m.cycleErr
}

func (m *mockPipeline) GetCurrentStatus() pipeline.Status { return m.status }

func (m *mockPipeline) LatestForecast() (*types.ForecastResult, error) {
	return m.forecast, m.forecastErr
}

type mockQueue struct {
	published []types.Observation
	err       error
}

func (m *mockQueue) Publish(_ context.Context, obs types.Observation) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.published = append(m.published, obs)
	return "msg-1", nil
}

// --- Helpers ---

var anchor = time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

func newRouter(svc PipelineService, q ObservationQueue) http.Handler {
	h := NewForecastHandler(svc, q, core.NewValidator(), slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var env core.APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return env.Error
}

func forecast() *types.ForecastResult {
	return &types.ForecastResult{
		Anchor: anchor,
		Horizons: []types.HorizonForecast{
			types.NewHorizonForecast(anchor, time.Hour, 210),
			types.NewHorizonForecast(anchor, 24*time.Hour, 280),
			types.NewHorizonForecast(anchor, 72*time.Hour, 320),
		},
	}
}

// --- POST /v1/observations ---

func TestHandlePostObservation_Sync(t *testing.T) {
	sent := anchor
	svc := &mockPipeline{cycleResult: pipeline.CycleResult{
		CycleID:           "cyc-1",
		Observation:       types.Observation{Timestamp: anchor, AQI: 340, HumidityPct: 70},
		Forecast:          forecast(),
		ForecastAvailable: true,
		Alert: alerts.Outcome{
			Decision: alerts.DecisionDispatched,
			Hazard:   true,
			Trigger:  &alerts.Trigger{Source: "current", AQI: 340},
			State:    types.AlertState{Phase: types.AlertCooling, LastSentAt: &sent},
		},
	}}
	router := newRouter(svc, nil)

	rec := do(t, router, http.MethodPost, "/v1/observations",
		`{"timestamp":"2026-01-10T06:00:00Z","aqi":340,"temperature_c":9,"humidity_pct":70}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(svc.observed) != 1 || svc.observed[0].AQI != 340 {
		t.Fatalf("pipeline received %+v", svc.observed)
	}
	if !svc.deadline {
		t.Error("cycle context should carry the cycle timeout")
	}

	got := decodeData[CycleResponse](t, rec)
	if got.CycleID != "cyc-1" || got.Category != types.AQIHazardous {
		t.Errorf("response = %+v", got)
	}
	if !got.ForecastAvailable || len(got.Forecast.Horizons) != 3 || got.Forecast.Horizons[2].Label != "72h" {
		t.Errorf("forecast = %+v", got.Forecast)
	}
	if got.Alert.Decision != alerts.DecisionDispatched || got.Alert.State.LastSentAt == nil {
		t.Errorf("alert = %+v", got.Alert)
	}
}

func TestHandlePostObservation_DegradedIsStill200(t *testing.T) {
	svc := &mockPipeline{cycleResult: pipeline.CycleResult{
		CycleID:       "cyc-2",
		Observation:   types.Observation{Timestamp: anchor, AQI: 120},
		ForecastError: types.NewAppError(types.ErrCodeInsufficientHistory, "short", nil),
		Alert: alerts.Outcome{
			Decision: alerts.DecisionDispatchFailed,
			Err:      types.NewAppError(types.ErrCodeUpstreamNotifierDelivery, "smtp down", nil),
		},
	}}
	rec := do(t, newRouter(svc, nil), http.MethodPost, "/v1/observations",
		`{"timestamp":"2026-01-10T06:00:00Z","aqi":120,"humidity_pct":50}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeData[CycleResponse](t, rec)
	if got.ForecastAvailable || got.ForecastReason != "forecast_insufficient_history" {
		t.Errorf("forecast availability = %v/%q", got.ForecastAvailable, got.ForecastReason)
	}
	if got.Alert.Error != "upstream_notifier_delivery_failed" {
		t.Errorf("alert error = %q", got.Alert.Error)
	}
}

func TestHandlePostObservation_DerivesAQIFromPM(t *testing.T) {
	svc := &mockPipeline{}
	rec := do(t, newRouter(svc, nil), http.MethodPost, "/v1/observations",
		`{"timestamp":"2026-01-10T06:00:00Z","humidity_pct":60,"pollutants":{"pm2_5":35.4,"pm10":20}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	want := types.USAQI(35.4, 20)
	if len(svc.observed) != 1 || svc.observed[0].AQI != want {
		t.Errorf("derived AQI = %+v, want %v", svc.observed, want)
	}
	if want <= 50 {
		t.Errorf("PM2.5 of 35.4 should be above the good band, got %v", want)
	}
}

func TestHandlePostObservation_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		cycleErr   error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			path:       "/v1/observations",
			body:       `{"aqi":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_malformed_body",
		},
		{
			name:       "missing timestamp",
			path:       "/v1/observations",
			body:       `{"aqi":10,"humidity_pct":10}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_missing_required_field",
		},
		{
			name:       "humidity out of range",
			path:       "/v1/observations",
			body:       `{"timestamp":"2026-01-10T06:00:00Z","aqi":10,"humidity_pct":140}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_invalid_observation",
		},
		{
			name:       "no aqi and no pm",
			path:       "/v1/observations",
			body:       `{"timestamp":"2026-01-10T06:00:00Z","humidity_pct":10}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_missing_required_field",
		},
		{
			name:       "bad async flag",
			path:       "/v1/observations?async=maybe",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_malformed_body",
		},
		{
			name:       "schema mismatch",
			path:       "/v1/observations",
			body:       `{"timestamp":"2026-01-10T06:00:00Z","aqi":10,"humidity_pct":10}`,
			cycleErr:   types.NewAppError(types.ErrCodeInternalSchemaMismatch, "schema", nil),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_schema_mismatch",
		},
		{
			name:       "store failure is opaque",
			path:       "/v1/observations",
			body:       `{"timestamp":"2026-01-10T06:00:00Z","aqi":10,"humidity_pct":10}`,
			cycleErr:   errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_unexpected_error",
		},
		{
			name:       "async without queue",
			path:       "/v1/observations?async=true",
			body:       `{"timestamp":"2026-01-10T06:00:00Z","aqi":10,"humidity_pct":10}`,
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_queue_unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPipeline{cycleErr: tt.cycleErr}
			rec := do(t, newRouter(svc, nil), http.MethodPost, tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestHandlePostObservation_Async(t *testing.T) {
	svc := &mockPipeline{}
	q := &mockQueue{}
	rec := do(t, newRouter(svc, q), http.MethodPost, "/v1/observations?async=true",
		`{"timestamp":"2026-01-10T06:00:00Z","aqi":90,"humidity_pct":40}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeData[EnqueuedResponse](t, rec); got.MessageID != "msg-1" {
		t.Errorf("message id = %q", got.MessageID)
	}
	if len(q.published) != 1 || len(svc.observed) != 0 {
		t.Errorf("published %d, ran %d cycles; want 1 and 0", len(q.published), len(svc.observed))
	}

	q.err = types.NewAppError(types.ErrCodeUpstreamQueue, "sqs down", nil)
	rec = do(t, newRouter(svc, q), http.MethodPost, "/v1/observations?async=1",
		`{"timestamp":"2026-01-10T06:00:00Z","aqi":90,"humidity_pct":40}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

// --- GET /v1/status and /v1/forecast ---

func TestHandleGetStatus(t *testing.T) {
	aqi := 180.0
	svc := &mockPipeline{status: pipeline.Status{
		CurrentAQI:        &aqi,
		Category:          types.AQIUnhealthy,
		ForecastAvailable: false,
		ForecastReason:    "not_found_forecast",
		Alert:             types.AlertState{Phase: types.AlertArmed},
		Threshold:         300,
	}}
	rec := do(t, newRouter(svc, nil), http.MethodGet, "/v1/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeData[pipeline.Status](t, rec)
	if got.CurrentAQI == nil || *got.CurrentAQI != 180 || got.ForecastReason != "not_found_forecast" {
		t.Errorf("status = %+v", got)
	}
	if got.Alert.Phase != types.AlertArmed || got.Threshold != 300 {
		t.Errorf("alert = %+v threshold = %v", got.Alert, got.Threshold)
	}
}

func TestHandleGetForecast(t *testing.T) {
	rec := do(t, newRouter(&mockPipeline{forecast: forecast()}, nil), http.MethodGet, "/v1/forecast", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeData[types.ForecastResult](t, rec); len(got.Horizons) != 3 || got.Horizons[0].Label != "1h" {
		t.Errorf("forecast = %+v", got)
	}

	svc := &mockPipeline{forecastErr: types.NewAppErrorWithDetails(types.ErrCodeNotFoundForecast,
		"no forecast is available", nil, map[string]any{"reason": "forecast_insufficient_history"})}
	rec = do(t, newRouter(svc, nil), http.MethodGet, "/v1/forecast", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeError(t, rec); got.Details["reason"] != "forecast_insufficient_history" {
		t.Errorf("details = %v", got.Details)
	}
}
