// Package pipeline wires the observation store, feature builder, forecaster
// and alert manager into one forecast cycle per observation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aqiwatch/internal/alerts"
	"aqiwatch/internal/artifacts"
	"aqiwatch/internal/features"
	"aqiwatch/internal/model"
	"aqiwatch/internal/timeseries"
	"aqiwatch/internal/types"
)

// DefaultModelName is the artifact name the pipeline reloads from.
const DefaultModelName = "aqi-forecaster"

// Alerter evaluates hazards. Implemented by *alerts.Manager.
type Alerter interface {
	Evaluate(ctx context.Context, currentAQI float64, forecast *types.ForecastResult, now time.Time) alerts.Outcome
	StateAt(now time.Time) types.AlertState
}

// Metrics receives cycle level measurements.
type Metrics interface {
	RecordCycle(ctx context.Context, outcome string)
	RecordForecastUnavailable(ctx context.Context, reason string)
	RecordForecastMax(ctx context.Context, aqi float64)
	RecordModelReload(ctx context.Context, outcome string)
}

// Cycle outcomes reported to Metrics.
const (
	OutcomeOK             = "ok"
	OutcomeDegraded       = "degraded"
	OutcomeSchemaMismatch = "schema_mismatch"
	OutcomeAppendFailed   = "append_failed"
)

// Config holds the pipeline's collaborators.
type Config struct {
	Store     timeseries.Store
	Builder   *features.Builder
	Alerter   Alerter
	Artifacts artifacts.Store // optional; required by ReloadModel
	ModelName string
	Metrics   Metrics
	Logger    types.Logger
	Clock     types.Clock
}

// Pipeline runs forecast cycles. It is safe for concurrent use; the active
// model is swapped atomically and never mutated.
type Pipeline struct {
	store     timeseries.Store
	builder   *features.Builder
	alerter   Alerter
	artifacts artifacts.Store
	modelName string
	metrics   Metrics
	logger    types.Logger
	clock     types.Clock

	model atomic.Pointer[model.Forecaster]

	mu   sync.RWMutex
	last *cycleSnapshot
}

type cycleSnapshot struct {
	at          time.Time
	observation types.Observation
	forecast    *types.ForecastResult
	forecastErr error
}

// New validates cfg and returns a Pipeline with no model loaded.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("pipeline: store is required")
	case cfg.Builder == nil:
		return nil, fmt.Errorf("pipeline: feature builder is required")
	case cfg.Alerter == nil:
		return nil, fmt.Errorf("pipeline: alerter is required")
	}
	p := &Pipeline{
		store:     cfg.Store,
		builder:   cfg.Builder,
		alerter:   cfg.Alerter,
		artifacts: cfg.Artifacts,
		modelName: cfg.ModelName,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}
	if p.modelName == "" {
		p.modelName = DefaultModelName
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	if p.logger == nil {
		p.logger = types.NopLogger{}
	}
	if p.clock == nil {
		p.clock = types.RealClock{}
	}
	return p, nil
}

// CycleResult reports one forecast cycle.
type CycleResult struct {
	CycleID           string                `json:"cycle_id"`
	Observation       types.Observation     `json:"observation"`
	Forecast          *types.ForecastResult `json:"forecast,omitempty"`
	ForecastAvailable bool                  `json:"forecast_available"`
	// ForecastError explains why Forecast is nil.
	ForecastError error          `json:"-"`
	Alert         alerts.Outcome `json:"alert"`
}

// RunForecastCycle appends obs, forecasts from the history ending at obs and
// evaluates alerts. A forecast failure degrades the cycle to alerting on the
// observed AQI alone; a schema mismatch is additionally returned as the
// cycle error after alerting. Append failures abort before anything else.
func (p *Pipeline) RunForecastCycle(ctx context.Context, obs types.Observation) (CycleResult, error) {
	cycleID := uuid.NewString()
	ctx = types.WithCycleID(ctx, cycleID)
	log := p.logger.With("cycle_id", cycleID)

	if err := p.store.Append(ctx, obs); err != nil {
		p.metrics.RecordCycle(ctx, OutcomeAppendFailed)
		log.Error("failed to append observation", "error", err.Error())
		return CycleResult{CycleID: cycleID}, err
	}
	obs = obs.Normalized()

	res := CycleResult{CycleID: cycleID, Observation: obs}
	res.Forecast, res.ForecastError = p.forecast(ctx, obs)
	res.ForecastAvailable = res.ForecastError == nil

	if res.ForecastAvailable {
		if maxAQI, _, ok := res.Forecast.Max(); ok {
			p.metrics.RecordForecastMax(ctx, maxAQI)
		}
	} else {
		p.metrics.RecordForecastUnavailable(ctx, unavailableReason(res.ForecastError))
		log.Warn("forecast unavailable; alerting on observed AQI only",
			"reason", unavailableReason(res.ForecastError), "error", res.ForecastError.Error())
	}

	res.Alert = p.alerter.Evaluate(ctx, obs.AQI, res.Forecast, obs.Timestamp)

	p.mu.Lock()
	p.last = &cycleSnapshot{
		at:          p.clock.Now(),
		observation: obs,
		forecast:    res.Forecast,
		forecastErr: res.ForecastError,
	}
	p.mu.Unlock()

	switch {
	case types.IsCode(res.ForecastError, types.ErrCodeInternalSchemaMismatch):
		p.metrics.RecordCycle(ctx, OutcomeSchemaMismatch)
		log.Error("feature schema does not match the loaded model", "error", res.ForecastError.Error())
		return res, res.ForecastError
	case res.ForecastError != nil:
		p.metrics.RecordCycle(ctx, OutcomeDegraded)
	default:
		p.metrics.RecordCycle(ctx, OutcomeOK)
	}

	log.Info("forecast cycle complete",
		"aqi", obs.AQI,
		"forecast_available", res.ForecastAvailable,
		"alert_decision", string(res.Alert.Decision))
	return res, nil
}

// forecast builds the feature vector anchored at obs and predicts.
func (p *Pipeline) forecast(ctx context.Context, obs types.Observation) (*types.ForecastResult, error) {
	f := p.model.Load()
	if f == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "no forecast model is loaded", nil)
	}

	// One extra hour keeps the window and lag edges inside the query.
	from := obs.Timestamp.Add(-p.builder.Lookback() - time.Hour)
	history, err := p.store.Query(ctx, from, obs.Timestamp)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, types.NewAppError(types.ErrCodeInsufficientHistory, "no history returned for the anchor", nil)
	}

	// Ties keep insertion order, so the observation just appended is last.
	fv, err := p.builder.Build(history, len(history)-1)
	if err != nil {
		return nil, err
	}
	res, err := f.Predict(fv)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func unavailableReason(err error) string {
	if code := types.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return string(types.ErrCodeInternalUnexpected)
}

// Status is the snapshot returned by GetCurrentStatus.
type Status struct {
	CurrentObservation *types.Observation    `json:"current_observation,omitempty"`
	CurrentAQI         *float64              `json:"current_aqi,omitempty"`
	Category           types.AQICategory     `json:"category,omitempty"`
	CategoryLabel      string                `json:"category_label,omitempty"`
	Recommendation     string                `json:"recommendation,omitempty"`
	Forecast           *types.ForecastResult `json:"forecast,omitempty"`
	ForecastAvailable  bool                  `json:"forecast_available"`
	ForecastReason     string                `json:"forecast_unavailable_reason,omitempty"`
	Alert              types.AlertState      `json:"alert"`
	Threshold          float64               `json:"hazard_threshold"`
	Model              *model.Metadata       `json:"model,omitempty"`
	LastCycleAt        *time.Time            `json:"last_cycle_at,omitempty"`
}

// GetCurrentStatus reports the latest cycle, the alert state and the active
// model. Before the first cycle only the alert state and model are set.
func (p *Pipeline) GetCurrentStatus() Status {
	now := p.clock.Now()
	st := Status{
		Alert:     p.alerter.StateAt(now),
		Threshold: types.HazardThreshold,
	}
	if th, ok := p.alerter.(interface{ Threshold() float64 }); ok {
		st.Threshold = th.Threshold()
	}
	if f := p.model.Load(); f != nil {
		md := f.Metadata()
		st.Model = &md
	}

	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()

	if last == nil {
		st.ForecastReason = string(types.ErrCodeNotFoundForecast)
		return st
	}

	obs := last.observation
	aqi := obs.AQI
	cat := types.CategoryFor(aqi)
	at := last.at
	st.CurrentObservation = &obs
	st.CurrentAQI = &aqi
	st.Category = cat
	st.CategoryLabel = cat.Label()
	st.Recommendation = cat.Recommendation()
	st.LastCycleAt = &at
	st.Forecast = last.forecast
	st.ForecastAvailable = last.forecastErr == nil
	if last.forecastErr != nil {
		st.ForecastReason = unavailableReason(last.forecastErr)
	}
	return st
}

// LatestForecast returns the forecast of the most recent cycle or a
// not-found error when it had none.
func (p *Pipeline) LatestForecast() (*types.ForecastResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil || p.last.forecast == nil {
		reason := string(types.ErrCodeNotFoundForecast)
		if p.last != nil {
			reason = unavailableReason(p.last.forecastErr)
		}
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundForecast,
			"no forecast is available", nil, map[string]any{"reason": reason})
	}
	return p.last.forecast, nil
}

// PublishModel atomically replaces the active forecaster. In-flight cycles
// finish with the model they started with.
func (p *Pipeline) PublishModel(f *model.Forecaster) {
	if f == nil {
		return
	}
	prev := p.model.Swap(f)
	args := []any{"backend", string(f.Backend()), "trained_at", f.TrainedAt()}
	if f.ID() != "" {
		args = append(args, "model_id", f.ID())
	}
	if prev != nil && prev.ID() != "" {
		args = append(args, "previous_model_id", prev.ID())
	}
	p.logger.Info("forecast model published", args...)
}

// Model returns the active forecaster or nil.
func (p *Pipeline) Model() *model.Forecaster {
	return p.model.Load()
}

// ReloadModel loads the latest artifact and publishes it. The active model is
// kept when loading fails, when the artifact is already active, or when its
// feature schema differs from the pipeline's builder.
func (p *Pipeline) ReloadModel(ctx context.Context) (bool, error) {
	if p.artifacts == nil {
		return false, fmt.Errorf("pipeline: no artifact store configured")
	}

	a, err := p.artifacts.Latest(ctx, p.modelName)
	if err != nil {
		p.metrics.RecordModelReload(ctx, "failed")
		return false, err
	}
	if cur := p.model.Load(); cur != nil && cur.ID() != "" && cur.ID() == a.ID {
		p.metrics.RecordModelReload(ctx, "unchanged")
		return false, nil
	}

	f, err := model.FromArtifact(a)
	if err != nil {
		p.metrics.RecordModelReload(ctx, "failed")
		return false, err
	}
	if want := p.builder.Schema(); !f.Schema().Equal(want) {
		p.metrics.RecordModelReload(ctx, "failed")
		return false, types.NewAppErrorWithDetails(types.ErrCodeInternalSchemaMismatch,
			"artifact feature schema does not match the configured builder", nil,
			map[string]any{
				"model_id":        a.ID,
				"expected_schema": want.Fingerprint(),
				"actual_schema":   a.SchemaFingerprint,
			})
	}

	p.PublishModel(f)
	p.metrics.RecordModelReload(ctx, "published")
	return true, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordCycle(context.Context, string)               {}
func (nopMetrics) RecordForecastUnavailable(context.Context, string) {}
func (nopMetrics) RecordForecastMax(context.Context, float64)        {}
func (nopMetrics) RecordModelReload(context.Context, string)         {}
