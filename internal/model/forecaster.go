// Package model fits and applies multi-horizon AQI regressors.
//
// One regressor is trained per horizon (direct multi-output strategy). A
// fitted Forecaster is immutable; a new fit produces a new Forecaster.
package model

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"aqiwatch/internal/features"
	"aqiwatch/internal/types"
)

// DefaultHorizons are the offsets reported by default.
var DefaultHorizons = []time.Duration{1 * time.Hour, 24 * time.Hour, 72 * time.Hour}

// Config selects the backend and training parameters.
type Config struct {
	Backend            Backend
	Horizons           []time.Duration
	MinTrainingRows    int
	ValidationFraction float64
	// RefitOnFullData retrains on every row after holdout metrics are taken,
	// so the deployed regressor also learns from the most recent period.
	RefitOnFullData bool
	Concurrency     int
	GBT             GBTParams
	MLP             MLPParams
	Clock           types.Clock
}

// DefaultConfig returns the gradient boosting setup with a 20% holdout.
func DefaultConfig() Config {
	return Config{
		Backend:            BackendGBT,
		Horizons:           slices.Clone(DefaultHorizons),
		MinTrainingRows:    48,
		ValidationFraction: 0.2,
		RefitOnFullData:    true,
		GBT:                DefaultGBTParams(),
		MLP:                DefaultMLPParams(),
	}
}

func (c Config) validate() error {
	if !c.Backend.Valid() {
		return fmt.Errorf("model: unknown backend %q", c.Backend)
	}
	if len(c.Horizons) == 0 {
		return fmt.Errorf("model: at least one horizon is required")
	}
	seen := make(map[time.Duration]bool, len(c.Horizons))
	for _, h := range c.Horizons {
		if h <= 0 {
			return fmt.Errorf("model: horizons must be positive, got %s", h)
		}
		if seen[h] {
			return fmt.Errorf("model: duplicate horizon %s", h)
		}
		seen[h] = true
	}
	if c.MinTrainingRows < 1 {
		return fmt.Errorf("model: min training rows must be at least 1")
	}
	if c.ValidationFraction < 0 || c.ValidationFraction >= 1 {
		return fmt.Errorf("model: validation fraction must be in [0, 1), got %v", c.ValidationFraction)
	}
	return nil
}

type horizonModel struct {
	offset    time.Duration
	regressor Regressor
	metrics   Metrics
}

// Forecaster predicts AQI at every configured horizon from one feature vector.
type Forecaster struct {
	id          string
	name        string
	backend     Backend
	trainedAt   time.Time
	schema      features.Schema
	fingerprint string
	horizons    []horizonModel
}

// Fit trains one regressor per horizon. targets[i][j] is the AQI observed at
// vectors[i].Anchor + cfg.Horizons[j] (after sorting); NaN targets are
// skipped for that horizon only.
func Fit(ctx context.Context, cfg Config, vectors []features.FeatureVector, targets [][]float64) (*Forecaster, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInsufficientTrainingData,
			"no feature rows available", nil,
			map[string]any{"rows": 0, "minimum": cfg.MinTrainingRows})
	}
	if len(targets) != len(vectors) {
		return nil, fmt.Errorf("model: %d target rows for %d vectors", len(targets), len(vectors))
	}

	schema := vectors[0].Schema
	if schema == nil {
		return nil, fmt.Errorf("model: feature vectors carry no schema")
	}
	fp := schema.Fingerprint()
	for i, v := range vectors {
		if v.Schema == nil || (v.Schema != schema && v.Schema.Fingerprint() != fp) {
			return nil, schemaMismatch(fp, v.Schema, "row", i)
		}
		if len(v.Values) != len(schema.Names) {
			return nil, schemaMismatch(fp, v.Schema, "row", i)
		}
	}

	order := make([]int, len(cfg.Horizons))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(cfg.Horizons[a], cfg.Horizons[b])
	})

	type dataset struct {
		X [][]float64
		y []float64
	}
	sets := make([]dataset, len(order))
	for k, j := range order {
		var ds dataset
		for i, row := range targets {
			if j >= len(row) || math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				continue
			}
			ds.X = append(ds.X, vectors[i].Values)
			ds.y = append(ds.y, row[j])
		}
		if len(ds.y) < cfg.MinTrainingRows {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeInsufficientTrainingData,
				"not enough labelled rows for horizon "+types.DurationLabel(cfg.Horizons[j]), nil,
				map[string]any{
					"horizon": types.DurationLabel(cfg.Horizons[j]),
					"rows":    len(ds.y),
					"minimum": cfg.MinTrainingRows,
				})
		}
		sets[k] = ds
	}

	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	f := &Forecaster{
		backend:     cfg.Backend,
		trainedAt:   clock.Now().UTC(),
		schema:      *schema,
		fingerprint: fp,
		horizons:    make([]horizonModel, len(order)),
	}

	limit := cfg.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for k, j := range order {
		ds := sets[k]
		offset := cfg.Horizons[j]
		g.Go(func() error {
			hm, err := fitHorizon(gCtx, cfg, ds.X, ds.y)
			if err != nil {
				return fmt.Errorf("model: fit horizon %s: %w", types.DurationLabel(offset), err)
			}
			hm.offset = offset
			f.horizons[k] = hm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// fitHorizon holds out the most recent rows for metrics, then optionally
// refits on everything. Rows arrive in time order, so the split never lets
// the holdout precede the training data.
func fitHorizon(ctx context.Context, cfg Config, X [][]float64, y []float64) (horizonModel, error) {
	n := len(y)
	nVal := int(float64(n) * cfg.ValidationFraction)
	if n-nVal < 1 {
		nVal = 0
	}

	if nVal == 0 {
		reg, err := train(ctx, cfg, X, y)
		if err != nil {
			return horizonModel{}, err
		}
		return horizonModel{regressor: reg, metrics: Metrics{TrainRows: n}}, nil
	}

	split := n - nVal
	reg, err := train(ctx, cfg, X[:split], y[:split])
	if err != nil {
		return horizonModel{}, err
	}
	pred := make([]float64, nVal)
	for i := range pred {
		pred[i] = reg.Predict(X[split+i])
	}
	metrics := Evaluate(y[split:], pred)
	metrics.TrainRows = split

	if cfg.RefitOnFullData {
		reg, err = train(ctx, cfg, X, y)
		if err != nil {
			return horizonModel{}, err
		}
		metrics.TrainRows = n
	}
	return horizonModel{regressor: reg, metrics: metrics}, nil
}

// Predict returns one forecast per horizon in ascending order. Vectors built
// with a different schema are rejected with SchemaMismatch.
func (f *Forecaster) Predict(fv features.FeatureVector) (types.ForecastResult, error) {
	if fv.Schema == nil || fv.Schema.Fingerprint() != f.fingerprint || len(fv.Values) != len(f.schema.Names) {
		return types.ForecastResult{}, schemaMismatch(f.fingerprint, fv.Schema, "anchor", fv.Anchor)
	}

	res := types.ForecastResult{
		Anchor:   fv.Anchor,
		ModelID:  f.id,
		Horizons: make([]types.HorizonForecast, 0, len(f.horizons)),
	}
	for _, h := range f.horizons {
		v := h.regressor.Predict(fv.Values)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.ForecastResult{}, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
				"model produced a non-finite prediction", nil,
				map[string]any{"horizon": types.DurationLabel(h.offset)})
		}
		res.Horizons = append(res.Horizons, types.NewHorizonForecast(fv.Anchor, h.offset, math.Max(0, v)))
	}
	return res, nil
}

func schemaMismatch(expected string, got *features.Schema, key string, at any) error {
	details := map[string]any{"expected_schema": expected, key: at}
	if got != nil {
		details["actual_schema"] = got.Fingerprint()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeInternalSchemaMismatch,
		"feature schema does not match the model", nil, details)
}

// ID is the artifact identifier, empty until the forecaster is loaded from a store.
func (f *Forecaster) ID() string { return f.id }

func (f *Forecaster) Name() string            { return f.name }
func (f *Forecaster) Backend() Backend        { return f.backend }
func (f *Forecaster) TrainedAt() time.Time    { return f.trainedAt }
func (f *Forecaster) Schema() features.Schema { return f.schema }

// Horizons returns the forecast offsets in ascending order.
func (f *Forecaster) Horizons() []time.Duration {
	out := make([]time.Duration, len(f.horizons))
	for i, h := range f.horizons {
		out[i] = h.offset
	}
	return out
}

// Metadata summarizes a forecaster for status reporting.
type Metadata struct {
	ID                string           `json:"id,omitempty"`
	Name              string           `json:"name,omitempty"`
	Backend           Backend          `json:"backend"`
	TrainedAt         time.Time        `json:"trained_at"`
	SchemaFingerprint string           `json:"schema_fingerprint"`
	Horizons          []HorizonSummary `json:"horizons"`
}

// HorizonSummary pairs a horizon label with its holdout metrics.
type HorizonSummary struct {
	Label   string  `json:"label"`
	Metrics Metrics `json:"metrics"`
}

// Metadata returns a snapshot of the forecaster's descriptive fields.
func (f *Forecaster) Metadata() Metadata {
	md := Metadata{
		ID:                f.id,
		Name:              f.name,
		Backend:           f.backend,
		TrainedAt:         f.trainedAt,
		SchemaFingerprint: f.fingerprint,
		Horizons:          make([]HorizonSummary, len(f.horizons)),
	}
	for i, h := range f.horizons {
		md.Horizons[i] = HorizonSummary{Label: types.DurationLabel(h.offset), Metrics: h.metrics}
	}
	return md
}

// ValidationMAE averages holdout MAE across horizons; ok is false when no
// horizon had a holdout set.
func (f *Forecaster) ValidationMAE() (float64, bool) {
	var sum float64
	var n int
	for _, h := range f.horizons {
		if h.metrics.ValidationRows > 0 {
			sum += h.metrics.MAE
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
