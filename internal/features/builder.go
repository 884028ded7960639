// Package features turns an ordered observation history into model input rows.
//
// Every row is computed from observations strictly earlier than its anchor.
// Training (BuildAll) and inference (Build) go through the same function, so
// a model never sees a column at predict time that was computed differently
// at fit time.
package features

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"aqiwatch/internal/types"
)

// Default feature parameters.
var (
	DefaultLags      = []time.Duration{1 * time.Hour, 2 * time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour, 24 * time.Hour}
	DefaultWindows   = []time.Duration{3 * time.Hour, 6 * time.Hour, 24 * time.Hour}
	DefaultTolerance = 30 * time.Minute
)

// Config selects the lag offsets, rolling windows and the tolerance used to
// match a lag to the nearest earlier observation.
type Config struct {
	Lags      []time.Duration
	Windows   []time.Duration
	Tolerance time.Duration
}

// DefaultConfig returns the standard hourly feature set.
func DefaultConfig() Config {
	return Config{
		Lags:      slices.Clone(DefaultLags),
		Windows:   slices.Clone(DefaultWindows),
		Tolerance: DefaultTolerance,
	}
}

// Builder computes FeatureVectors. It is immutable and safe for concurrent use.
type Builder struct {
	schema   *Schema
	lookback time.Duration
}

// NewBuilder validates cfg and returns a Builder for it.
func NewBuilder(cfg Config) (*Builder, error) {
	if len(cfg.Lags) == 0 {
		return nil, fmt.Errorf("features: at least one lag is required")
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("features: tolerance must not be negative, got %s", cfg.Tolerance)
	}
	lags := normalizeDurations(cfg.Lags)
	windows := normalizeDurations(cfg.Windows)
	if lags[0] <= 0 {
		return nil, fmt.Errorf("features: lags must be positive, got %s", lags[0])
	}
	if len(windows) > 0 && windows[0] <= 0 {
		return nil, fmt.Errorf("features: windows must be positive, got %s", windows[0])
	}

	schema := buildSchema(lags, windows, cfg.Tolerance)
	return &Builder{schema: &schema, lookback: schema.Lookback()}, nil
}

func normalizeDurations(in []time.Duration) []time.Duration {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// Schema returns the schema of every vector this builder produces.
func (b *Builder) Schema() Schema {
	return *b.schema
}

// Lookback is the minimum span of history required before an anchor.
func (b *Builder) Lookback() time.Duration {
	return b.lookback
}

// Build computes the feature vector anchored at history[anchorIndex].
// history must be ordered by ascending timestamp. Only observations with a
// timestamp strictly before the anchor are read.
func (b *Builder) Build(history []types.Observation, anchorIndex int) (FeatureVector, error) {
	if anchorIndex < 0 || anchorIndex >= len(history) {
		return FeatureVector{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidAnchor,
			"anchor index out of range",
			nil,
			map[string]any{"anchor_index": anchorIndex, "history_len": len(history)},
		)
	}
	anchor := history[anchorIndex].Timestamp
	return b.build(anchor, strictlyBefore(history[:anchorIndex], anchor))
}

// BuildAll computes one vector per observation that has enough history.
// Anchors whose lags or windows cannot be resolved are skipped.
func (b *Builder) BuildAll(history []types.Observation) []FeatureVector {
	out := make([]FeatureVector, 0, len(history))
	for i := range history {
		fv, err := b.Build(history, i)
		if err != nil {
			continue
		}
		out = append(out, fv)
	}
	return out
}

// Targets returns, for every vector, the observed AQI at anchor+h for each
// horizon. A target resolves to the latest observation at or before anchor+h
// within the builder's tolerance and strictly after the anchor; otherwise NaN.
func (b *Builder) Targets(history []types.Observation, vectors []FeatureVector, horizons []time.Duration) [][]float64 {
	tol := b.schema.Tolerance
	out := make([][]float64, len(vectors))
	for i, fv := range vectors {
		row := make([]float64, len(horizons))
		for j, h := range horizons {
			row[j] = math.NaN()
			obs, ok := latestWithin(history, fv.Anchor.Add(h), tol)
			if ok && obs.Timestamp.After(fv.Anchor) {
				row[j] = obs.AQI
			}
		}
		out[i] = row
	}
	return out
}

func (b *Builder) build(anchor time.Time, past []types.Observation) (FeatureVector, error) {
	s := b.schema
	if len(past) == 0 || anchor.Sub(past[0].Timestamp) < b.lookback {
		details := map[string]any{
			"anchor":   anchor,
			"lookback": b.lookback.String(),
		}
		if len(past) > 0 {
			details["available"] = anchor.Sub(past[0].Timestamp).String()
		}
		return FeatureVector{}, types.NewAppErrorWithDetails(
			types.ErrCodeInsufficientHistory, "history does not cover the feature lookback", nil, details)
	}

	values := make([]float64, 0, len(s.Names))

	var nearest types.Observation
	for i, lag := range s.Lags {
		obs, ok := latestWithin(past, anchor.Add(-lag), s.Tolerance)
		if !ok {
			return FeatureVector{}, insufficient(anchor, lagName("aqi", lag))
		}
		if i == 0 {
			nearest = obs
		}
		values = append(values, obs.AQI)
	}

	for _, w := range s.Windows {
		lo := sort.Search(len(past), func(i int) bool {
			return !past[i].Timestamp.Before(anchor.Add(-w))
		})
		window := past[lo:]
		if len(window) == 0 {
			return FeatureVector{}, insufficient(anchor, rollName("mean", w))
		}
		mean, std := meanStd(window)
		values = append(values, mean, std)
	}

	values = append(values, nearest.TemperatureC, nearest.HumidityPct)
	values = append(values, calendar(anchor)...)

	return FeatureVector{Anchor: anchor, Values: values, Schema: s}, nil
}

func insufficient(anchor time.Time, feature string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInsufficientHistory,
		"no observation within tolerance for "+feature,
		nil,
		map[string]any{"anchor": anchor, "feature": feature},
	)
}

// strictlyBefore trims sorted history to entries earlier than anchor. Entries
// inserted before the anchor observation but sharing its timestamp are dropped.
func strictlyBefore(history []types.Observation, anchor time.Time) []types.Observation {
	cut := sort.Search(len(history), func(i int) bool {
		return !history[i].Timestamp.Before(anchor)
	})
	return history[:cut]
}

// latestWithin returns the last observation with timestamp in [t-tol, t].
// Among equal timestamps the most recently inserted one wins.
func latestWithin(history []types.Observation, t time.Time, tol time.Duration) (types.Observation, bool) {
	i := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp.After(t)
	}) - 1
	if i < 0 || history[i].Timestamp.Before(t.Add(-tol)) {
		return types.Observation{}, false
	}
	return history[i], true
}

// meanStd returns the mean and population standard deviation of AQI.
func meanStd(obs []types.Observation) (float64, float64) {
	var sum float64
	for _, o := range obs {
		sum += o.AQI
	}
	mean := sum / float64(len(obs))
	var ss float64
	for _, o := range obs {
		d := o.AQI - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(obs)))
}

func calendar(anchor time.Time) []float64 {
	hour := float64(anchor.Hour())
	month := float64(anchor.Month() - 1)
	return []float64{
		hour,
		float64(anchor.Weekday()),
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
		math.Sin(2 * math.Pi * month / 12),
		math.Cos(2 * math.Pi * month / 12),
	}
}
