package features

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"aqiwatch/internal/types"
)

// Schema describes the ordered columns of a FeatureVector together with the
// parameters that produced them. A model may only be applied to vectors whose
// schema fingerprint equals the one it was fitted with.
type Schema struct {
	Names     []string        `json:"names"`
	Lags      []time.Duration `json:"lags"`
	Windows   []time.Duration `json:"windows"`
	Tolerance time.Duration   `json:"tolerance"`
}

// Fingerprint is a stable hash over every field of the schema.
func (s Schema) Fingerprint() string {
	var b strings.Builder
	b.WriteString("names=")
	b.WriteString(strings.Join(s.Names, ","))
	b.WriteString(";lags=")
	for _, l := range s.Lags {
		fmt.Fprintf(&b, "%d,", int64(l))
	}
	b.WriteString(";windows=")
	for _, w := range s.Windows {
		fmt.Fprintf(&b, "%d,", int64(w))
	}
	fmt.Fprintf(&b, ";tolerance=%d", int64(s.Tolerance))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Equal reports whether two schemas describe identical columns.
func (s Schema) Equal(o Schema) bool {
	return slices.Equal(s.Names, o.Names) &&
		slices.Equal(s.Lags, o.Lags) &&
		slices.Equal(s.Windows, o.Windows) &&
		s.Tolerance == o.Tolerance
}

// Index returns the column position of name, or -1.
func (s Schema) Index(name string) int {
	return slices.Index(s.Names, name)
}

// Lookback is the span of history that must precede an anchor.
func (s Schema) Lookback() time.Duration {
	var span time.Duration
	for _, l := range s.Lags {
		span = max(span, l)
	}
	for _, w := range s.Windows {
		span = max(span, w)
	}
	return span
}

// FeatureVector is one row of model input anchored at a point in time.
type FeatureVector struct {
	Anchor time.Time `json:"anchor"`
	Values []float64 `json:"values"`
	Schema *Schema   `json:"-"`
}

// Value returns the named feature, or false when it is not part of the schema.
func (v FeatureVector) Value(name string) (float64, bool) {
	if v.Schema == nil {
		return 0, false
	}
	i := v.Schema.Index(name)
	if i < 0 || i >= len(v.Values) {
		return 0, false
	}
	return v.Values[i], true
}

func lagName(prefix string, d time.Duration) string {
	return prefix + "_lag_" + types.DurationLabel(d)
}

func rollName(stat string, d time.Duration) string {
	return "aqi_roll_" + stat + "_" + types.DurationLabel(d)
}

// Calendar feature names.
const (
	FeatureHourOfDay = "hour_of_day"
	FeatureDayOfWeek = "day_of_week"
	FeatureHourSin   = "hour_sin"
	FeatureHourCos   = "hour_cos"
	FeatureMonthSin  = "month_sin"
	FeatureMonthCos  = "month_cos"
)

func buildSchema(lags, windows []time.Duration, tolerance time.Duration) Schema {
	names := make([]string, 0, len(lags)+2*len(windows)+8)
	for _, l := range lags {
		names = append(names, lagName("aqi", l))
	}
	for _, w := range windows {
		names = append(names, rollName("mean", w), rollName("std", w))
	}
	names = append(names,
		lagName("temperature", lags[0]),
		lagName("humidity", lags[0]),
		FeatureHourOfDay,
		FeatureDayOfWeek,
		FeatureHourSin,
		FeatureHourCos,
		FeatureMonthSin,
		FeatureMonthCos,
	)
	return Schema{
		Names:     names,
		Lags:      slices.Clone(lags),
		Windows:   slices.Clone(windows),
		Tolerance: tolerance,
	}
}
