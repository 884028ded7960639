package types

import (
	"fmt"
	"time"
)

// HorizonForecast is the predicted AQI at one offset from the anchor.
type HorizonForecast struct {
	Offset   time.Duration `json:"-"`
	Hours    float64       `json:"hours"`
	Label    string        `json:"label"`
	ValidAt  time.Time     `json:"valid_at"`
	AQI      float64       `json:"aqi"`
	Category AQICategory   `json:"category"`
}

// ForecastResult holds one prediction per configured horizon, ordered by
// ascending offset.
type ForecastResult struct {
	Anchor   time.Time         `json:"anchor"`
	ModelID  string            `json:"model_id,omitempty"`
	Horizons []HorizonForecast `json:"horizons"`
}

// Max returns the highest forecast AQI and the horizon that produced it.
// ok is false when the result holds no horizons.
func (r *ForecastResult) Max() (aqi float64, h HorizonForecast, ok bool) {
	if r == nil {
		return 0, HorizonForecast{}, false
	}
	for i, hf := range r.Horizons {
		if i == 0 || hf.AQI > aqi {
			aqi, h, ok = hf.AQI, hf, true
		}
	}
	return aqi, h, ok
}

// NewHorizonForecast fills the derived fields of a horizon prediction.
func NewHorizonForecast(anchor time.Time, offset time.Duration, aqi float64) HorizonForecast {
	return HorizonForecast{
		Offset:   offset,
		Hours:    offset.Hours(),
		Label:    DurationLabel(offset),
		ValidAt:  anchor.Add(offset),
		AQI:      aqi,
		Category: CategoryFor(aqi),
	}
}

// DurationLabel renders an offset compactly: whole hours as "24h", anything
// else in minutes ("90m").
func DurationLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int64(d/time.Minute))
}
