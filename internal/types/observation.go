package types

import (
	"math"
	"time"
)

// Pollutants carries optional concentration readings (µg/m³, CO in mg/m³).
// A nil field means the sensor did not report that species.
type Pollutants struct {
	PM25 *float64 `json:"pm2_5,omitempty"`
	PM10 *float64 `json:"pm10,omitempty"`
	NO2  *float64 `json:"no2,omitempty"`
	SO2  *float64 `json:"so2,omitempty"`
	CO   *float64 `json:"co,omitempty"`
	O3   *float64 `json:"o3,omitempty"`
}

// Weather carries optional meteorological context beyond temperature and humidity.
type Weather struct {
	PressureHPa      *float64 `json:"pressure_hpa,omitempty"`
	WindSpeedMS      *float64 `json:"wind_speed_ms,omitempty"`
	WindDirectionDeg *float64 `json:"wind_direction_deg,omitempty"`
	CloudsPct        *float64 `json:"clouds_pct,omitempty"`
}

// Observation is a single measurement for the monitored location.
// Observations are immutable once appended to a store.
type Observation struct {
	Timestamp    time.Time  `json:"timestamp"`
	AQI          float64    `json:"aqi"`
	TemperatureC float64    `json:"temperature_c"`
	HumidityPct  float64    `json:"humidity_pct"`
	Pollutants   Pollutants `json:"pollutants"`
	Weather      Weather    `json:"weather"`
}

// Clone returns a deep copy that shares no pointers with o.
func (o Observation) Clone() Observation {
	o.Pollutants = Pollutants{
		PM25: cloneFloat(o.Pollutants.PM25),
		PM10: cloneFloat(o.Pollutants.PM10),
		NO2:  cloneFloat(o.Pollutants.NO2),
		SO2:  cloneFloat(o.Pollutants.SO2),
		CO:   cloneFloat(o.Pollutants.CO),
		O3:   cloneFloat(o.Pollutants.O3),
	}
	o.Weather = Weather{
		PressureHPa:      cloneFloat(o.Weather.PressureHPa),
		WindSpeedMS:      cloneFloat(o.Weather.WindSpeedMS),
		WindDirectionDeg: cloneFloat(o.Weather.WindDirectionDeg),
		CloudsPct:        cloneFloat(o.Weather.CloudsPct),
	}
	return o
}

// Normalized returns a deep copy with the timestamp in UTC truncated to the
// minute.
func (o Observation) Normalized() Observation {
	o = o.Clone()
	o.Timestamp = o.Timestamp.UTC().Truncate(time.Minute)
	return o
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Validate checks the observation's invariants.
func (o Observation) Validate() error {
	if o.Timestamp.IsZero() {
		return NewAppError(ErrCodeValidationInvalidTimestamp, "timestamp is required", nil)
	}
	if math.IsNaN(o.AQI) || math.IsInf(o.AQI, 0) || o.AQI < 0 {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidAQI, "aqi must be a finite non-negative number", nil,
			map[string]any{"aqi": o.AQI})
	}
	if math.IsNaN(o.HumidityPct) || o.HumidityPct < 0 || o.HumidityPct > 100 {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidHumidity, "humidity must be within [0, 100]", nil,
			map[string]any{"humidity_pct": o.HumidityPct})
	}
	if math.IsNaN(o.TemperatureC) || math.IsInf(o.TemperatureC, 0) {
		return NewAppError(ErrCodeValidationInvalidObservation, "temperature must be finite", nil)
	}
	return nil
}
