package types

import "math"

// HazardThreshold is the AQI at or above which conditions are hazardous.
const HazardThreshold = 300.0

// AQICategory is the US EPA descriptive band for an AQI value.
type AQICategory string

const (
	AQIGood               AQICategory = "good"
	AQIModerate           AQICategory = "moderate"
	AQIUnhealthySensitive AQICategory = "unhealthy_for_sensitive_groups"
	AQIUnhealthy          AQICategory = "unhealthy"
	AQIVeryUnhealthy      AQICategory = "very_unhealthy"
	AQIHazardous          AQICategory = "hazardous"
)

// CategoryFor returns the band containing aqi. Values above 300 are Hazardous.
func CategoryFor(aqi float64) AQICategory {
	switch {
	case aqi <= 50:
		return AQIGood
	case aqi <= 100:
		return AQIModerate
	case aqi <= 150:
		return AQIUnhealthySensitive
	case aqi <= 200:
		return AQIUnhealthy
	case aqi <= 300:
		return AQIVeryUnhealthy
	default:
		return AQIHazardous
	}
}

// Label returns the human-readable category name.
func (c AQICategory) Label() string {
	switch c {
	case AQIGood:
		return "Good"
	case AQIModerate:
		return "Moderate"
	case AQIUnhealthySensitive:
		return "Unhealthy for Sensitive Groups"
	case AQIUnhealthy:
		return "Unhealthy"
	case AQIVeryUnhealthy:
		return "Very Unhealthy"
	case AQIHazardous:
		return "Hazardous"
	default:
		return string(c)
	}
}

// Recommendation returns the public health guidance shown alongside the category.
func (c AQICategory) Recommendation() string {
	switch c {
	case AQIGood:
		return "Air quality is satisfactory. Enjoy outdoor activities."
	case AQIModerate:
		return "Unusually sensitive people should consider limiting prolonged outdoor exertion."
	case AQIUnhealthySensitive:
		return "Children, older adults and people with heart or lung disease should reduce prolonged outdoor exertion."
	case AQIUnhealthy:
		return "Everyone should reduce prolonged outdoor exertion. Sensitive groups should avoid it."
	case AQIVeryUnhealthy:
		return "Avoid prolonged outdoor exertion. Sensitive groups should remain indoors."
	default:
		return "Stay indoors with windows closed. Wear an N95 mask if you must go outside."
	}
}

type aqiBreakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

// US EPA breakpoints for 24-hour PM2.5 (µg/m³, truncated to 0.1).
var pm25Breakpoints = []aqiBreakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// US EPA breakpoints for 24-hour PM10 (µg/m³, truncated to integer).
var pm10Breakpoints = []aqiBreakpoint{
	{0, 54, 0, 50},
	{55, 154, 51, 100},
	{155, 254, 101, 150},
	{255, 354, 151, 200},
	{355, 424, 201, 300},
	{425, 504, 301, 400},
	{505, 604, 401, 500},
}

// MaxAQI is the top of the EPA scale; concentrations beyond the last
// breakpoint are reported at this value.
const MaxAQI = 500.0

func subIndex(conc float64, bps []aqiBreakpoint) float64 {
	if conc <= 0 {
		return 0
	}
	for _, bp := range bps {
		if conc >= bp.cLow && conc <= bp.cHigh {
			return (bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(conc-bp.cLow) + bp.iLow
		}
	}
	return MaxAQI
}

// USAQI computes the US EPA AQI from PM2.5 and PM10 concentrations as the
// maximum of the two sub-indices. Concentrations are truncated to the
// breakpoint table precision so that no value falls between two bands.
func USAQI(pm25, pm10 float64) float64 {
	a25 := subIndex(math.Floor(pm25*10)/10, pm25Breakpoints)
	a10 := subIndex(math.Floor(pm10), pm10Breakpoints)
	return math.Round(math.Max(a25, a10))
}
