package config

import (
	"fmt"
	"time"

	"aqiwatch/internal/alerts"
	"aqiwatch/internal/features"
	"aqiwatch/internal/model"
)

// FeatureConfig converts the forecast settings into a feature builder config.
func (c ForecastConfig) FeatureConfig() features.Config {
	return features.Config{
		Lags:      c.Lags,
		Windows:   c.Windows,
		Tolerance: c.Tolerance,
	}
}

// ModelConfig overlays the configured backend, horizons and training limits
// on the model defaults.
func (c ForecastConfig) ModelConfig() model.Config {
	mc := model.DefaultConfig()
	mc.Backend = model.Backend(c.Backend)
	mc.Horizons = c.Horizons
	mc.MinTrainingRows = c.MinTrainingRows
	mc.ValidationFraction = c.ValidationFraction
	return mc
}

// ManagerConfig converts the alert settings into an alerts.Config.
func (c AlertConfig) ManagerConfig() alerts.Config {
	return alerts.Config{
		Threshold:       c.Threshold,
		Cooldown:        c.Cooldown,
		Recipient:       c.Recipient,
		DispatchTimeout: c.DispatchTimeout,
		Location:        c.Location,
	}
}

// TimeLocation loads the configured timezone.
func (c AlertConfig) TimeLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
