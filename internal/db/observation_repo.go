package db

import (
	"context"
	"time"

	"aqiwatch/internal/timeseries"
	"aqiwatch/internal/types"
)

// ObservationRepository is the PostgreSQL-backed timeseries.Store.
//
// Table layout:
//
//	CREATE TABLE observations (
//	    seq                BIGSERIAL PRIMARY KEY,
//	    observed_at        TIMESTAMPTZ NOT NULL,
//	    aqi                DOUBLE PRECISION NOT NULL CHECK (aqi >= 0),
//	    temperature_c      DOUBLE PRECISION NOT NULL,
//	    humidity_pct       DOUBLE PRECISION NOT NULL,
//	    pm2_5 DOUBLE PRECISION, pm10 DOUBLE PRECISION, no2 DOUBLE PRECISION,
//	    so2 DOUBLE PRECISION, co DOUBLE PRECISION, o3 DOUBLE PRECISION,
//	    pressure_hpa DOUBLE PRECISION, wind_speed_ms DOUBLE PRECISION,
//	    wind_direction_deg DOUBLE PRECISION, clouds_pct DOUBLE PRECISION
//	);
//	CREATE INDEX observations_observed_at_idx ON observations (observed_at, seq);
//
// seq breaks ties between equal timestamps in insertion order.
type ObservationRepository struct {
	db DBTX
}

// NewObservationRepository creates a new ObservationRepository backed by the
// given database connection (pool or transaction).
func NewObservationRepository(db DBTX) *ObservationRepository {
	return &ObservationRepository{db: db}
}

const observationColumns = `observed_at, aqi, temperature_c, humidity_pct,
	pm2_5, pm10, no2, so2, co, o3,
	pressure_hpa, wind_speed_ms, wind_direction_deg, clouds_pct`

// Append inserts one observation after validating and normalizing it.
func (r *ObservationRepository) Append(ctx context.Context, obs types.Observation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	obs = obs.Normalized()

	_, err := r.db.Exec(ctx,
		`INSERT INTO observations (`+observationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		obs.Timestamp,
		obs.AQI,
		obs.TemperatureC,
		obs.HumidityPct,
		obs.Pollutants.PM25,
		obs.Pollutants.PM10,
		obs.Pollutants.NO2,
		obs.Pollutants.SO2,
		obs.Pollutants.CO,
		obs.Pollutants.O3,
		obs.Weather.PressureHPa,
		obs.Weather.WindSpeedMS,
		obs.Weather.WindDirectionDeg,
		obs.Weather.CloudsPct,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append observation", err)
	}
	return nil
}

// Query returns observations in [from, to] ordered by timestamp then insertion.
func (r *ObservationRepository) Query(ctx context.Context, from, to time.Time) ([]types.Observation, error) {
	if err := timeseries.ValidateRange(from, to); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+observationColumns+`
		 FROM observations
		 WHERE observed_at >= $1 AND observed_at <= $2
		 ORDER BY observed_at ASC, seq ASC`,
		from.UTC(),
		to.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query observations", err)
	}
	defer rows.Close()

	var out []types.Observation
	for rows.Next() {
		var o types.Observation
		if err := rows.Scan(
			&o.Timestamp,
			&o.AQI,
			&o.TemperatureC,
			&o.HumidityPct,
			&o.Pollutants.PM25,
			&o.Pollutants.PM10,
			&o.Pollutants.NO2,
			&o.Pollutants.SO2,
			&o.Pollutants.CO,
			&o.Pollutants.O3,
			&o.Weather.PressureHPa,
			&o.Weather.WindSpeedMS,
			&o.Weather.WindDirectionDeg,
			&o.Weather.CloudsPct,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan observation", err)
		}
		o.Timestamp = o.Timestamp.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating observations", err)
	}
	return out, nil
}

var _ timeseries.Store = (*ObservationRepository)(nil)
