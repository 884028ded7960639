package model

import (
	"context"
	"encoding/json"
	"fmt"
)

// Backend names a regression algorithm.
type Backend string

const (
	BackendGBT Backend = "gbt"
	BackendMLP Backend = "mlp"
)

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	return b == BackendGBT || b == BackendMLP
}

// Regressor maps one feature row to a scalar. Implementations are immutable
// once trained and safe for concurrent Predict calls.
type Regressor interface {
	Predict(x []float64) float64
}

func train(ctx context.Context, cfg Config, X [][]float64, y []float64) (Regressor, error) {
	switch cfg.Backend {
	case BackendGBT:
		return trainGBT(ctx, cfg.GBT, X, y)
	case BackendMLP:
		return trainMLP(ctx, cfg.MLP, X, y)
	default:
		return nil, fmt.Errorf("model: unknown backend %q", cfg.Backend)
	}
}

func encodeRegressor(r Regressor) (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("model: encode regressor: %w", err)
	}
	return data, nil
}

func decodeRegressor(b Backend, raw json.RawMessage) (Regressor, error) {
	switch b {
	case BackendGBT:
		var m gbtModel
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("model: decode gbt: %w", err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return &m, nil
	case BackendMLP:
		var m mlpModel
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("model: decode mlp: %w", err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("model: unknown backend %q", b)
	}
}
