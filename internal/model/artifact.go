package model

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"aqiwatch/internal/features"
	"aqiwatch/internal/types"
)

// ArtifactFormatVersion is bumped whenever the envelope layout changes.
const ArtifactFormatVersion = 1

// Artifact is the persisted form of a Forecaster.
type Artifact struct {
	FormatVersion     int               `json:"format_version"`
	ID                string            `json:"id,omitempty"`
	Name              string            `json:"name,omitempty"`
	Backend           Backend           `json:"backend"`
	TrainedAt         time.Time         `json:"trained_at"`
	Schema            features.Schema   `json:"schema"`
	SchemaFingerprint string            `json:"schema_fingerprint"`
	Horizons          []HorizonArtifact `json:"horizons"`
}

// HorizonArtifact stores one horizon's regressor and holdout metrics.
type HorizonArtifact struct {
	Offset  time.Duration   `json:"offset"`
	Label   string          `json:"label"`
	Metrics Metrics         `json:"metrics"`
	Model   json.RawMessage `json:"model"`
}

// Artifact serializes the forecaster's regressors.
func (f *Forecaster) Artifact() (*Artifact, error) {
	a := &Artifact{
		FormatVersion:     ArtifactFormatVersion,
		ID:                f.id,
		Name:              f.name,
		Backend:           f.backend,
		TrainedAt:         f.trainedAt,
		Schema:            f.schema,
		SchemaFingerprint: f.fingerprint,
		Horizons:          make([]HorizonArtifact, len(f.horizons)),
	}
	for i, h := range f.horizons {
		raw, err := encodeRegressor(h.regressor)
		if err != nil {
			return nil, err
		}
		a.Horizons[i] = HorizonArtifact{
			Offset:  h.offset,
			Label:   types.DurationLabel(h.offset),
			Metrics: h.metrics,
			Model:   raw,
		}
	}
	return a, nil
}

// FromArtifact reconstructs a Forecaster. Corrupt or inconsistent artifacts
// are rejected rather than producing a model that predicts garbage.
func FromArtifact(a *Artifact) (*Forecaster, error) {
	if a == nil {
		return nil, corrupt("artifact is nil", nil)
	}
	if a.FormatVersion != ArtifactFormatVersion {
		return nil, corrupt(fmt.Sprintf("unsupported format version %d", a.FormatVersion), nil)
	}
	if !a.Backend.Valid() {
		return nil, corrupt(fmt.Sprintf("unknown backend %q", a.Backend), nil)
	}
	if len(a.Horizons) == 0 {
		return nil, corrupt("artifact has no horizons", nil)
	}
	if fp := a.Schema.Fingerprint(); fp != a.SchemaFingerprint {
		return nil, corrupt("schema fingerprint does not match schema", nil)
	}

	f := &Forecaster{
		id:          a.ID,
		name:        a.Name,
		backend:     a.Backend,
		trainedAt:   a.TrainedAt,
		schema:      a.Schema,
		fingerprint: a.SchemaFingerprint,
		horizons:    make([]horizonModel, len(a.Horizons)),
	}
	for i, h := range a.Horizons {
		if i > 0 && h.Offset <= a.Horizons[i-1].Offset {
			return nil, corrupt("horizons are not strictly ascending", nil)
		}
		reg, err := decodeRegressor(a.Backend, h.Model)
		if err != nil {
			return nil, corrupt("horizon "+h.Label, err)
		}
		f.horizons[i] = horizonModel{offset: h.Offset, regressor: reg, metrics: h.Metrics}
	}
	return f, nil
}

func corrupt(msg string, err error) error {
	return types.NewAppError(types.ErrCodeInternalArtifactCorrupt, "model artifact: "+msg, err)
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	// decoderPool provides reusable zstd decoders to avoid repeated allocations.
	decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
)

// MarshalArtifact encodes a as zstd-compressed JSON.
func MarshalArtifact(a *Artifact) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("model: marshal artifact: %w", err)
	}
	encoderOnce.Do(func() {
		var err error
		encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
	})
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// UnmarshalArtifact decodes the output of MarshalArtifact.
func UnmarshalArtifact(data []byte) (*Artifact, error) {
	d := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(d)

	raw, err := d.DecodeAll(data, nil)
	if err != nil {
		return nil, corrupt("zstd decode failed", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, corrupt("json decode failed", err)
	}
	return &a, nil
}
