package pipeline

import (
	"context"
	"fmt"
	"time"

	"aqiwatch/internal/artifacts"
	"aqiwatch/internal/features"
	"aqiwatch/internal/model"
	"aqiwatch/internal/timeseries"
	"aqiwatch/internal/types"
)

// Publisher receives freshly trained forecasters. *Pipeline implements it.
type Publisher interface {
	PublishModel(f *model.Forecaster)
}

// TrainerConfig configures offline training.
type TrainerConfig struct {
	Store     timeseries.Store
	Builder   *features.Builder
	Artifacts artifacts.Store
	Model     model.Config
	ModelName string
	// Publisher, when set, receives the trained model after it is saved.
	Publisher Publisher
	Logger    types.Logger
}

// Trainer fits a forecaster on stored history and saves it as an artifact.
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer validates cfg.
func NewTrainer(cfg TrainerConfig) (*Trainer, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("trainer: store is required")
	case cfg.Builder == nil:
		return nil, fmt.Errorf("trainer: feature builder is required")
	case cfg.Artifacts == nil:
		return nil, fmt.Errorf("trainer: artifact store is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger{}
	}
	return &Trainer{cfg: cfg}, nil
}

// TrainResult describes a saved model.
type TrainResult struct {
	ArtifactID  string         `json:"artifact_id"`
	HistoryRows int            `json:"history_rows"`
	FeatureRows int            `json:"feature_rows"`
	Metadata    model.Metadata `json:"metadata"`
}

// Train fits on observations in [from, to], saves the artifact and, if a
// Publisher is configured, publishes the loaded model.
func (t *Trainer) Train(ctx context.Context, from, to time.Time) (TrainResult, error) {
	log := t.cfg.Logger.With("model_name", t.cfg.ModelName)

	history, err := t.cfg.Store.Query(ctx, from, to)
	if err != nil {
		return TrainResult{}, err
	}
	vectors := t.cfg.Builder.BuildAll(history)
	targets := t.cfg.Builder.Targets(history, vectors, t.cfg.Model.Horizons)
	log.Info("training data prepared", "history_rows", len(history), "feature_rows", len(vectors))

	f, err := model.Fit(ctx, t.cfg.Model, vectors, targets)
	if err != nil {
		return TrainResult{}, err
	}

	a, err := f.Artifact()
	if err != nil {
		return TrainResult{}, err
	}
	id, err := t.cfg.Artifacts.Save(ctx, a, t.cfg.ModelName)
	if err != nil {
		return TrainResult{}, err
	}
	a.ID, a.Name = id, t.cfg.ModelName

	saved, err := model.FromArtifact(a)
	if err != nil {
		return TrainResult{}, err
	}
	if t.cfg.Publisher != nil {
		t.cfg.Publisher.PublishModel(saved)
	}

	md := saved.Metadata()
	mae, _ := saved.ValidationMAE()
	log.Info("model trained and saved",
		"model_id", id,
		"backend", string(md.Backend),
		"validation_mae", mae)

	return TrainResult{
		ArtifactID:  id,
		HistoryRows: len(history),
		FeatureRows: len(vectors),
		Metadata:    md,
	}, nil
}
