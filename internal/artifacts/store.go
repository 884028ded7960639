// Package artifacts persists fitted model artifacts.
//
// A store assigns each saved artifact a time-ordered ID and tracks the most
// recent artifact per model name. Every failure to reach the backing storage
// surfaces as ErrCodeUpstreamArtifactStore so callers can fail closed.
package artifacts

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"aqiwatch/internal/model"
	"aqiwatch/internal/types"
)

// Store saves and loads model artifacts.
type Store interface {
	// Save persists a under name and returns the assigned ID. The latest
	// pointer for name is moved to the new artifact.
	Save(ctx context.Context, a *model.Artifact, name string) (string, error)
	// Load returns the artifact with the given ID.
	Load(ctx context.Context, id string) (*model.Artifact, error)
	// Latest returns the most recently saved artifact for name.
	Latest(ctx context.Context, name string) (*model.Artifact, error)
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("artifacts: generate id: %w", err)
	}
	return id.String(), nil
}

// validID rejects anything that is not a canonical UUID so IDs can be used
// as path and key components.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// stamp returns a shallow copy of a carrying the assigned identity.
func stamp(a *model.Artifact, id, name string) *model.Artifact {
	c := *a
	c.ID = id
	c.Name = name
	return &c
}

func unavailable(op string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamArtifactStore,
		"artifact store unavailable", err, map[string]any{"op": op})
}

func notFound(what string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundArtifact,
		"artifact not found", nil, map[string]any{"artifact": what})
}

func validateSave(a *model.Artifact, name string) error {
	if a == nil {
		return fmt.Errorf("artifacts: nil artifact")
	}
	if name == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "artifact name is required", nil)
	}
	return nil
}
