package artifacts

import (
	"context"
	"sync"

	"aqiwatch/internal/model"
)

// MemoryStore keeps encoded artifacts in process memory. Artifacts are
// stored in their encoded form so callers never share mutable state.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	latest map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:  make(map[string][]byte),
		latest: make(map[string]string),
	}
}

func (s *MemoryStore) Save(ctx context.Context, a *model.Artifact, name string) (string, error) {
	if err := validateSave(a, name); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	data, err := model.MarshalArtifact(stamp(a, id, name))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = data
	s.latest[name] = id
	return id, nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*model.Artifact, error) {
	s.mu.RLock()
	data, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return model.UnmarshalArtifact(data)
}

func (s *MemoryStore) Latest(ctx context.Context, name string) (*model.Artifact, error) {
	s.mu.RLock()
	id, ok := s.latest[name]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(name)
	}
	return s.Load(ctx, id)
}

var _ Store = (*MemoryStore)(nil)
