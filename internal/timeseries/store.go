// Package timeseries defines the append-only observation store and an
// in-memory implementation.
package timeseries

import (
	"context"
	"sort"
	"sync"
	"time"

	"aqiwatch/internal/types"
)

// Store persists observations in time order.
type Store interface {
	// Append adds obs. Observations are never updated or removed.
	Append(ctx context.Context, obs types.Observation) error
	// Query returns observations with from <= timestamp <= to, ascending by
	// timestamp; equal timestamps keep insertion order.
	Query(ctx context.Context, from, to time.Time) ([]types.Observation, error)
}

// ValidateRange rejects inverted query ranges.
func ValidateRange(from, to time.Time) error {
	if to.Before(from) {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidRange,
			"range end precedes start", nil,
			map[string]any{"from": from, "to": to})
	}
	return nil
}

// MemoryStore is a Store held in process memory. An out-of-order append is
// placed after every observation with an equal or earlier timestamp.
type MemoryStore struct {
	mu  sync.RWMutex
	obs []types.Observation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, obs types.Observation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	obs = obs.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.obs)
	if n == 0 || !obs.Timestamp.Before(s.obs[n-1].Timestamp) {
		s.obs = append(s.obs, obs)
		return nil
	}
	i := sort.Search(n, func(i int) bool {
		return s.obs[i].Timestamp.After(obs.Timestamp)
	})
	s.obs = append(s.obs, types.Observation{})
	copy(s.obs[i+1:], s.obs[i:])
	s.obs[i] = obs
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, from, to time.Time) ([]types.Observation, error) {
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.obs), func(i int) bool {
		return !s.obs[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(s.obs), func(i int) bool {
		return s.obs[i].Timestamp.After(to)
	})
	out := make([]types.Observation, 0, hi-lo)
	for _, o := range s.obs[lo:hi] {
		out = append(out, o.Clone())
	}
	return out, nil
}

// Len returns the number of stored observations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.obs)
}

var _ Store = (*MemoryStore)(nil)
