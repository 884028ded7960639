package alerts

import (
	"context"
	"sync"
	"time"

	"aqiwatch/internal/types"
)

// MemoryStateStore keeps the last send time in process memory. Managers in
// one process may share it.
type MemoryStateStore struct {
	mu   sync.Mutex
	last *time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) LoadLastSent(context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTime(s.last), nil
}

func (s *MemoryStateStore) TryAcquire(_ context.Context, now time.Time, cooldown time.Duration) (bool, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := copyTime(s.last)
	if types.PhaseAt(s.last, cooldown, now) == types.AlertCooling {
		return false, prev, nil
	}
	at := now.UTC()
	s.last = &at
	return true, prev, nil
}

func (s *MemoryStateStore) Release(_ context.Context, claimed time.Time, previous *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.Equal(claimed) {
		s.last = copyTime(previous)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

var _ StateStore = (*MemoryStateStore)(nil)
