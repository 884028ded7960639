package types

import (
	"testing"
	"time"
)

func TestPhaseAt_CooldownBoundaries(t *testing.T) {
	sent := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	cooldown := 6 * time.Hour

	tests := []struct {
		name string
		now  time.Time
		want AlertPhase
	}{
		{"same instant", sent, AlertCooling},
		{"one nanosecond before cooldown", sent.Add(cooldown - time.Nanosecond), AlertCooling},
		{"exactly at cooldown", sent.Add(cooldown), AlertArmed},
		{"after cooldown", sent.Add(cooldown + time.Second), AlertArmed},
		{"clock before last send", sent.Add(-time.Minute), AlertCooling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PhaseAt(&sent, cooldown, tt.now); got != tt.want {
				t.Errorf("PhaseAt() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := PhaseAt(nil, cooldown, sent); got != AlertArmed {
		t.Errorf("PhaseAt(nil) = %q, want armed", got)
	}
}

func TestNewAlertState(t *testing.T) {
	sent := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	st := NewAlertState(&sent, 6*time.Hour, sent.Add(time.Hour))

	if st.Phase != AlertCooling {
		t.Fatalf("Phase = %q, want cooling", st.Phase)
	}
	if st.RearmsAt == nil || !st.RearmsAt.Equal(sent.Add(6*time.Hour)) {
		t.Errorf("RearmsAt = %v, want %v", st.RearmsAt, sent.Add(6*time.Hour))
	}
	if st.CooldownSec != 21600 {
		t.Errorf("CooldownSec = %d, want 21600", st.CooldownSec)
	}

	armed := NewAlertState(&sent, 6*time.Hour, sent.Add(7*time.Hour))
	if armed.Phase != AlertArmed || armed.RearmsAt != nil {
		t.Errorf("expected armed state without rearm time, got %+v", armed)
	}
}
