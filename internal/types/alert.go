package types

import "time"

// AlertPhase is the state of the alert dispatcher.
type AlertPhase string

const (
	AlertArmed   AlertPhase = "armed"
	AlertCooling AlertPhase = "cooling"
)

// AlertState is a snapshot of the dispatcher at a given instant.
type AlertState struct {
	Phase       AlertPhase    `json:"phase"`
	LastSentAt  *time.Time    `json:"last_sent_at,omitempty"`
	Cooldown    time.Duration `json:"-"`
	CooldownSec int64         `json:"cooldown_seconds"`
	RearmsAt    *time.Time    `json:"rearms_at,omitempty"`
}

// PhaseAt derives the phase at now from the last dispatch time. Cooling holds
// while now - lastSent < cooldown; at exactly the cooldown the dispatcher is
// armed again.
func PhaseAt(lastSent *time.Time, cooldown time.Duration, now time.Time) AlertPhase {
	if lastSent == nil {
		return AlertArmed
	}
	if now.Sub(*lastSent) < cooldown {
		return AlertCooling
	}
	return AlertArmed
}

// NewAlertState builds the snapshot for now.
func NewAlertState(lastSent *time.Time, cooldown time.Duration, now time.Time) AlertState {
	st := AlertState{
		Phase:       PhaseAt(lastSent, cooldown, now),
		Cooldown:    cooldown,
		CooldownSec: int64(cooldown / time.Second),
	}
	if lastSent != nil {
		ls := *lastSent
		st.LastSentAt = &ls
		if st.Phase == AlertCooling {
			rearm := ls.Add(cooldown)
			st.RearmsAt = &rearm
		}
	}
	return st
}
