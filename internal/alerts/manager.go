// Package alerts implements the hazard alert dispatcher: a two-state machine
// (armed, cooling) that sends at most one notification per cooldown period.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aqiwatch/internal/types"
)

// Notifier delivers one alert message.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// StateStore persists the time of the last dispatch. It is shared by every
// process that evaluates alerts, so the armed to cooling transition is
// decided by the store and not by process memory.
type StateStore interface {
	// LoadLastSent returns nil when nothing was ever sent.
	LoadLastSent(ctx context.Context) (*time.Time, error)
	// TryAcquire atomically records now as the last send time when the
	// stored time is unset or at least cooldown before now. It returns
	// whether the claim was taken and the stored time it replaced or, when
	// not taken, the stored time that still holds the cooldown.
	TryAcquire(ctx context.Context, now time.Time, cooldown time.Duration) (acquired bool, last *time.Time, err error)
	// Release undoes a claim made at claimed after a failed send, restoring
	// previous. A claim already replaced by a later one is left alone.
	Release(ctx context.Context, claimed time.Time, previous *time.Time) error
}

// Metrics receives one call per evaluation and per dispatch attempt.
type Metrics interface {
	RecordAlertDecision(ctx context.Context, decision string)
	RecordDispatch(ctx context.Context, outcome string, latency time.Duration)
}

// Decision is the result of one evaluation.
type Decision string

const (
	DecisionNoHazard       Decision = "no_hazard"
	DecisionSuppressed     Decision = "suppressed"
	DecisionDispatched     Decision = "dispatched"
	DecisionDispatchFailed Decision = "dispatch_failed"
)

// Config controls the dispatcher.
type Config struct {
	Threshold       float64
	Cooldown        time.Duration
	Recipient       string
	DispatchTimeout time.Duration
	// Location names the monitored point in alert messages.
	Location string
}

// DefaultConfig returns the hazardous threshold with a six hour cooldown.
func DefaultConfig() Config {
	return Config{
		Threshold:       types.HazardThreshold,
		Cooldown:        6 * time.Hour,
		DispatchTimeout: 10 * time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.Threshold <= 0:
		return fmt.Errorf("alerts: threshold must be positive, got %v", c.Threshold)
	case c.Cooldown <= 0:
		return fmt.Errorf("alerts: cooldown must be positive, got %s", c.Cooldown)
	case c.DispatchTimeout <= 0:
		return fmt.Errorf("alerts: dispatch timeout must be positive, got %s", c.DispatchTimeout)
	case c.Recipient == "":
		return fmt.Errorf("alerts: recipient is required")
	}
	return nil
}

// Trigger identifies the reading that made an evaluation hazardous.
type Trigger struct {
	// Source is "current" or a horizon label such as "24h".
	Source string  `json:"source"`
	AQI    float64 `json:"aqi"`
}

// Outcome reports what one evaluation did.
type Outcome struct {
	Decision Decision         `json:"decision"`
	Hazard   bool             `json:"hazard"`
	Trigger  *Trigger         `json:"trigger,omitempty"`
	State    types.AlertState `json:"state"`
	// Err is set for DecisionDispatchFailed and carries
	// ErrCodeUpstreamNotifierDelivery.
	Err error `json:"-"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

// WithClock sets the clock used by State and dispatch latency.
func WithClock(c types.Clock) Option {
	return func(mgr *Manager) { mgr.clock = c }
}

// Manager owns the alert state. Evaluate calls are serialized, including
// the notifier call, so two concurrent hazards can never both dispatch. A
// dispatch also has to win TryAcquire on the shared StateStore, which keeps
// managers in separate processes to one alert per cooldown.
type Manager struct {
	cfg      Config
	notifier Notifier
	store    StateStore
	metrics  Metrics
	logger   types.Logger
	clock    types.Clock

	mu       sync.Mutex
	lastSent *time.Time
}

// NewManager builds a Manager and restores the last send time from store.
// A failed restore is logged and the manager starts armed.
func NewManager(ctx context.Context, cfg Config, notifier Notifier, store StateStore, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		return nil, fmt.Errorf("alerts: notifier is required")
	}
	if store == nil {
		store = NewMemoryStateStore()
	}

	m := &Manager{
		cfg:      cfg,
		notifier: notifier,
		store:    store,
		metrics:  nopMetrics{},
		logger:   types.NopLogger{},
		clock:    types.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}

	last, err := store.LoadLastSent(ctx)
	if err != nil {
		m.logger.Warn("failed to restore alert state; starting armed", "error", err.Error())
		return m, nil
	}
	if last != nil {
		t := last.UTC()
		m.lastSent = &t
	}
	return m, nil
}

// Evaluate decides whether currentAQI or any forecast horizon is hazardous
// and dispatches when the manager is armed. forecast may be nil when no
// forecast is available.
func (m *Manager) Evaluate(ctx context.Context, currentAQI float64, forecast *types.ForecastResult, now time.Time) Outcome {
	now = now.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := Outcome{}
	out.Trigger = m.findTrigger(currentAQI, forecast)
	out.Hazard = out.Trigger != nil

	switch {
	case !out.Hazard:
		out.Decision = DecisionNoHazard
	case types.PhaseAt(m.lastSent, m.cfg.Cooldown, now) == types.AlertCooling:
		out.Decision = DecisionSuppressed
		m.logger.Info("hazard detected during cooldown; alert suppressed",
			"aqi", out.Trigger.AQI, "source", out.Trigger.Source,
			"last_sent_at", m.lastSent.Format(time.RFC3339))
	default:
		out.Decision, out.Err = m.claimAndDispatch(ctx, currentAQI, forecast, *out.Trigger, now)
	}

	out.State = types.NewAlertState(m.lastSent, m.cfg.Cooldown, now)
	m.metrics.RecordAlertDecision(ctx, string(out.Decision))
	return out
}

// findTrigger returns the highest reading at or above the threshold.
func (m *Manager) findTrigger(currentAQI float64, forecast *types.ForecastResult) *Trigger {
	var best *Trigger
	if currentAQI >= m.cfg.Threshold {
		best = &Trigger{Source: "current", AQI: currentAQI}
	}
	if forecast != nil {
		for _, h := range forecast.Horizons {
			if h.AQI >= m.cfg.Threshold && (best == nil || h.AQI > best.AQI) {
				best = &Trigger{Source: h.Label, AQI: h.AQI}
			}
		}
	}
	return best
}

// claimAndDispatch must be called with mu held. When the store cannot be
// reached the local state decides, so a database outage does not silence a
// hazard alert.
func (m *Manager) claimAndDispatch(ctx context.Context, currentAQI float64, forecast *types.ForecastResult, trig Trigger, now time.Time) (Decision, error) {
	acquired, last, err := m.store.TryAcquire(ctx, now, m.cfg.Cooldown)
	switch {
	case err != nil:
		m.logger.Warn("alert state store unavailable; deciding on local state", "error", err.Error())
	case !acquired:
		if last != nil {
			t := last.UTC()
			m.lastSent = &t
		}
		m.logger.Info("hazard already alerted by another process; alert suppressed",
			"aqi", trig.AQI, "source", trig.Source)
		return DecisionSuppressed, nil
	}

	decision, sendErr := m.dispatch(ctx, currentAQI, forecast, trig, now)
	if sendErr != nil && err == nil {
		if rerr := m.store.Release(context.WithoutCancel(ctx), now, last); rerr != nil {
			m.logger.Error("failed to release alert claim after failed dispatch", "error", rerr.Error())
		}
	}
	return decision, sendErr
}

// dispatch must be called with mu held. State only advances on success.
func (m *Manager) dispatch(ctx context.Context, currentAQI float64, forecast *types.ForecastResult, trig Trigger, now time.Time) (Decision, error) {
	msg := composeMessage(m.cfg.Location, currentAQI, forecast, trig, now)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	defer cancel()

	start := m.clock.Now()
	err := m.notifier.Send(dctx, m.cfg.Recipient, msg.Subject, msg.Body)
	latency := m.clock.Now().Sub(start)

	if err != nil {
		m.metrics.RecordDispatch(ctx, "failed", latency)
		m.logger.Error("alert dispatch failed; remaining armed",
			"aqi", trig.AQI, "source", trig.Source, "error", err.Error())
		return DecisionDispatchFailed, types.NewAppErrorWithDetails(types.ErrCodeUpstreamNotifierDelivery,
			"alert notification could not be delivered", err,
			map[string]any{"aqi": trig.AQI, "source": trig.Source})
	}

	sent := now
	m.lastSent = &sent
	m.metrics.RecordDispatch(ctx, "sent", latency)
	m.logger.Info("hazard alert dispatched", "aqi", trig.AQI, "source", trig.Source)
	return DecisionDispatched, nil
}

// State returns the dispatcher snapshot at the clock's current time.
func (m *Manager) State() types.AlertState {
	return m.StateAt(m.clock.Now())
}

// StateAt returns the dispatcher snapshot at now.
func (m *Manager) StateAt(now time.Time) types.AlertState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.NewAlertState(m.lastSent, m.cfg.Cooldown, now.UTC())
}

// Threshold returns the configured hazard threshold.
func (m *Manager) Threshold() float64 { return m.cfg.Threshold }

type nopMetrics struct{}

func (nopMetrics) RecordAlertDecision(context.Context, string)           {}
func (nopMetrics) RecordDispatch(context.Context, string, time.Duration) {}
