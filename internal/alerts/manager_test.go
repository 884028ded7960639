package alerts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aqiwatch/internal/types"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	args := m.Called(ctx, recipient, subject, body)
	return args.Error(0)
}

type failingStore struct {
	loadErr    error
	acquireErr error
}

func (s failingStore) LoadLastSent(context.Context) (*time.Time, error) { return nil, s.loadErr }

func (s failingStore) TryAcquire(context.Context, time.Time, time.Duration) (bool, *time.Time, error) {
	return s.acquireErr == nil, nil, s.acquireErr
}

func (s failingStore) Release(context.Context, time.Time, *time.Time) error { return nil }

type recordingMetrics struct {
	mu        sync.Mutex
	decisions []string
	outcomes  []string
}

func (r *recordingMetrics) RecordAlertDecision(_ context.Context, d string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *recordingMetrics) RecordDispatch(_ context.Context, o string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

var t0 = time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Recipient = "ops@example.com"
	cfg.Location = "Lahore"
	cfg.DispatchTimeout = time.Second
	return cfg
}

func newTestManager(t *testing.T, n Notifier, store StateStore, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), testConfig(), n, store, opts...)
	require.NoError(t, err)
	return m
}

func forecastOf(anchor time.Time, aqis ...float64) *types.ForecastResult {
	offsets := []time.Duration{time.Hour, 24 * time.Hour, 72 * time.Hour}
	res := &types.ForecastResult{Anchor: anchor}
	for i, v := range aqis {
		res.Horizons = append(res.Horizons, types.NewHorizonForecast(anchor, offsets[i], v))
	}
	return res
}

func TestEvaluate_NoHazard(t *testing.T) {
	n := new(mockNotifier)
	m := newTestManager(t, n, nil)

	out := m.Evaluate(context.Background(), 120, forecastOf(t0, 150, 200, 299.9), t0)
	assert.Equal(t, DecisionNoHazard, out.Decision)
	assert.False(t, out.Hazard)
	assert.Nil(t, out.Trigger)
	assert.Equal(t, types.AlertArmed, out.State.Phase)
	n.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluate_DispatchesOnCurrentAtThreshold(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, "ops@example.com", "HAZARDOUS SMOG ALERT: AQI 300", mock.Anything).Return(nil).Once()
	store := NewMemoryStateStore()
	m := newTestManager(t, n, store)

	out := m.Evaluate(context.Background(), 300, nil, t0)
	require.NoError(t, out.Err)
	assert.Equal(t, DecisionDispatched, out.Decision)
	assert.Equal(t, &Trigger{Source: "current", AQI: 300}, out.Trigger)
	assert.Equal(t, types.AlertCooling, out.State.Phase)
	require.NotNil(t, out.State.RearmsAt)
	assert.Equal(t, t0.Add(6*time.Hour), *out.State.RearmsAt)
	n.AssertExpectations(t)

	persisted, err := store.LoadLastSent(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, t0, *persisted)
}

func TestEvaluate_ForecastOnlyHazard(t *testing.T) {
	n := new(mockNotifier)
	var body string
	n.On("Send", mock.Anything, mock.Anything, "HAZARDOUS SMOG ALERT: AQI 345", mock.Anything).
		Run(func(args mock.Arguments) { body = args.String(3) }).
		Return(nil)
	m := newTestManager(t, n, nil)

	out := m.Evaluate(context.Background(), 150, forecastOf(t0, 180, 345, 320), t0)
	assert.Equal(t, DecisionDispatched, out.Decision)
	assert.Equal(t, "24h", out.Trigger.Source)
	assert.Contains(t, body, "Predicted AQI (24h ahead): 345")
	assert.Contains(t, body, "Observed AQI: 150")
	assert.Contains(t, body, "- 72h: 320 (Hazardous)")
}

func TestEvaluate_CooldownBoundaries(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestManager(t, n, nil)

	require.Equal(t, DecisionDispatched, m.Evaluate(context.Background(), 350, nil, t0).Decision)

	out := m.Evaluate(context.Background(), 350, nil, t0.Add(6*time.Hour-time.Nanosecond))
	assert.Equal(t, DecisionSuppressed, out.Decision)
	assert.Equal(t, types.AlertCooling, out.State.Phase)

	out = m.Evaluate(context.Background(), 350, nil, t0.Add(6*time.Hour))
	assert.Equal(t, DecisionDispatched, out.Decision)
	n.AssertNumberOfCalls(t, "Send", 2)
}

func TestEvaluate_FailureKeepsManagerArmed(t *testing.T) {
	n := new(mockNotifier)
	sendErr := errors.New("smtp relay down")
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sendErr).Once()
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	store := NewMemoryStateStore()
	m := newTestManager(t, n, store)

	out := m.Evaluate(context.Background(), 320, nil, t0)
	assert.Equal(t, DecisionDispatchFailed, out.Decision)
	assert.True(t, types.IsCode(out.Err, types.ErrCodeUpstreamNotifierDelivery))
	assert.ErrorIs(t, out.Err, sendErr)
	assert.Equal(t, types.AlertArmed, out.State.Phase)
	assert.Nil(t, out.State.LastSentAt)

	persisted, _ := store.LoadLastSent(context.Background())
	assert.Nil(t, persisted)

	out = m.Evaluate(context.Background(), 320, nil, t0.Add(time.Minute))
	assert.Equal(t, DecisionDispatched, out.Decision)
	n.AssertExpectations(t)
}

func TestEvaluate_DispatchTimeoutIsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.DispatchTimeout = 20 * time.Millisecond
	slow := &timeoutNotifier{}
	m, err := NewManager(context.Background(), cfg, slow, nil)
	require.NoError(t, err)

	out := m.Evaluate(context.Background(), 400, nil, t0)
	assert.Equal(t, DecisionDispatchFailed, out.Decision)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, types.AlertArmed, m.StateAt(t0).Phase)
}

// timeoutNotifier blocks until its context expires.
type timeoutNotifier struct{}

func (timeoutNotifier) Send(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEvaluate_SameInstantNeverDispatchesTwice(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestManager(t, n, nil)

	first := m.Evaluate(context.Background(), 310, nil, t0)
	second := m.Evaluate(context.Background(), 310, nil, t0)

	assert.Equal(t, DecisionDispatched, first.Decision)
	assert.Equal(t, DecisionSuppressed, second.Decision)
	n.AssertNumberOfCalls(t, "Send", 1)
}

func TestEvaluate_TwoHazardsOneHourApart(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestManager(t, n, nil)

	assert.Equal(t, DecisionDispatched, m.Evaluate(context.Background(), 330, nil, t0).Decision)
	assert.Equal(t, DecisionSuppressed, m.Evaluate(context.Background(), 360, nil, t0.Add(time.Hour)).Decision)
	n.AssertNumberOfCalls(t, "Send", 1)
}

func TestEvaluate_ConcurrentHazardsDispatchOnce(t *testing.T) {
	var calls atomic.Int32
	n := notifierFunc(func(context.Context, string, string, string) error {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	m := newTestManager(t, n, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Evaluate(context.Background(), 320, nil, t0.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

type notifierFunc func(ctx context.Context, recipient, subject, body string) error

func (f notifierFunc) Send(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}

func TestNewManager_RestoresPersistedState(t *testing.T) {
	store := NewMemoryStateStore()
	_, _, err := store.TryAcquire(context.Background(), t0.Add(-2*time.Hour), 6*time.Hour)
	require.NoError(t, err)

	n := new(mockNotifier)
	m := newTestManager(t, n, store)

	out := m.Evaluate(context.Background(), 400, nil, t0)
	assert.Equal(t, DecisionSuppressed, out.Decision)
	require.NotNil(t, out.State.RearmsAt)
	assert.Equal(t, t0.Add(4*time.Hour), *out.State.RearmsAt)
	n.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNewManager_RestoreFailureStartsArmed(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestManager(t, n, failingStore{loadErr: errors.New("db down")})

	assert.Equal(t, types.AlertArmed, m.StateAt(t0).Phase)
	assert.Equal(t, DecisionDispatched, m.Evaluate(context.Background(), 400, nil, t0).Decision)
}

func TestEvaluate_StoreUnavailableFallsBackToLocalState(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestManager(t, n, failingStore{acquireErr: errors.New("db down")})

	assert.Equal(t, DecisionDispatched, m.Evaluate(context.Background(), 400, nil, t0).Decision)
	assert.Equal(t, DecisionSuppressed, m.Evaluate(context.Background(), 400, nil, t0.Add(time.Hour)).Decision)
}

func TestEvaluate_ManagersSharingStoreDispatchOnce(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store := NewMemoryStateStore()
	api := newTestManager(t, n, store)
	worker := newTestManager(t, n, store)

	assert.Equal(t, DecisionDispatched, api.Evaluate(context.Background(), 340, nil, t0).Decision)

	out := worker.Evaluate(context.Background(), 350, nil, t0.Add(time.Hour))
	assert.Equal(t, DecisionSuppressed, out.Decision)
	assert.Equal(t, types.AlertCooling, out.State.Phase)
	require.NotNil(t, out.State.LastSentAt)
	assert.Equal(t, t0, *out.State.LastSentAt)
	n.AssertNumberOfCalls(t, "Send", 1)

	// The worker now cools locally without asking the store again.
	assert.Equal(t, DecisionSuppressed, worker.Evaluate(context.Background(), 350, nil, t0.Add(2*time.Hour)).Decision)

	assert.Equal(t, DecisionDispatched, worker.Evaluate(context.Background(), 350, nil, t0.Add(6*time.Hour)).Decision)
	assert.Equal(t, DecisionSuppressed, api.Evaluate(context.Background(), 350, nil, t0.Add(7*time.Hour)).Decision)
	n.AssertNumberOfCalls(t, "Send", 2)
}

func TestEvaluate_FailedDispatchReleasesSharedClaim(t *testing.T) {
	failing := new(mockNotifier)
	failing.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("relay down"))
	working := new(mockNotifier)
	working.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	store := NewMemoryStateStore()
	api := newTestManager(t, failing, store)
	worker := newTestManager(t, working, store)

	assert.Equal(t, DecisionDispatchFailed, api.Evaluate(context.Background(), 340, nil, t0).Decision)
	persisted, err := store.LoadLastSent(context.Background())
	require.NoError(t, err)
	assert.Nil(t, persisted)

	assert.Equal(t, DecisionDispatched, worker.Evaluate(context.Background(), 340, nil, t0.Add(time.Minute)).Decision)
	working.AssertNumberOfCalls(t, "Send", 1)
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("x")).Once()
	n.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	rec := &recordingMetrics{}
	m := newTestManager(t, n, nil, WithMetrics(rec))

	m.Evaluate(context.Background(), 10, nil, t0)
	m.Evaluate(context.Background(), 310, nil, t0)
	m.Evaluate(context.Background(), 310, nil, t0)
	m.Evaluate(context.Background(), 310, nil, t0)

	assert.Equal(t, []string{"no_hazard", "dispatch_failed", "dispatched", "suppressed"}, rec.decisions)
	assert.Equal(t, []string{"failed", "sent"}, rec.outcomes)
}

func TestNewManager_ValidatesConfig(t *testing.T) {
	tests := map[string]func(*Config){
		"threshold": func(c *Config) { c.Threshold = 0 },
		"cooldown":  func(c *Config) { c.Cooldown = 0 },
		"timeout":   func(c *Config) { c.DispatchTimeout = 0 },
		"recipient": func(c *Config) { c.Recipient = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := NewManager(context.Background(), cfg, new(mockNotifier), nil)
			assert.Error(t, err)
		})
	}

	_, err := NewManager(context.Background(), testConfig(), nil, nil)
	assert.Error(t, err)
}
