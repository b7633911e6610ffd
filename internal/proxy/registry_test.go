package proxy

import (
	"sync"
	"testing"
	"time"

	"solana-raceproxy-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(urls ...string) *config.Config {
	if len(urls) == 0 {
		urls = []string{"http://node-a", "http://node-b", "http://node-c"}
	}
	return &config.Config{
		RPCURLs:           urls,
		LagToleranceSlots: 5,
		LagThreshold:      3,
		FailureLagWeight:  2,
		BaseBackoff:       30 * time.Second,
		BackoffGrowth:     2.0,
		MaxBackoff:        10 * time.Minute,
		BackoffWindow:     30 * time.Minute,
		RequestTimeout:    time.Second,
		CallTimeout:       time.Second,
		StragglerWait:     100 * time.Millisecond,
		ProbeInterval:     time.Second,
	}
}

// sinkRecorder captures health events for assertions.
type sinkRecorder struct {
	mu     sync.Mutex
	events []HealthEvent
}

func (s *sinkRecorder) PublishHealthEvent(ev HealthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) byType(event string) []HealthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HealthEvent
	for _, ev := range s.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

// fakeClock makes quarantine windows deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, cfg *config.Config) (*Registry, *sinkRecorder, *fakeClock) {
	t.Helper()
	sink := &sinkRecorder{}
	clock := newFakeClock()
	r := NewRegistry(cfg, sink)
	r.now = clock.Now
	return r, sink, clock
}

func statusOf(t *testing.T, r *Registry, id string) EndpointStatus {
	t.Helper()
	for _, st := range r.Snapshot() {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("endpoint %s not in snapshot", id)
	return EndpointStatus{}
}

func TestRegistry_MonotonicSlotTracking(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	r.RecordObservation("http://node-a", 100, 100)
	r.RecordObservation("http://node-a", 90, 100) // lower slot is a lag signal, not a rollback

	assert.Equal(t, uint64(100), statusOf(t, r, "http://node-a").LastKnownSlot)
	assert.Equal(t, uint64(100), r.BestKnownSlot())
}

func TestRegistry_LagQuarantinesAfterThreshold(t *testing.T) {
	r, sink, _ := newTestRegistry(t, testConfig())

	// deviation 20 > tolerance 5, three consecutive rounds
	for i := 0; i < 3; i++ {
		r.RecordObservation("http://node-b", 80, 100)
	}

	st := statusOf(t, r, "http://node-b")
	assert.Equal(t, StateQuarantined.String(), st.State)
	require.NotNil(t, st.QuarantinedUntil)

	assert.NotContains(t, r.SnapshotActive(), "http://node-b")
	assert.Contains(t, r.QuarantinedIDs(), "http://node-b")

	quarantines := sink.byType(EventQuarantined)
	require.Len(t, quarantines, 1)
	assert.Equal(t, "http://node-b", quarantines[0].EndpointID)
	assert.Equal(t, uint64(100), quarantines[0].CanonicalSlot)
}

func TestRegistry_HealthyObservationResetsCounter(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	r.RecordObservation("http://node-b", 80, 100)
	r.RecordObservation("http://node-b", 80, 100)
	assert.Equal(t, 2, statusOf(t, r, "http://node-b").LagCount)

	// one in-tolerance observation clears the counter entirely
	r.RecordObservation("http://node-b", 98, 100)
	assert.Equal(t, 0, statusOf(t, r, "http://node-b").LagCount)

	// lag must now be sustained from scratch
	r.RecordObservation("http://node-b", 80, 100)
	r.RecordObservation("http://node-b", 80, 100)
	assert.Equal(t, StateActive.String(), statusOf(t, r, "http://node-b").State)
}

func TestRegistry_ToleranceBoundary(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	// deviation == tolerance is NOT lag; lag requires strictly greater
	r.RecordObservation("http://node-a", 95, 100)
	assert.Equal(t, 0, statusOf(t, r, "http://node-a").LagCount)

	r.RecordObservation("http://node-a", 94, 100)
	assert.Equal(t, 1, statusOf(t, r, "http://node-a").LagCount)
}

func TestRegistry_FailuresQuarantineFaster(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	// weight 2, threshold 3: one failure is not enough, two are
	r.RecordFailure("http://node-c")
	assert.Equal(t, StateActive.String(), statusOf(t, r, "http://node-c").State)

	r.RecordFailure("http://node-c")
	assert.Equal(t, StateQuarantined.String(), statusOf(t, r, "http://node-c").State)
}

func TestRegistry_TimeBasedReinstatement(t *testing.T) {
	r, sink, clock := newTestRegistry(t, testConfig())

	for i := 0; i < 3; i++ {
		r.RecordObservation("http://node-b", 80, 100)
	}
	require.NotContains(t, r.SnapshotActive(), "http://node-b")

	// within the window: still excluded
	clock.Advance(29 * time.Second)
	assert.NotContains(t, r.SnapshotActive(), "http://node-b")

	// past the window: eligible again without any explicit reinstatement call
	clock.Advance(2 * time.Second)
	active := r.SnapshotActive()
	assert.Contains(t, active, "http://node-b")
	assert.Equal(t, 0, statusOf(t, r, "http://node-b").LagCount)
	assert.Len(t, sink.byType(EventReinstated), 1)
}

func TestRegistry_RequarantineOnNextLagAfterReinstatement(t *testing.T) {
	r, _, clock := newTestRegistry(t, testConfig())

	for i := 0; i < 3; i++ {
		r.RecordObservation("http://node-b", 80, 100)
	}
	clock.Advance(31 * time.Second)
	require.Contains(t, r.SnapshotActive(), "http://node-b")

	// reinstatement is a fresh trial, not an amnesty: a single lag
	// observation on the still-behind endpoint quarantines it again
	r.RecordObservation("http://node-b", 80, 120)
	assert.Equal(t, StateQuarantined.String(), statusOf(t, r, "http://node-b").State)
}

func TestRegistry_InToleranceObservationEndsProbation(t *testing.T) {
	r, _, clock := newTestRegistry(t, testConfig())

	for i := 0; i < 3; i++ {
		r.RecordObservation("http://node-b", 80, 100)
	}
	clock.Advance(31 * time.Second)
	require.Contains(t, r.SnapshotActive(), "http://node-b")

	// endpoint caught up: probation lifts, the full threshold applies again
	r.RecordObservation("http://node-b", 120, 120)
	r.RecordObservation("http://node-b", 80, 120)
	assert.Equal(t, StateActive.String(), statusOf(t, r, "http://node-b").State)
	assert.Equal(t, 1, statusOf(t, r, "http://node-b").LagCount)
}

func TestRegistry_BackoffGrowsAndCaps(t *testing.T) {
	r, sink, clock := newTestRegistry(t, testConfig())

	windows := make([]time.Duration, 0, 7)
	for cycle := 0; cycle < 7; cycle++ {
		for i := 0; i < 3; i++ {
			r.RecordObservation("http://node-b", 80, 100)
		}
		st := statusOf(t, r, "http://node-b")
		require.NotNil(t, st.QuarantinedUntil, "cycle %d should quarantine", cycle)
		windows = append(windows, st.QuarantinedUntil.Sub(*st.QuarantinedSince))

		clock.Advance(st.QuarantinedUntil.Sub(clock.Now()) + time.Second)
		require.Contains(t, r.SnapshotActive(), "http://node-b")
	}

	for i := 1; i < len(windows); i++ {
		assert.GreaterOrEqual(t, windows[i], windows[i-1], "backoff must be non-decreasing")
	}
	assert.Equal(t, 30*time.Second, windows[0])
	assert.Equal(t, 60*time.Second, windows[1])
	assert.Equal(t, 10*time.Minute, windows[len(windows)-1], "backoff must cap")
	assert.Len(t, sink.byType(EventQuarantined), 7)
}

func TestRegistry_ProbeFailuresLengthenBackoff(t *testing.T) {
	r, _, clock := newTestRegistry(t, testConfig())

	for i := 0; i < 3; i++ {
		r.RecordObservation("http://node-b", 80, 100)
	}
	first := statusOf(t, r, "http://node-b")

	// three probe failures while quarantined
	for i := 0; i < 3; i++ {
		r.RecordFailure("http://node-b")
	}
	assert.Equal(t, 3, statusOf(t, r, "http://node-b").ProbeFailures)
	// probe failures never shorten the running window
	assert.Equal(t, *first.QuarantinedUntil, *statusOf(t, r, "http://node-b").QuarantinedUntil)

	// next quarantine entry scales with the accumulated probe failures:
	// base 30s * growth^1 * (1+3) = 240s
	clock.Advance(31 * time.Second)
	require.Contains(t, r.SnapshotActive(), "http://node-b")
	r.RecordObservation("http://node-b", 80, 200)

	st := statusOf(t, r, "http://node-b")
	require.NotNil(t, st.QuarantinedUntil)
	assert.Equal(t, 240*time.Second, st.QuarantinedUntil.Sub(*st.QuarantinedSince))
	// and the counter was consumed by the transition
	assert.Equal(t, 0, st.ProbeFailures)
}

func TestRegistry_SlotlessLivenessLeavesCounterAlone(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	r.RecordObservation("http://node-b", 80, 100)
	r.RecordObservation("http://node-b", 80, 100)
	require.Equal(t, 2, statusOf(t, r, "http://node-b").LagCount)

	r.RecordLiveness("http://node-b")
	assert.Equal(t, 2, statusOf(t, r, "http://node-b").LagCount)
}

func TestRegistry_UnknownEndpointIgnored(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	// observations for endpoints outside the configured set must not panic
	r.RecordObservation("http://rogue", 100, 100)
	r.RecordFailure("http://rogue")
	r.RecordLiveness("http://rogue")

	assert.Len(t, r.Snapshot(), 3)
}

func TestRegistry_ConcurrentRounds(t *testing.T) {
	r, _, _ := newTestRegistry(t, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.RecordObservation("http://node-a", uint64(100+n), uint64(100+n))
			r.RecordFailure("http://node-c")
			r.SnapshotActive()
			r.BestKnownSlot()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(149), statusOf(t, r, "http://node-a").LastKnownSlot)
	assert.Equal(t, StateQuarantined.String(), statusOf(t, r, "http://node-c").State)
}
