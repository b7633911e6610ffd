package proxy

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"solana-raceproxy-go/internal/config"
)

// endpointEntry holds one endpoint's health state. All fields are guarded by
// mu; entries are created once at startup and never removed, so the entries
// map itself needs no lock.
type endpointEntry struct {
	mu sync.Mutex

	id            string
	lastKnownSlot uint64 // monotonic max, never decreases
	lagCount      int    // consecutive lag-weighted rounds
	probeFailures int    // consecutive probe failures while quarantined

	quarantinedSince time.Time
	quarantinedUntil time.Time

	// probation is set on lazy reinstatement: the endpoint is dispatchable
	// again, but the very next lag signal re-quarantines it without waiting
	// for the counter to climb back to the threshold.
	probation bool

	// cycleStamps records when this endpoint entered quarantine, evicted
	// outside the rolling backoff window. len(cycleStamps) is the backoff
	// attempt number.
	cycleStamps []time.Time
}

func (e *endpointEntry) isQuarantined(now time.Time) bool {
	return !e.quarantinedUntil.IsZero() && now.Before(e.quarantinedUntil)
}

// Registry owns all mutable endpoint health state and is its only writer.
// Reads and writes are serialized per endpoint; unrelated endpoints update
// fully in parallel.
type Registry struct {
	cfg     *config.Config
	entries map[string]*endpointEntry
	order   []string // stable iteration order for snapshots

	sink    EventSink // may be nil
	metrics *Metrics

	now func() time.Time // injectable clock for tests
}

func NewRegistry(cfg *config.Config, sink EventSink) *Registry {
	r := &Registry{
		cfg:     cfg,
		entries: make(map[string]*endpointEntry, len(cfg.RPCURLs)),
		order:   make([]string, 0, len(cfg.RPCURLs)),
		sink:    sink,
		metrics: GetMetrics(),
		now:     time.Now,
	}
	for _, url := range cfg.RPCURLs {
		if url == "" {
			continue
		}
		if _, dup := r.entries[url]; dup {
			continue
		}
		r.entries[url] = &endpointEntry{id: url}
		r.order = append(r.order, url)
	}
	return r
}

// SnapshotActive returns the endpoints currently eligible for dispatch.
// Quarantine-window expiry is applied lazily here: an expired window makes
// the endpoint active again before any probe has confirmed recovery.
func (r *Registry) SnapshotActive() []string {
	now := r.now()
	active := make([]string, 0, len(r.order))
	var events []HealthEvent

	for _, id := range r.order {
		e := r.entries[id]
		e.mu.Lock()
		if ev, ok := r.reinstateIfExpired(e, now); ok {
			events = append(events, ev)
		}
		if !e.isQuarantined(now) {
			active = append(active, id)
		}
		e.mu.Unlock()
	}

	r.metrics.ActiveEndpoints.Set(float64(len(active)))
	r.publish(events)
	return active
}

// QuarantinedIDs returns every endpoint presently inside its quarantine
// window. Used by the prober; probing is independent of dispatch eligibility.
func (r *Registry) QuarantinedIDs() []string {
	now := r.now()
	out := make([]string, 0)
	for _, id := range r.order {
		e := r.entries[id]
		e.mu.Lock()
		if e.isQuarantined(now) {
			out = append(out, id)
		}
		e.mu.Unlock()
	}
	return out
}

// RecordObservation updates last_known_slot (monotonic max), recomputes lag
// relative to canonicalSlot and applies the quarantine state machine.
func (r *Registry) RecordObservation(endpointID string, slot, canonicalSlot uint64) {
	e, ok := r.entries[endpointID]
	if !ok {
		return
	}
	now := r.now()
	var events []HealthEvent

	e.mu.Lock()
	if ev, ok := r.reinstateIfExpired(e, now); ok {
		events = append(events, ev)
	}

	if slot > e.lastKnownSlot {
		e.lastKnownSlot = slot
		r.metrics.EndpointSlot.WithLabelValues(MaskURL(endpointID)).Set(float64(slot))
	}

	var deviation uint64
	if canonicalSlot > slot {
		deviation = canonicalSlot - slot
	}
	r.metrics.EndpointLagSlots.WithLabelValues(MaskURL(endpointID)).Set(float64(deviation))

	if deviation > r.cfg.LagToleranceSlots {
		e.lagCount++
		if ev, ok := r.maybeQuarantine(e, now, slot, canonicalSlot); ok {
			events = append(events, ev)
		}
	} else {
		// 任何一次健康观测立即清零计数器：隔离需要持续落后，不是累计分数
		if !e.isQuarantined(now) {
			e.lagCount = 0
			e.probation = false
		}
	}
	e.mu.Unlock()

	r.publish(events)
}

// RecordLiveness notes a successful response that carried no slot. It is
// neither lag evidence nor a canonical-slot candidate, so it leaves the lag
// counter untouched in both directions.
func (r *Registry) RecordLiveness(endpointID string) {
	e, ok := r.entries[endpointID]
	if !ok {
		return
	}
	now := r.now()
	e.mu.Lock()
	ev, reinstated := r.reinstateIfExpired(e, now)
	e.mu.Unlock()
	if reinstated {
		r.publish([]HealthEvent{ev})
	}
}

// RecordFailure treats a call failure as a severe lag signal: the lag counter
// advances by the configured failure weight so unreachable endpoints
// quarantine faster than merely lagging ones. While quarantined, it also
// counts as a probe failure for future backoff sizing.
func (r *Registry) RecordFailure(endpointID string) {
	e, ok := r.entries[endpointID]
	if !ok {
		return
	}
	now := r.now()
	var events []HealthEvent

	e.mu.Lock()
	if ev, ok := r.reinstateIfExpired(e, now); ok {
		events = append(events, ev)
	}

	if e.isQuarantined(now) {
		e.probeFailures++
	}
	e.lagCount += r.cfg.FailureLagWeight
	if ev, ok := r.maybeQuarantine(e, now, 0, 0); ok {
		events = append(events, ev)
	}
	e.mu.Unlock()

	r.publish(events)
}

// BestKnownSlot returns the highest slot ever observed across all endpoints.
// It is the comparison reference for single-observation paths (probes and
// late stragglers), since a quarantined endpoint cannot be compared against
// itself.
func (r *Registry) BestKnownSlot() uint64 {
	var best uint64
	for _, id := range r.order {
		e := r.entries[id]
		e.mu.Lock()
		if e.lastKnownSlot > best {
			best = e.lastKnownSlot
		}
		e.mu.Unlock()
	}
	return best
}

// Snapshot returns a read-only view of every endpoint for the status API.
func (r *Registry) Snapshot() []EndpointStatus {
	now := r.now()
	out := make([]EndpointStatus, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		e.mu.Lock()
		st := EndpointStatus{
			ID:            e.id,
			State:         StateActive.String(),
			LastKnownSlot: e.lastKnownSlot,
			LagCount:      e.lagCount,
			ProbeFailures: e.probeFailures,
		}
		if e.isQuarantined(now) {
			st.State = StateQuarantined.String()
			since, until := e.quarantinedSince, e.quarantinedUntil
			st.QuarantinedSince = &since
			st.QuarantinedUntil = &until
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// maybeQuarantine applies the Active→Quarantined transition. Must be called
// with e.mu held. An endpoint already inside its window is left alone: the
// window itself is the authority, probes only gather signal.
func (r *Registry) maybeQuarantine(e *endpointEntry, now time.Time, observed, canonical uint64) (HealthEvent, bool) {
	if e.isQuarantined(now) {
		return HealthEvent{}, false
	}
	if e.lagCount < r.cfg.LagThreshold && !e.probation {
		return HealthEvent{}, false
	}

	// 滚动窗口内的隔离次数决定退避档位
	cutoff := now.Add(-r.cfg.BackoffWindow)
	kept := e.cycleStamps[:0]
	for _, ts := range e.cycleStamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.cycleStamps = append(kept, now)
	attempt := len(e.cycleStamps)

	backoff := r.backoff(attempt, e.probeFailures)
	e.quarantinedSince = now
	e.quarantinedUntil = now.Add(backoff)
	e.probeFailures = 0
	e.probation = false

	r.metrics.QuarantinesTotal.WithLabelValues(MaskURL(e.id)).Inc()
	LogEndpointQuarantined(e.id, e.lagCount, e.quarantinedUntil.Format(time.RFC3339))

	return HealthEvent{
		EndpointID:       e.id,
		Event:            EventQuarantined,
		ObservedSlot:     observed,
		CanonicalSlot:    canonical,
		LagCount:         e.lagCount,
		QuarantinedUntil: e.quarantinedUntil,
		At:               now,
	}, true
}

// reinstateIfExpired applies the implicit Quarantined→Active transition once
// the window has passed. Time is the sole authority here. The lag counter is
// reset to give a fresh trial, but the endpoint stays on probation so a still
// lagging endpoint re-quarantines on the very next lag signal. Must be
// called with e.mu held.
func (r *Registry) reinstateIfExpired(e *endpointEntry, now time.Time) (HealthEvent, bool) {
	if e.quarantinedUntil.IsZero() || now.Before(e.quarantinedUntil) {
		return HealthEvent{}, false
	}
	e.quarantinedSince = time.Time{}
	e.quarantinedUntil = time.Time{}
	e.lagCount = 0
	e.probation = true

	r.metrics.ReinstatementsTotal.WithLabelValues(MaskURL(e.id)).Inc()
	LogEndpointReinstated(e.id)

	return HealthEvent{
		EndpointID: e.id,
		Event:      EventReinstated,
		At:         now,
	}, true
}

// backoff computes the quarantine window length: exponential in the number
// of quarantine cycles within the rolling window, stretched further for
// endpoints that were unreachable while quarantined, capped.
func (r *Registry) backoff(attempt, probeFailures int) time.Duration {
	d := float64(r.cfg.BaseBackoff) * math.Pow(r.cfg.BackoffGrowth, float64(attempt-1))
	d *= float64(1 + probeFailures)
	if capped := float64(r.cfg.MaxBackoff); d > capped {
		d = capped
	}
	return time.Duration(d)
}

func (r *Registry) publish(events []HealthEvent) {
	if r.sink == nil || len(events) == 0 {
		return
	}
	for _, ev := range events {
		r.sink.PublishHealthEvent(ev)
		Logger.Debug("health_event_published",
			slog.String("endpoint", MaskURL(ev.EndpointID)),
			slog.String("event", ev.Event),
		)
	}
}
