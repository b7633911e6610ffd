package proxy

import "log/slog"

// Analyzer consumes closed rounds, establishes the canonical slot and feeds
// every observation into the registry. It is the only component that calls
// the registry's mutation methods, so all state-machine input flows through
// one place.
type Analyzer struct {
	registry *Registry
	metrics  *Metrics
}

func NewAnalyzer(registry *Registry) *Analyzer {
	return &Analyzer{
		registry: registry,
		metrics:  GetMetrics(),
	}
}

// Analyze processes one closed round. The canonical slot is the maximum slot
// among the round's successful slot-bearing observations: the highest slot
// seen is the best available approximation of chain truth; there is no
// separate ground truth to query. A round with no slot-bearing success
// contributes no lag signal, only per-endpoint failure accounting.
func (a *Analyzer) Analyze(round *RequestRound) {
	var canonical uint64
	hasCanonical := false
	for _, out := range round.Outcomes {
		if out.Err == nil && out.HasSlot && out.Slot > canonical {
			canonical = out.Slot
			hasCanonical = true
		}
	}
	if hasCanonical {
		a.metrics.CanonicalSlot.Set(float64(canonical))
	}

	for _, out := range round.Outcomes {
		switch {
		case out.Err != nil:
			a.registry.RecordFailure(out.EndpointID)
		case !out.HasSlot:
			a.registry.RecordLiveness(out.EndpointID)
		default:
			a.registry.RecordObservation(out.EndpointID, out.Slot, canonical)
		}
	}

	Logger.Debug("round_analyzed",
		slog.String("round_id", round.ID),
		slog.String("method", round.Method),
		slog.Int("dispatched", round.Dispatched),
		slog.Int("resolved", len(round.Outcomes)),
		slog.Uint64("canonical_slot", canonical),
	)
}

// ObserveSingle feeds a one-endpoint observation (a recovery probe or a
// straggler that resolved after its round closed) through the same update
// path. The comparison reference is the best slot the registry has seen
// anywhere, since a single endpoint cannot be compared against itself.
func (a *Analyzer) ObserveSingle(endpointID string, slot uint64, hasSlot bool, err error) {
	if err != nil {
		a.registry.RecordFailure(endpointID)
		return
	}
	if !hasSlot {
		a.registry.RecordLiveness(endpointID)
		return
	}
	canonical := a.registry.BestKnownSlot()
	if slot > canonical {
		canonical = slot
	}
	a.registry.RecordObservation(endpointID, slot, canonical)
}
