package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Racer fans one client request out to every active endpoint and returns the
// first successful response. The remaining in-flight calls are not cancelled:
// they keep running in the background so the analyzer can measure every
// endpoint's slot against the round's canonical slot.
type Racer struct {
	registry *Registry
	caller   UpstreamCaller
	analyzer *Analyzer

	requestTimeout time.Duration
	stragglerWait  time.Duration

	metrics *Metrics
}

func NewRacer(registry *Registry, caller UpstreamCaller, analyzer *Analyzer, requestTimeout, stragglerWait time.Duration) *Racer {
	return &Racer{
		registry:       registry,
		caller:         caller,
		analyzer:       analyzer,
		requestTimeout: requestTimeout,
		stragglerWait:  stragglerWait,
		metrics:        GetMetrics(),
	}
}

// Race dispatches req to every endpoint that is active right now and returns
// the first successful response. A per-endpoint failure never wins; if every
// call fails the race fails with ErrAllEndpointsFailed. The client wait is
// bounded by ctx and the overall request timeout; straggler collection
// continues detached from both.
func (rc *Racer) Race(ctx context.Context, req Request) (*RawResponse, error) {
	active := rc.registry.SnapshotActive()
	if len(active) == 0 {
		rc.metrics.RequestErrors.WithLabelValues("no_healthy_endpoints").Inc()
		return nil, ErrNoHealthyEndpoints
	}

	rc.metrics.RequestsTotal.Inc()
	start := time.Now()

	round := &RequestRound{
		ID:         uuid.NewString(),
		Method:     req.Method,
		Dispatched: len(active),
	}

	// Calls run under a context detached from the client: a disconnect must
	// not rob the analyzer of straggler observations. Each call still
	// self-bounds via the caller's own timeout.
	callCtx, cancelCalls := context.WithCancel(context.Background())
	results := make(chan CallOutcome, len(active))

	for _, id := range active {
		go func(endpointID string) {
			resp, err := rc.caller.Call(callCtx, endpointID, req.Body)
			out := CallOutcome{
				EndpointID: endpointID,
				Resp:       resp,
				Err:        err,
				ArrivedAt:  time.Now(),
			}
			if err == nil {
				out.Slot, out.HasSlot = ExtractSlot(req.Method, resp.Body)
			}
			results <- out
		}(id)
	}

	// winnerCh carries the first success; closed without a value when the
	// whole round failed.
	winnerCh := make(chan *RawResponse, 1)
	go rc.collect(round, results, winnerCh, cancelCalls)

	timer := time.NewTimer(rc.requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-winnerCh:
		if !ok {
			rc.metrics.RequestErrors.WithLabelValues("all_endpoints_failed").Inc()
			return nil, ErrAllEndpointsFailed
		}
		rc.metrics.RequestDuration.Observe(time.Since(start).Seconds())
		return resp, nil
	case <-ctx.Done():
		rc.metrics.RequestErrors.WithLabelValues("timeout").Inc()
		return nil, ErrTimeout
	case <-timer.C:
		rc.metrics.RequestErrors.WithLabelValues("timeout").Inc()
		return nil, ErrTimeout
	}
}

// collect owns the round: it forwards the first success to winnerCh, keeps
// gathering stragglers until all calls resolve or the straggler deadline
// (measured from the win) elapses, then hands the round to the analyzer
// exactly once. Calls still pending at close drain through the analyzer's
// single-observation path, so no completed call is ever lost or
// double-counted.
func (rc *Racer) collect(round *RequestRound, results <-chan CallOutcome, winnerCh chan<- *RawResponse, cancelCalls context.CancelFunc) {
	pending := round.Dispatched
	won := false

	var deadlineTimer *time.Timer
	var deadline <-chan time.Time

	for pending > 0 {
		select {
		case out := <-results:
			pending--
			round.Outcomes = append(round.Outcomes, out)
			if out.Err == nil && !won {
				won = true
				winnerCh <- out.Resp
				rc.metrics.RaceWins.WithLabelValues(MaskURL(out.EndpointID)).Inc()
				Logger.Debug("race_won",
					slog.String("round_id", round.ID),
					slog.String("endpoint", MaskURL(out.EndpointID)),
					slog.Duration("latency", out.Resp.Latency),
				)
				deadlineTimer = time.NewTimer(rc.stragglerWait)
				deadline = deadlineTimer.C
			}
		case <-deadline:
			pending = -pending // flag: leave loop with stragglers outstanding
		}
	}
	if deadlineTimer != nil {
		deadlineTimer.Stop()
	}
	if !won {
		close(winnerCh)
	}

	rc.analyzer.Analyze(round)

	if pending < 0 {
		// Round is closed but calls are still in flight. Drain them through
		// the single-observation path; their own timeouts bound the wait.
		outstanding := -pending
		go func() {
			for i := 0; i < outstanding; i++ {
				out := <-results
				rc.analyzer.ObserveSingle(out.EndpointID, out.Slot, out.HasSlot, out.Err)
			}
			cancelCalls()
		}()
		return
	}
	cancelCalls()
}
