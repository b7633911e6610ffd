package proxy

import (
	"context"
	"log/slog"
	"time"
)

// probePayload is the lightweight slot-bearing request sent to quarantined
// endpoints. getSlot is the cheapest call that still tells us how far behind
// an endpoint is.
var probePayload = []byte(`{"jsonrpc":"2.0","id":1,"method":"getSlot"}`)

const probeMethod = "getSlot"

// Prober periodically probes quarantined endpoints, independent of client
// traffic. Probe results flow through the analyzer's single-observation path;
// a probe never reinstates an endpoint by itself (time is the sole authority
// for that) and a probe failure never shortens the window, it only feeds
// future backoff sizing.
type Prober struct {
	registry *Registry
	caller   UpstreamCaller
	analyzer *Analyzer
	interval time.Duration
	metrics  *Metrics
}

func NewProber(registry *Registry, caller UpstreamCaller, analyzer *Analyzer, interval time.Duration) *Prober {
	return &Prober{
		registry: registry,
		caller:   caller,
		analyzer: analyzer,
		interval: interval,
		metrics:  GetMetrics(),
	}
}

// Run blocks until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	Logger.Info("recovery_prober_started", slog.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			Logger.Info("recovery_prober_stopped")
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll issues one probe per quarantined endpoint. Probing runs even
// before the window expires, purely to gather early signal.
func (p *Prober) probeAll(ctx context.Context) {
	for _, id := range p.registry.QuarantinedIDs() {
		if ctx.Err() != nil {
			return
		}
		p.probeOne(ctx, id)
	}
}

func (p *Prober) probeOne(ctx context.Context, endpointID string) {
	label := MaskURL(endpointID)
	resp, err := p.caller.Call(ctx, endpointID, probePayload)
	if err != nil {
		p.metrics.ProbesTotal.WithLabelValues(label, "failure").Inc()
		Logger.Warn("probe_failed",
			slog.String("endpoint", label),
			slog.String("error", err.Error()),
		)
		p.analyzer.ObserveSingle(endpointID, 0, false, err)
		return
	}

	slot, hasSlot := ExtractSlot(probeMethod, resp.Body)
	p.metrics.ProbesTotal.WithLabelValues(label, "success").Inc()
	Logger.Debug("probe_completed",
		slog.String("endpoint", label),
		slog.Uint64("slot", slot),
		slog.Bool("slot_bearing", hasSlot),
	)
	p.analyzer.ObserveSingle(endpointID, slot, hasSlot, nil)
}
