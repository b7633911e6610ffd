package proxy

import (
	"context"
	"time"
)

// EndpointState 端点状态
type EndpointState int

const (
	StateActive EndpointState = iota
	StateQuarantined
)

func (s EndpointState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// Request is a decoded client request: the JSON-RPC method name plus the raw
// body that gets forwarded to upstreams byte-for-byte.
type Request struct {
	Method string
	Body   []byte
}

// RawResponse is one upstream's answer, passed through to the client verbatim
// when it wins the race.
type RawResponse struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

// UpstreamCaller performs a single call attempt against one endpoint.
// No retries here; retry policy, if any, belongs to the implementation.
type UpstreamCaller interface {
	Call(ctx context.Context, endpointID string, body []byte) (*RawResponse, error)
}

// CallOutcome is the resolved result of one per-endpoint call within a round.
type CallOutcome struct {
	EndpointID string
	Resp       *RawResponse
	Err        error
	Slot       uint64
	HasSlot    bool
	ArrivedAt  time.Time
}

// RequestRound correlates all per-endpoint calls spawned for one client
// request. Created at dispatch, populated as calls complete, consumed once by
// the analyzer, then discarded.
type RequestRound struct {
	ID         string
	Method     string
	Dispatched int
	Outcomes   []CallOutcome
}

// EndpointStatus 端点的只读视图（/api/endpoints 与 WS 推送使用）
type EndpointStatus struct {
	ID               string     `json:"id"`
	State            string     `json:"state"`
	LastKnownSlot    uint64     `json:"last_known_slot"`
	LagCount         int        `json:"lag_count"`
	ProbeFailures    int        `json:"probe_failures"`
	QuarantinedSince *time.Time `json:"quarantined_since,omitempty"`
	QuarantinedUntil *time.Time `json:"quarantined_until,omitempty"`
}

// HealthEvent is emitted by the registry on every quarantine / reinstatement
// transition. Consumed by the websocket hub and the optional journal.
type HealthEvent struct {
	EndpointID       string    `json:"endpoint_id"`
	Event            string    `json:"event"` // "quarantined" | "reinstated"
	ObservedSlot     uint64    `json:"observed_slot"`
	CanonicalSlot    uint64    `json:"canonical_slot"`
	LagCount         int       `json:"lag_count"`
	QuarantinedUntil time.Time `json:"quarantined_until,omitempty"`
	At               time.Time `json:"at"`
}

const (
	EventQuarantined = "quarantined"
	EventReinstated  = "reinstated"
)

// EventSink receives health events. Implementations must not block: the
// registry publishes from its hot path.
type EventSink interface {
	PublishHealthEvent(ev HealthEvent)
}

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) PublishHealthEvent(ev HealthEvent) {
	for _, s := range m {
		s.PublishHealthEvent(ev)
	}
}
