package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"solana-raceproxy-go/internal/proxy"
)

// maxRequestBytes bounds client request bodies.
const maxRequestBytes = 1 << 20

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	// 只窥探 method 字段（提取 slot 时需要），请求体原样透传
	var peek struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(body, &peek)

	resp, err := s.racer.Race(r.Context(), proxy.Request{
		Method: peek.Method,
		Body:   body,
	})
	if err != nil {
		writeRaceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		slog.Warn("failed_to_write_response", slog.String("err", err.Error()))
	}
}

// writeRaceError maps the core's typed failures onto wire status codes. All
// of them are retryable conditions, never crashes.
func writeRaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proxy.ErrNoHealthyEndpoints):
		http.Error(w, "No healthy endpoints available", http.StatusServiceUnavailable)
	case errors.Is(err, proxy.ErrAllEndpointsFailed):
		http.Error(w, "All upstream endpoints failed", http.StatusBadGateway)
	case errors.Is(err, proxy.ErrTimeout):
		http.Error(w, "Upstream timeout", http.StatusGatewayTimeout)
	default:
		http.Error(w, "Internal proxy error", http.StatusInternalServerError)
	}
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"endpoints":       snapshot,
		"best_known_slot": s.registry.BestKnownSlot(),
	})
	if err != nil {
		slog.Error("failed_to_encode_endpoints", slog.String("err", err.Error()))
	}
}
