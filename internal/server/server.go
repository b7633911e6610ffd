package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"solana-raceproxy-go/internal/config"
	"solana-raceproxy-go/internal/proxy"
	"solana-raceproxy-go/internal/web"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RPCRacer is the slice of the racer the transport needs.
type RPCRacer interface {
	Race(ctx context.Context, req proxy.Request) (*proxy.RawResponse, error)
}

// Server 包装 HTTP 服务：JSON-RPC 透传入口、状态 API、指标与 WS 推送
type Server struct {
	cfg      *config.Config
	racer    RPCRacer
	registry *proxy.Registry
	wsHub    *web.Hub
}

func New(cfg *config.Config, racer RPCRacer, registry *proxy.Registry, wsHub *web.Hub) *Server {
	return &Server{
		cfg:      cfg,
		racer:    racer,
		registry: registry,
		wsHub:    wsHub,
	}
}

// Handler builds the route table. Split out of Start so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// JSON-RPC 透传入口
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleRPC(w, r)
	})

	// 端点健康状态
	mux.HandleFunc("/api/endpoints", s.handleEndpoints)

	// 健康事件推送
	if s.wsHub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			s.wsHub.HandleWS(w, r)
		})
	}

	// Prometheus 指标
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("proxy_listening", slog.String("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
