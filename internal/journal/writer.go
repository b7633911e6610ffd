package journal

import (
	"context"
	"log/slog"
	"time"

	"solana-raceproxy-go/internal/proxy"
)

const writeTimeout = 3 * time.Second

// Writer decouples the registry's hot path from Postgres: events are queued
// on a buffered channel and flushed by a single background goroutine. When
// the buffer is full the event is dropped; the audit trail must never block
// or slow a dispatch decision.
type Writer struct {
	repo   *Repository
	events chan proxy.HealthEvent
	logger *slog.Logger
}

func NewWriter(repo *Repository) *Writer {
	return &Writer{
		repo:   repo,
		events: make(chan proxy.HealthEvent, 256),
		logger: proxy.Logger,
	}
}

// PublishHealthEvent implements proxy.EventSink. Non-blocking.
func (w *Writer) PublishHealthEvent(ev proxy.HealthEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("journal_buffer_full_dropping_event",
			slog.String("endpoint", proxy.MaskURL(ev.EndpointID)),
			slog.String("event", ev.Event),
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	w.logger.Info("journal_writer_started")
	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.logger.Info("journal_writer_stopped")
			return
		case ev := <-w.events:
			w.save(ev)
		}
	}
}

func (w *Writer) save(ev proxy.HealthEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.repo.SaveEvent(ctx, ev); err != nil {
		w.logger.Error("journal_save_failed",
			slog.String("endpoint", proxy.MaskURL(ev.EndpointID)),
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Writer) drain() {
	for {
		select {
		case ev := <-w.events:
			w.save(ev)
		default:
			return
		}
	}
}
