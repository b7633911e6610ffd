package journal

import (
	"context"
	"fmt"
	"time"

	"solana-raceproxy-go/internal/proxy"

	_ "github.com/jackc/pgx/v5/stdlib" // PGX Driver
	"github.com/jmoiron/sqlx"
)

// Event is the persisted form of a health transition.
type Event struct {
	ID               int64      `db:"id" json:"id"`
	Endpoint         string     `db:"endpoint" json:"endpoint"`
	Event            string     `db:"event" json:"event"`
	ObservedSlot     int64      `db:"observed_slot" json:"observed_slot"`
	CanonicalSlot    int64      `db:"canonical_slot" json:"canonical_slot"`
	LagCount         int        `db:"lag_count" json:"lag_count"`
	QuarantinedUntil *time.Time `db:"quarantined_until" json:"quarantined_until,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// Repository persists endpoint health transitions. The registry itself stays
// in memory; this table is an audit trail, not a source of truth.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	return &Repository{db: db}, nil
}

// NewRepositoryWithDB wraps an existing connection (tests use sqlmock here).
func NewRepositoryWithDB(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveEvent 插入一条健康事件
func (r *Repository) SaveEvent(ctx context.Context, ev proxy.HealthEvent) error {
	rec := Event{
		Endpoint:      ev.EndpointID,
		Event:         ev.Event,
		ObservedSlot:  int64(ev.ObservedSlot),
		CanonicalSlot: int64(ev.CanonicalSlot),
		LagCount:      ev.LagCount,
		CreatedAt:     ev.At,
	}
	if !ev.QuarantinedUntil.IsZero() {
		until := ev.QuarantinedUntil
		rec.QuarantinedUntil = &until
	}

	query := `
		INSERT INTO endpoint_events
		(endpoint, event, observed_slot, canonical_slot, lag_count, quarantined_until, created_at)
		VALUES
		(:endpoint, :event, :observed_slot, :canonical_slot, :lag_count, :quarantined_until, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

// RecentEvents 返回最近的健康事件（新到旧）
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []Event
	err := r.db.SelectContext(ctx, &events,
		`SELECT id, endpoint, event, observed_slot, canonical_slot, lag_count, quarantined_until, created_at
		 FROM endpoint_events ORDER BY id DESC LIMIT $1`, limit)
	return events, err
}
