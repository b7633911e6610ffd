package journal

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS endpoint_events (
	id BIGSERIAL PRIMARY KEY,
	endpoint TEXT NOT NULL,
	event TEXT NOT NULL,
	observed_slot BIGINT NOT NULL DEFAULT 0,
	canonical_slot BIGINT NOT NULL DEFAULT 0,
	lag_count INTEGER NOT NULL DEFAULT 0,
	quarantined_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_endpoint_events_endpoint ON endpoint_events (endpoint, id DESC);
`

// EnsureSchema 启动时应用审计表结构
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}
