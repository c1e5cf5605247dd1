package archive

import (
	"context"
	"fmt"
)

// Schema creates the archive table.
const Schema = `
CREATE TABLE IF NOT EXISTS live_dispatch_calls (
	cad_number            TEXT PRIMARY KEY,
	call_id               BIGINT NOT NULL,
	call_type_code        TEXT,
	call_type_description TEXT,
	priority              TEXT,
	received_at           TIMESTAMPTZ NOT NULL,
	dispatch_at           TIMESTAMPTZ,
	on_scene_at           TIMESTAMPTZ,
	closed_at             TIMESTAMPTZ,
	latitude              DOUBLE PRECISION,
	longitude             DOUBLE PRECISION,
	location_text         TEXT,
	district              TEXT,
	disposition           TEXT,
	first_seen_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS live_dispatch_calls_received_at_idx
	ON live_dispatch_calls (received_at DESC);
`

const upsertSQL = `
INSERT INTO live_dispatch_calls (
	cad_number, call_id, call_type_code, call_type_description, priority,
	received_at, dispatch_at, on_scene_at, closed_at,
	latitude, longitude, location_text, district, disposition, last_seen_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (cad_number) DO UPDATE SET
	call_id               = EXCLUDED.call_id,
	call_type_code        = EXCLUDED.call_type_code,
	call_type_description = EXCLUDED.call_type_description,
	priority              = EXCLUDED.priority,
	received_at           = EXCLUDED.received_at,
	dispatch_at           = EXCLUDED.dispatch_at,
	on_scene_at           = EXCLUDED.on_scene_at,
	closed_at             = EXCLUDED.closed_at,
	latitude              = COALESCE(EXCLUDED.latitude, live_dispatch_calls.latitude),
	longitude             = COALESCE(EXCLUDED.longitude, live_dispatch_calls.longitude),
	location_text         = EXCLUDED.location_text,
	district              = EXCLUDED.district,
	disposition           = EXCLUDED.disposition,
	last_seen_at          = EXCLUDED.last_seen_at
WHERE live_dispatch_calls.last_seen_at <= EXCLUDED.last_seen_at
`

// EnsureSchema creates the archive table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}
