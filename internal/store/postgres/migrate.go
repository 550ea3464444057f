// internal/store/postgres/migrate.go
package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT,
		phone      TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS donors (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL UNIQUE REFERENCES users (id),
		blood_type    TEXT NOT NULL,
		latitude      DOUBLE PRECISION,
		longitude     DOUBLE PRECISION,
		available     BOOLEAN NOT NULL DEFAULT true,
		last_donation TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS donors_search_idx
		ON donors (blood_type, latitude, longitude) WHERE available`,
	`CREATE TABLE IF NOT EXISTS blood_requests (
		id                TEXT PRIMARY KEY,
		requester_id      TEXT NOT NULL REFERENCES users (id),
		blood_type        TEXT NOT NULL,
		urgency           SMALLINT NOT NULL CHECK (urgency BETWEEN 1 AND 4),
		latitude          DOUBLE PRECISION NOT NULL,
		longitude         DOUBLE PRECISION NOT NULL,
		units_needed      INTEGER NOT NULL DEFAULT 1,
		fulfilled         BOOLEAN NOT NULL DEFAULT false,
		accepted_offer_id TEXT,
		version           BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS blood_requests_open_idx
		ON blood_requests (latitude, longitude) WHERE NOT fulfilled`,
	`CREATE TABLE IF NOT EXISTS offers (
		id           TEXT PRIMARY KEY,
		donor_id     TEXT NOT NULL REFERENCES donors (id),
		request_id   TEXT NOT NULL REFERENCES blood_requests (id),
		status       TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
		message      TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		responded_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS offers_active_pair_idx
		ON offers (donor_id, request_id) WHERE status IN ('pending', 'accepted')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS offers_one_accepted_idx
		ON offers (request_id) WHERE status = 'accepted'`,
}

// Migrate creates the tables and indexes the store needs.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	s.logger.Info("schema up to date", map[string]interface{}{"statements": len(schema)})
	return nil
}
