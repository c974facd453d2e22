package core

import (
	"context"
	"fmt"
)

// Migrate creates the phoneauth schema and tables. Idempotent; intended
// to run at startup.
func (s *Service) Migrate(ctx context.Context) error {
	if s.pg == nil {
		return nil
	}
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS phoneauth`,
		`CREATE TABLE IF NOT EXISTS phoneauth.users (
			id UUID PRIMARY KEY,
			phone_number TEXT NOT NULL UNIQUE,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS phoneauth.sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES phoneauth.users (id) ON DELETE CASCADE,
			phone_number TEXT NOT NULL,
			refresh_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_refresh_hash_idx ON phoneauth.sessions (refresh_hash)`,
		`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON phoneauth.sessions (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pg.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate phoneauth: %w", err)
		}
	}
	return nil
}
