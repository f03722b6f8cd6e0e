// Package store is the typed data-access layer over the inline SQL in
// internal/sqlinline. The two claim statements and the finalize CAS are the
// only concurrency primitives the engines rely on; everything else here is
// plain reads and writes.
package store

import (
	"context"

	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/sqlinline"
)

// Store executes the orchestration SQL against a SQLExecutor.
type Store struct {
	sql    infra.SQLExecutor
	logger zerolog.Logger
}

// New wires a Store over the given executor.
func New(sql infra.SQLExecutor, logger zerolog.Logger) *Store {
	return &Store{sql: sql, logger: logger.With().Str("component", "store").Logger()}
}

// EnsureSchema applies the DDL statements in order. Every statement is
// idempotent, so calling this on every startup is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqlinline.Schema {
		if _, err := s.sql.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
