// Package store provides the PostgreSQL persistence layer for the
// reminiscence backend: patients and their caregiver/supporter
// relationships, photo metadata, therapy sessions, and saved voice
// transcripts.
//
// All operations share a single [pgxpool.Pool]. [New] runs [Migrate] so the
// required tables always exist.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNoAccess is returned by [Store.VerifyAccess] when the user has no
// caregiver or supporter relationship with the patient.
var ErrNoAccess = errors.New("store: no access to patient")

// Store is the PostgreSQL-backed data store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
