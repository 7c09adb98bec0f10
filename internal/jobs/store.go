package jobs

import (
	"context"
	"errors"
	"fmt"

	"textmill/internal/database"
	"textmill/internal/ingesterr"
)

// Store manages job persistence backed by the shared SQLite database.
type Store struct {
	db *database.DB
}

// NewStore wraps an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Open opens the database at path and returns a store that owns it.
func Open(path string) (*Store, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying database for stores sharing the same file.
func (s *Store) DB() *database.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// storeErr tags database failures as StoreUnavailable. Context cancellation
// passes through untagged so callers can tell shutdown from outages.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return ingesterr.Wrap(ingesterr.ErrStoreUnavailable, "jobs", op, "", err)
}
