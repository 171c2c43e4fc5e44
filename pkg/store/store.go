// Package store is the single persistence layer for the orchestration
// kernel. It owns every durable row; all mutation goes through the
// swarm manager, which calls into here.
//
// Concurrency contract: readers run concurrently on the WAL database,
// writers are serialized behind writeMu. Multi-row mutations are
// transactional.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound            = errors.New("store: not found")
	ErrInvalidTransition   = errors.New("store: invalid status transition")
	ErrRetryBudgetExceeded = errors.New("store: retry budget exceeded")
	ErrIntegrity           = errors.New("store: integrity violation")
)

// Store wraps the sqlite database holding swarms, agents, tasks,
// sessions and orchestration events.
type Store struct {
	db         *sql.DB
	maxRetries int
	writeMu    sync.Mutex
}

// Open opens (and if needed creates) the database at path. maxRetries
// is the task retry budget enforced by IncrementRetry.
func Open(path string, maxRetries int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, maxRetries: maxRetries}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MaxRetries returns the configured task retry budget.
func (s *Store) MaxRetries() int {
	return s.maxRetries
}

// withTx runs fn inside a serialized write transaction. A transient
// busy error is retried once before surfacing.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.runTx(ctx, fn)
	if err != nil && isBusy(err) {
		err = s.runTx(ctx, fn)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "constraint")
}
