// Package store persists log records and knowledge-base items.
//
// Two backends implement Store: GormStore on PostgreSQL for deployments,
// and BadgerStore, an embedded store for single-node installs and tests.
// Both serialize writes per record key and never create a record from a
// learn-state patch.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/secureflow/backend/internal/models"
)

var (
	// ErrNotFound is returned when a key or id does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrPersistence wraps every failure of the underlying durable storage.
	ErrPersistence = errors.New("persistence failure")
)

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// LogStore is the durable source of truth for log records.
type LogStore interface {
	// Upsert inserts rec or replaces every field of the existing row except
	// CreatedAt. UpdatedAt is set to the store clock. Returns the stored row.
	Upsert(ctx context.Context, rec models.LogRecord) (models.LogRecord, error)
	GetByKey(ctx context.Context, key string) (models.LogRecord, error)
	// ListRecent returns at most limit records, newest CreatedAt first.
	ListRecent(ctx context.Context, limit int) ([]models.LogRecord, error)
	ListLearnQueue(ctx context.Context) ([]models.LogRecord, error)
	// ListSince returns records with CreatedAt >= since, newest first.
	ListSince(ctx context.Context, since time.Time) ([]models.LogRecord, error)
	Count(ctx context.Context, f Filter) (int64, error)
	// PatchLearnState updates only learning fields and UpdatedAt.
	PatchLearnState(ctx context.Context, key string, patch models.LearnPatch) (models.LogRecord, error)
}

// KBStore is the append-only knowledge base.
type KBStore interface {
	AddKBItem(ctx context.Context, item models.KBItem) (models.KBItem, error)
	// ListKBItems returns matching items, most recent first.
	ListKBItems(ctx context.Context, f models.KBFilter) ([]models.KBItem, error)
	// ExportKB returns every item in id order.
	ExportKB(ctx context.Context) ([]models.KBItem, error)
	// CountKB counts items created at or after since; zero since counts all.
	CountKB(ctx context.Context, since time.Time) (int64, error)
}

// Store is a complete backend.
type Store interface {
	LogStore
	KBStore
	Ping(ctx context.Context) error
	Close() error
}

// Clock returns the current time. Stores default to UTC wall time.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// stamp assigns CreatedAt and UpdatedAt for a write at now. existing is the
// stored CreatedAt, zero on insert.
func stamp(rec *models.LogRecord, existing, now time.Time) {
	if existing.IsZero() {
		rec.CreatedAt = now
	} else {
		rec.CreatedAt = existing
	}
	rec.UpdatedAt = now
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}
}
