package storage

import (
	"context"
	"time"

	"github.com/fieldline/fieldline/internal/models"
)

// ConflictStorage defines interface for the durable conflict log.
// Records are append-only: resolution mutates the flag in place and the
// only deletion path is an age-scoped purge of already-resolved records.
type ConflictStorage interface {
	// SaveConflict stores or overwrites a conflict record by id
	SaveConflict(ctx context.Context, record *models.ConflictRecord) error

	// GetConflict retrieves a conflict record by id.
	// Returns ErrConflictNotFound if absent.
	GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error)

	// ListUnresolved returns all conflicts awaiting resolution
	ListUnresolved(ctx context.Context) ([]*models.ConflictRecord, error)

	// ListResolved returns all conflicts that already have a resolution
	ListResolved(ctx context.Context) ([]*models.ConflictRecord, error)

	// ListConflictsForEntity returns all conflicts recorded for one entity
	ListConflictsForEntity(ctx context.Context, entityType, entityID string) ([]*models.ConflictRecord, error)

	// CountUnresolved returns the number of unresolved conflicts
	CountUnresolved(ctx context.Context) (int, error)

	// PurgeResolvedBefore deletes resolved conflicts whose resolution time
	// is older than cutoff. Returns the number of deleted records.
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
