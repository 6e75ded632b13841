package storage

import (
	"context"

	"github.com/fieldline/fieldline/internal/models"
)

// PendingStorage defines interface for the durable pending change log.
// The store enforces at most one record per (entityType, entityId);
// coalescing of repeated mutations lives in the queue service above it.
type PendingStorage interface {
	// SaveChange stores or overwrites a pending change. The record for a
	// given (EntityType, EntityID) pair is replaced wholesale.
	SaveChange(ctx context.Context, change *models.PendingChange) error

	// GetChange retrieves a pending change by its queue id.
	// Returns ErrChangeNotFound if absent.
	GetChange(ctx context.Context, id string) (*models.PendingChange, error)

	// GetChangeForEntity retrieves the live change for an entity, if any.
	// Returns ErrChangeNotFound if absent.
	GetChangeForEntity(ctx context.Context, entityType, entityID string) (*models.PendingChange, error)

	// ListChanges returns all pending changes, optionally filtered by status
	ListChanges(ctx context.Context, status models.ChangeStatus) ([]*models.PendingChange, error)

	// CountChanges returns the number of queued changes with the given
	// status, or all changes when status is empty
	CountChanges(ctx context.Context, status models.ChangeStatus) (int, error)

	// DeleteChange removes a pending change by queue id
	DeleteChange(ctx context.Context, id string) error

	// ClearChanges removes every record from the queue
	ClearChanges(ctx context.Context) error
}
