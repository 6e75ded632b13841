package storage

import (
	"context"
	"time"

	"github.com/fieldline/fieldline/internal/models"
)

// EntityStorage defines interface for the durable local entity cache.
// Entries are keyed by (entityType, id) and bounded by a per-type TTL.
// The implementation never touches the network.
type EntityStorage interface {
	// Put stores or overwrites a single entity. ttl == 0 uses the
	// configured default for the entity type.
	Put(ctx context.Context, entityType string, data models.EntityData, ttl time.Duration) error

	// PutMany stores a batch of entities in one transaction
	PutMany(ctx context.Context, entityType string, entities []models.EntityData, ttl time.Duration) error

	// Get returns the payload of one cached entity.
	// Returns ErrEntityNotFound if absent; an entry found expired is
	// deleted and reported as absent unless includeExpired is set.
	Get(ctx context.Context, entityType, id string, includeExpired bool) (models.EntityData, error)

	// GetEntry returns the full cache record including TTL bookkeeping
	GetEntry(ctx context.Context, entityType, id string) (*models.CachedEntity, error)

	// GetAll returns payloads of all cached entities of a type,
	// filtering out expired entries unless includeExpired is set
	GetAll(ctx context.Context, entityType string, includeExpired bool) ([]models.EntityData, error)

	// PutOfflineCreated stores an entity created locally while offline
	PutOfflineCreated(ctx context.Context, entityType string, data models.EntityData, ttl time.Duration) error

	// Delete removes one entity from the cache. Missing entries are not an error.
	Delete(ctx context.Context, entityType, id string) error

	// Clear removes all cached entities of a type
	Clear(ctx context.Context, entityType string) error

	// SweepExpired deletes every entry past its TTL across all entity
	// types using the expiry index. Returns the number of deleted entries.
	SweepExpired(ctx context.Context) (int, error)
}
