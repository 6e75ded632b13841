package storage

import (
	"context"

	"github.com/fieldline/fieldline/internal/models"
)

// MetadataStorage defines interface for per-entity-type sync watermarks
type MetadataStorage interface {
	// SaveSyncMetadata stores the watermark record for an entity type
	SaveSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error

	// GetSyncMetadata retrieves the watermark record for an entity type.
	// Returns a zero-valued record if no sync has been performed yet.
	GetSyncMetadata(ctx context.Context, entityType string) (*models.SyncMetadata, error)
}

// AuthStorage defines interface for the stored API bearer token
type AuthStorage interface {
	// SaveToken stores the bearer token used for API requests
	SaveToken(ctx context.Context, token string) error

	// GetToken retrieves the stored bearer token.
	// Returns ErrAuthNotFound if no token has been saved.
	GetToken(ctx context.Context) (string, error)

	// DeleteToken removes the stored bearer token
	DeleteToken(ctx context.Context) error
}
