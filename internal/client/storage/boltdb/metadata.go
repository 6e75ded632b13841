package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

const keyAuthToken = "token"

// SaveSyncMetadata stores the watermark record for an entity type
func (s *Storage) SaveSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal sync metadata: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSyncMetadata).Put([]byte(meta.EntityType), data); err != nil {
			return fmt.Errorf("failed to save sync metadata: %w", err)
		}
		return nil
	})
}

// GetSyncMetadata retrieves the watermark record for an entity type.
// Returns a zero-valued record if no sync has been performed yet.
func (s *Storage) GetSyncMetadata(ctx context.Context, entityType string) (*models.SyncMetadata, error) {
	meta := &models.SyncMetadata{EntityType: entityType}

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSyncMetadata).Get([]byte(entityType))
		if data == nil {
			// Первая синхронизация: нулевой watermark
			return nil
		}
		if err := json.Unmarshal(data, meta); err != nil {
			return fmt.Errorf("failed to unmarshal sync metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}

// SaveToken stores the bearer token used for API requests
func (s *Storage) SaveToken(ctx context.Context, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketAuth).Put([]byte(keyAuthToken), []byte(token)); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		return nil
	})
}

// GetToken retrieves the stored bearer token
func (s *Storage) GetToken(ctx context.Context) (string, error) {
	var token string

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAuth).Get([]byte(keyAuthToken))
		if data == nil {
			return storage.ErrAuthNotFound
		}
		token = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// DeleteToken removes the stored bearer token
func (s *Storage) DeleteToken(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketAuth).Delete([]byte(keyAuthToken)); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}
		return nil
	})
}
