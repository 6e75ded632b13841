package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// SaveChange stores or overwrites a pending change.
// The bucket is keyed by entityType/entityID, so the store itself
// guarantees at most one record per entity.
func (s *Storage) SaveChange(ctx context.Context, change *models.PendingChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal pending change: %w", err)
	}

	key := entityKey(change.EntityType, change.EntityID)

	return s.db.Update(func(tx *bbolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		byID := tx.Bucket(bucketPendingByID)

		// Если запись для сущности уже есть, убираем её старый id из индекса
		if old := pending.Get(key); old != nil {
			var prev models.PendingChange
			if err := json.Unmarshal(old, &prev); err == nil && prev.ID != change.ID {
				if err := byID.Delete([]byte(prev.ID)); err != nil {
					return fmt.Errorf("failed to delete old id index: %w", err)
				}
			}
		}

		if err := pending.Put(key, data); err != nil {
			return fmt.Errorf("failed to save pending change: %w", err)
		}
		if err := byID.Put([]byte(change.ID), key); err != nil {
			return fmt.Errorf("failed to update id index: %w", err)
		}
		return nil
	})
}

// GetChange retrieves a pending change by its queue id
func (s *Storage) GetChange(ctx context.Context, id string) (*models.PendingChange, error) {
	var change *models.PendingChange

	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketPendingByID).Get([]byte(id))
		if key == nil {
			return storage.ErrChangeNotFound
		}

		data := tx.Bucket(bucketPending).Get(key)
		if data == nil {
			return storage.ErrChangeNotFound
		}

		change = &models.PendingChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return fmt.Errorf("failed to unmarshal pending change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

// GetChangeForEntity retrieves the live change for an entity, if any
func (s *Storage) GetChangeForEntity(ctx context.Context, entityType, entityID string) (*models.PendingChange, error) {
	var change *models.PendingChange

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPending).Get(entityKey(entityType, entityID))
		if data == nil {
			return storage.ErrChangeNotFound
		}

		change = &models.PendingChange{}
		if err := json.Unmarshal(data, change); err != nil {
			return fmt.Errorf("failed to unmarshal pending change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

// ListChanges returns all pending changes, optionally filtered by status
func (s *Storage) ListChanges(ctx context.Context, status models.ChangeStatus) ([]*models.PendingChange, error) {
	var changes []*models.PendingChange

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			change := &models.PendingChange{}
			if err := json.Unmarshal(v, change); err != nil {
				return fmt.Errorf("failed to unmarshal pending change: %w", err)
			}
			if status != "" && change.Status != status {
				return nil
			}
			changes = append(changes, change)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return changes, nil
}

// CountChanges returns the number of queued changes with the given status,
// or all changes when status is empty
func (s *Storage) CountChanges(ctx context.Context, status models.ChangeStatus) (int, error) {
	changes, err := s.ListChanges(ctx, status)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

// DeleteChange removes a pending change by queue id
func (s *Storage) DeleteChange(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		byID := tx.Bucket(bucketPendingByID)

		key := byID.Get([]byte(id))
		if key == nil {
			return storage.ErrChangeNotFound
		}

		if err := tx.Bucket(bucketPending).Delete(key); err != nil {
			return fmt.Errorf("failed to delete pending change: %w", err)
		}
		if err := byID.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete id index: %w", err)
		}
		return nil
	})
}

// ClearChanges removes every record from the queue
func (s *Storage) ClearChanges(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPending, bucketPendingByID} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete %s bucket: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("failed to recreate %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
