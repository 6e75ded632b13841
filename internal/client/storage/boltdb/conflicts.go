package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// SaveConflict stores or overwrites a conflict record by id
func (s *Storage) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketConflicts).Put([]byte(record.ID), data); err != nil {
			return fmt.Errorf("failed to save conflict record: %w", err)
		}
		return nil
	})
}

// GetConflict retrieves a conflict record by id
func (s *Storage) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	var record *models.ConflictRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConflicts).Get([]byte(id))
		if data == nil {
			return storage.ErrConflictNotFound
		}

		record = &models.ConflictRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal conflict record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListUnresolved returns all conflicts awaiting resolution
func (s *Storage) ListUnresolved(ctx context.Context) ([]*models.ConflictRecord, error) {
	return s.listConflicts(func(r *models.ConflictRecord) bool {
		return !r.Resolved
	})
}

// ListResolved returns all conflicts that already have a resolution
func (s *Storage) ListResolved(ctx context.Context) ([]*models.ConflictRecord, error) {
	return s.listConflicts(func(r *models.ConflictRecord) bool {
		return r.Resolved
	})
}

// ListConflictsForEntity returns all conflicts recorded for one entity
func (s *Storage) ListConflictsForEntity(ctx context.Context, entityType, entityID string) ([]*models.ConflictRecord, error) {
	return s.listConflicts(func(r *models.ConflictRecord) bool {
		return r.EntityType == entityType && r.EntityID == entityID
	})
}

// CountUnresolved returns the number of unresolved conflicts
func (s *Storage) CountUnresolved(ctx context.Context) (int, error) {
	records, err := s.ListUnresolved(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// listConflicts итерируется по журналу с произвольным фильтром
func (s *Storage) listConflicts(keep func(*models.ConflictRecord) bool) ([]*models.ConflictRecord, error) {
	var records []*models.ConflictRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConflicts).ForEach(func(k, v []byte) error {
			record := &models.ConflictRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to unmarshal conflict record: %w", err)
			}
			if keep(record) {
				records = append(records, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// PurgeResolvedBefore deletes resolved conflicts whose resolution time is
// older than cutoff. Unresolved records are never deleted.
func (s *Storage) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	count := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketConflicts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record := &models.ConflictRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to unmarshal conflict record: %w", err)
			}
			if !record.Resolved || record.ResolvedAt == nil || !record.ResolvedAt.Before(cutoff) {
				continue
			}
			if err := c.Delete(); err != nil {
				return fmt.Errorf("failed to delete conflict record: %w", err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
