package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// expiryKey собирает ключ индекса: BigEndian(expiresAt) + entityType/entityID.
// Сортировка по времени истечения позволяет sweep останавливаться на первом
// еще не истекшем ключе.
func expiryKey(expiresAt time.Time, key []byte) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out[:8], uint64(expiresAt.UnixNano()))
	copy(out[8:], key)
	return out
}

// Put stores or overwrites a single entity.
// ttl == 0 uses the configured default for the entity type.
func (s *Storage) Put(ctx context.Context, entityType string, data models.EntityData, ttl time.Duration) error {
	return s.putEntity(ctx, entityType, data, ttl, false)
}

// PutOfflineCreated stores an entity created locally while offline
func (s *Storage) PutOfflineCreated(ctx context.Context, entityType string, data models.EntityData, ttl time.Duration) error {
	return s.putEntity(ctx, entityType, data, ttl, true)
}

func (s *Storage) putEntity(ctx context.Context, entityType string, data models.EntityData, ttl time.Duration, offlineCreated bool) error {
	entry, err := s.newEntry(entityType, data, ttl, offlineCreated)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return putEntityTx(tx, entry)
	})
}

// PutMany stores a batch of entities in one transaction
func (s *Storage) PutMany(ctx context.Context, entityType string, entities []models.EntityData, ttl time.Duration) error {
	entries := make([]*models.CachedEntity, 0, len(entities))
	for _, data := range entities {
		entry, err := s.newEntry(entityType, data, ttl, false)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, entry := range entries {
			if err := putEntityTx(tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// newEntry строит запись кэша с вычисленными TTL полями
func (s *Storage) newEntry(entityType string, data models.EntityData, ttl time.Duration, offlineCreated bool) (*models.CachedEntity, error) {
	id := data.ID()
	if id == "" {
		return nil, fmt.Errorf("entity of type %q has no id field", entityType)
	}
	if ttl <= 0 {
		ttl = s.TTLFor(entityType)
	}

	now := time.Now()
	entry := &models.CachedEntity{
		EntityType:     entityType,
		ID:             id,
		Data:           data,
		Version:        now.UnixMilli(),
		CachedAt:       now,
		ExpiresAt:      now.Add(ttl),
		OfflineCreated: offlineCreated,
	}
	if updatedAt, ok := data.UpdatedAt(); ok {
		entry.ServerUpdatedAt = &updatedAt
	}
	return entry, nil
}

// putEntityTx записывает запись и обновляет индекс истечения
func putEntityTx(tx *bbolt.Tx, entry *models.CachedEntity) error {
	key := entityKey(entry.EntityType, entry.ID)

	typeBucket, err := tx.Bucket(bucketEntities).CreateBucketIfNotExists([]byte(entry.EntityType))
	if err != nil {
		return fmt.Errorf("failed to create entity type bucket: %w", err)
	}

	// Снимаем старую индексную запись, если сущность уже была в кэше
	expiry := tx.Bucket(bucketExpiry)
	if old := typeBucket.Get([]byte(entry.ID)); old != nil {
		var prev models.CachedEntity
		if err := json.Unmarshal(old, &prev); err == nil {
			if err := expiry.Delete(expiryKey(prev.ExpiresAt, key)); err != nil {
				return fmt.Errorf("failed to delete old expiry index: %w", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	if err := typeBucket.Put([]byte(entry.ID), data); err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	if err := expiry.Put(expiryKey(entry.ExpiresAt, key), nil); err != nil {
		return fmt.Errorf("failed to update expiry index: %w", err)
	}
	return nil
}

// Get returns the payload of one cached entity.
// An entry found expired is deleted before being reported absent,
// unless includeExpired is set.
func (s *Storage) Get(ctx context.Context, entityType, id string, includeExpired bool) (models.EntityData, error) {
	entry, err := s.GetEntry(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	if !includeExpired && entry.Expired(time.Now()) {
		// Кэш самоочищающийся: истекшая запись удаляется при чтении
		if err := s.Delete(ctx, entityType, id); err != nil {
			return nil, fmt.Errorf("failed to delete expired entity: %w", err)
		}
		return nil, storage.ErrEntityNotFound
	}

	return entry.Data, nil
}

// GetEntry returns the full cache record regardless of expiry
func (s *Storage) GetEntry(ctx context.Context, entityType, id string) (*models.CachedEntity, error) {
	var entry *models.CachedEntity

	err := s.db.View(func(tx *bbolt.Tx) error {
		typeBucket := tx.Bucket(bucketEntities).Bucket([]byte(entityType))
		if typeBucket == nil {
			return storage.ErrEntityNotFound
		}

		data := typeBucket.Get([]byte(id))
		if data == nil {
			return storage.ErrEntityNotFound
		}

		entry = &models.CachedEntity{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// GetAll returns payloads of all cached entities of a type,
// filtering out expired entries unless includeExpired is set
func (s *Storage) GetAll(ctx context.Context, entityType string, includeExpired bool) ([]models.EntityData, error) {
	now := time.Now()
	var result []models.EntityData

	err := s.db.View(func(tx *bbolt.Tx) error {
		typeBucket := tx.Bucket(bucketEntities).Bucket([]byte(entityType))
		if typeBucket == nil {
			return nil
		}

		return typeBucket.ForEach(func(k, v []byte) error {
			entry := &models.CachedEntity{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("failed to unmarshal entity: %w", err)
			}
			if !includeExpired && entry.Expired(now) {
				return nil
			}
			result = append(result, entry.Data)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete removes one entity from the cache. Missing entries are not an error.
func (s *Storage) Delete(ctx context.Context, entityType, id string) error {
	key := entityKey(entityType, id)

	return s.db.Update(func(tx *bbolt.Tx) error {
		typeBucket := tx.Bucket(bucketEntities).Bucket([]byte(entityType))
		if typeBucket == nil {
			return nil
		}

		data := typeBucket.Get([]byte(id))
		if data == nil {
			return nil
		}

		// Убираем индексную запись вместе с самой сущностью
		var entry models.CachedEntity
		if err := json.Unmarshal(data, &entry); err == nil {
			if err := tx.Bucket(bucketExpiry).Delete(expiryKey(entry.ExpiresAt, key)); err != nil {
				return fmt.Errorf("failed to delete expiry index: %w", err)
			}
		}

		if err := typeBucket.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete entity: %w", err)
		}
		return nil
	})
}

// Clear removes all cached entities of a type
func (s *Storage) Clear(ctx context.Context, entityType string) error {
	prefix := []byte(entityType + "/")

	return s.db.Update(func(tx *bbolt.Tx) error {
		entities := tx.Bucket(bucketEntities)
		if entities.Bucket([]byte(entityType)) != nil {
			if err := entities.DeleteBucket([]byte(entityType)); err != nil {
				return fmt.Errorf("failed to delete entity type bucket: %w", err)
			}
		}

		// Чистим индекс истечения для этого типа
		c := tx.Bucket(bucketExpiry).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) > 8 && bytes.HasPrefix(k[8:], prefix) {
				if err := c.Delete(); err != nil {
					return fmt.Errorf("failed to delete expiry index: %w", err)
				}
			}
		}
		return nil
	})
}

// SweepExpired deletes every cache entry past its TTL across all entity
// types. The expiry index is ordered by timestamp, so the scan stops at
// the first entry that is still alive.
func (s *Storage) SweepExpired(ctx context.Context) (int, error) {
	now := uint64(time.Now().UnixNano())
	count := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		entities := tx.Bucket(bucketEntities)
		c := tx.Bucket(bucketExpiry).Cursor()

		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) < 8 || binary.BigEndian.Uint64(k[:8]) > now {
				break
			}

			// Ключ после метки времени: entityType/entityID
			entityType, id, ok := bytes.Cut(k[8:], []byte("/"))
			if ok {
				if typeBucket := entities.Bucket(entityType); typeBucket != nil {
					if err := typeBucket.Delete(id); err != nil {
						return fmt.Errorf("failed to delete expired entity: %w", err)
					}
				}
			}

			if err := c.Delete(); err != nil {
				return fmt.Errorf("failed to delete expiry index: %w", err)
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
