package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// BoltDB bucket names
	bucketEntities     = []byte("entities")        // вложенные buckets по типу сущности
	bucketExpiry       = []byte("entities_expiry") // индекс по expiresAt для sweep
	bucketPending      = []byte("pending")         // очередь изменений, ключ entityType/entityID
	bucketPendingByID  = []byte("pending_ids")     // индекс queue id -> entity key
	bucketConflicts    = []byte("conflicts")       // журнал конфликтов по id
	bucketSyncMetadata = []byte("sync_metadata")   // watermarks по типу сущности
	bucketAuth         = []byte("auth")            // bearer token
)

// DefaultTTL applies to entity types without a configured TTL
const DefaultTTL = 15 * time.Minute

// Options настраивает параметры хранилища
type Options struct {
	// TTLs задает TTL кэша по типам сущностей
	TTLs map[string]time.Duration
	// DefaultTTL применяется к типам без явной настройки (0 = DefaultTTL)
	DefaultTTL time.Duration
}

// Storage represents BoltDB storage implementation for the sync client.
// One Storage backs all four durable stores: entity cache, pending change
// queue, conflict log and sync metadata.
type Storage struct {
	db         *bbolt.DB
	ttls       map[string]time.Duration
	defaultTTL time.Duration
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string, opts Options) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	storage := &Storage{
		db:         db,
		ttls:       opts.TTLs,
		defaultTTL: defaultTTL,
	}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TTLFor returns the configured cache TTL for an entity type
func (s *Storage) TTLFor(entityType string) time.Duration {
	if ttl, ok := s.ttls[entityType]; ok && ttl > 0 {
		return ttl
	}
	return s.defaultTTL
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketEntities,
			bucketExpiry,
			bucketPending,
			bucketPendingByID,
			bucketConflicts,
			bucketSyncMetadata,
			bucketAuth,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// entityKey собирает составной ключ (entityType, entityID)
func entityKey(entityType, entityID string) []byte {
	return []byte(entityType + "/" + entityID)
}
