// Package data exposes the UI-facing offline CRUD operations.
// Every mutation lands synchronously in the local entity cache and the
// pending change queue; nothing here ever blocks on the network.
package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldline/fieldline/internal/client/queue"
	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// Service defines the write-local-first entity operations
type Service interface {
	// Create stores a new entity locally under a client-generated id and
	// queues a create for the next sync. Returns the stored payload.
	Create(ctx context.Context, entityType string, data models.EntityData) (models.EntityData, error)

	// Update merges a partial patch into the cached entity and queues an
	// update for the next sync
	Update(ctx context.Context, entityType, id string, patch models.EntityData) error

	// Delete removes the entity from the cache and queues a delete.
	// Deleting a not-yet-synced offline creation cancels it entirely.
	Delete(ctx context.Context, entityType, id string) error

	// Get reads one entity from the cache
	Get(ctx context.Context, entityType, id string) (models.EntityData, error)

	// List reads all cached entities of a type
	List(ctx context.Context, entityType string) ([]models.EntityData, error)
}

type service struct {
	entities storage.EntityStorage
	queue    queue.Service
}

// NewService creates a new offline data service
func NewService(entities storage.EntityStorage, queueSvc queue.Service) Service {
	return &service{
		entities: entities,
		queue:    queueSvc,
	}
}

// Create stores a new entity locally and queues a create
func (s *service) Create(ctx context.Context, entityType string, data models.EntityData) (models.EntityData, error) {
	payload := data.Clone()
	if payload == nil {
		payload = models.EntityData{}
	}
	// Клиентский id временный: при успешном POST его заменит серверный
	payload[models.FieldID] = models.OfflineIDPrefix + uuid.New().String()

	if err := s.entities.PutOfflineCreated(ctx, entityType, payload, 0); err != nil {
		return nil, fmt.Errorf("failed to cache created entity: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, entityType, payload.ID(), models.ChangeCreate, payload, nil); err != nil {
		return nil, fmt.Errorf("failed to queue create: %w", err)
	}

	return payload, nil
}

// Update merges a partial patch into the cached entity and queues an update
func (s *service) Update(ctx context.Context, entityType, id string, patch models.EntityData) error {
	var previous models.EntityData
	offlineCreated := false

	entry, err := s.entities.GetEntry(ctx, entityType, id)
	switch {
	case err == nil:
		previous = entry.Data
		offlineCreated = entry.OfflineCreated
	case errors.Is(err, storage.ErrEntityNotFound):
		// Сущности нет в кэше: мутация всё равно встает в очередь
	default:
		return fmt.Errorf("failed to read cached entity: %w", err)
	}

	// Очередь первая: мутация поверх отложенного delete отклоняется
	// до того, как тронут кэш
	if _, err := s.queue.Enqueue(ctx, entityType, id, models.ChangeUpdate, patch, previous); err != nil {
		if errors.Is(err, storage.ErrEntityDeletedLocally) {
			return err
		}
		return fmt.Errorf("failed to queue update: %w", err)
	}

	merged := previous.Merge(patch)
	if merged.ID() == "" {
		merged[models.FieldID] = id
	}

	if offlineCreated {
		err = s.entities.PutOfflineCreated(ctx, entityType, merged, 0)
	} else {
		err = s.entities.Put(ctx, entityType, merged, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to cache updated entity: %w", err)
	}

	return nil
}

// Delete removes the entity from the cache and queues a delete
func (s *service) Delete(ctx context.Context, entityType, id string) error {
	var previous models.EntityData
	if entry, err := s.entities.GetEntry(ctx, entityType, id); err == nil {
		previous = entry.Data
	}

	if err := s.entities.Delete(ctx, entityType, id); err != nil {
		return fmt.Errorf("failed to delete cached entity: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, entityType, id, models.ChangeDelete, nil, previous); err != nil {
		return fmt.Errorf("failed to queue delete: %w", err)
	}

	return nil
}

// Get reads one entity from the cache
func (s *service) Get(ctx context.Context, entityType, id string) (models.EntityData, error) {
	return s.entities.Get(ctx, entityType, id, false)
}

// List reads all cached entities of a type
func (s *service) List(ctx context.Context, entityType string) ([]models.EntityData, error) {
	return s.entities.GetAll(ctx, entityType, false)
}
