// Package queue implements the pending change queue: a durable log of
// local mutations awaiting transmission to the server. Repeated mutations
// against the same entity are coalesced, so the queue never holds more
// than one outstanding change per (entityType, entityId).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// Service defines the pending change queue operations
type Service interface {
	// Enqueue records a local mutation, coalescing it into an existing
	// live change for the same entity when one exists. Returns the live
	// change, or nil when the mutation cancelled out (a delete annihilates
	// a not-yet-synced create).
	Enqueue(ctx context.Context, entityType, entityID string, changeType models.ChangeType, data, previousData models.EntityData) (*models.PendingChange, error)

	// Get retrieves one change by queue id
	Get(ctx context.Context, id string) (*models.PendingChange, error)

	// List returns queued changes, optionally filtered by status
	List(ctx context.Context, status models.ChangeStatus) ([]*models.PendingChange, error)

	// Count returns the number of changes still awaiting sync
	Count(ctx context.Context) (int, error)

	// ListForEntity returns the queued changes for one entity
	ListForEntity(ctx context.Context, entityType, entityID string) ([]*models.PendingChange, error)

	// SetStatus transitions a change to a new status. A non-empty errMsg
	// records the failure and increments the retry counter.
	SetStatus(ctx context.Context, id string, status models.ChangeStatus, errMsg string) error

	// ScheduleRetry records a failed attempt and defers the next one
	// until the given time, leaving the change pending
	ScheduleRetry(ctx context.Context, id, errMsg string, at time.Time) error

	// Remove deletes a change from the queue
	Remove(ctx context.Context, id string) error

	// Clear deletes every change from the queue
	Clear(ctx context.Context) error
}

type service struct {
	pending  storage.PendingStorage
	entities storage.EntityStorage
}

// NewService creates a new pending change queue service.
// The entity store is needed for the create-then-delete cancellation rule,
// which purges the offline-created cache entry.
func NewService(pending storage.PendingStorage, entities storage.EntityStorage) Service {
	return &service{
		pending:  pending,
		entities: entities,
	}
}

// Enqueue records a local mutation with coalescing
func (s *service) Enqueue(ctx context.Context, entityType, entityID string, changeType models.ChangeType, data, previousData models.EntityData) (*models.PendingChange, error) {
	now := time.Now()

	existing, err := s.pending.GetChangeForEntity(ctx, entityType, entityID)
	if err != nil {
		if !errors.Is(err, storage.ErrChangeNotFound) {
			return nil, fmt.Errorf("failed to look up pending change: %w", err)
		}

		// Живой записи нет: создаем новую
		change := &models.PendingChange{
			ID:           uuid.New().String(),
			EntityType:   entityType,
			EntityID:     entityID,
			ChangeType:   changeType,
			Data:         data.Clone(),
			PreviousData: previousData.Clone(),
			Timestamp:    now,
			Status:       models.StatusPending,
		}
		if err := s.pending.SaveChange(ctx, change); err != nil {
			return nil, fmt.Errorf("failed to save pending change: %w", err)
		}
		return change, nil
	}

	// Мутация поверх отложенного удаления не имеет осмысленного порядка
	if existing.ChangeType == models.ChangeDelete {
		return nil, storage.ErrEntityDeletedLocally
	}

	// Коалесценция: вторая мутация вливается в существующую запись
	switch {
	case existing.ChangeType == models.ChangeCreate && changeType == models.ChangeDelete:
		// Создано офлайн и удалено до синхронизации: сервер не должен
		// узнать об этой сущности вовсе
		if err := s.pending.DeleteChange(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to cancel pending create: %w", err)
		}
		if err := s.entities.Delete(ctx, entityType, entityID); err != nil {
			return nil, fmt.Errorf("failed to purge cached entity: %w", err)
		}
		return nil, nil

	case changeType == models.ChangeDelete:
		// update -> delete: накопленный payload больше не нужен
		existing.ChangeType = models.ChangeDelete
		existing.Data = nil

	default:
		// create+update, update+update (и повторный create):
		// later values win, тип записи сохраняется
		existing.Data = existing.Data.Merge(data)
	}

	// Новая мутация перезапускает доставку
	existing.Timestamp = now
	existing.Status = models.StatusPending
	existing.LastError = ""
	existing.RetryCount = 0
	existing.NextAttemptAt = time.Time{}

	if err := s.pending.SaveChange(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save coalesced change: %w", err)
	}
	return existing, nil
}

// Get retrieves one change by queue id
func (s *service) Get(ctx context.Context, id string) (*models.PendingChange, error) {
	return s.pending.GetChange(ctx, id)
}

// List returns queued changes, optionally filtered by status
func (s *service) List(ctx context.Context, status models.ChangeStatus) ([]*models.PendingChange, error) {
	return s.pending.ListChanges(ctx, status)
}

// Count returns the number of changes still awaiting sync
func (s *service) Count(ctx context.Context) (int, error) {
	return s.pending.CountChanges(ctx, "")
}

// ListForEntity returns the queued changes for one entity.
// The coalescing invariant keeps this at zero or one record.
func (s *service) ListForEntity(ctx context.Context, entityType, entityID string) ([]*models.PendingChange, error) {
	change, err := s.pending.GetChangeForEntity(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, storage.ErrChangeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []*models.PendingChange{change}, nil
}

// SetStatus transitions a change to a new status
func (s *service) SetStatus(ctx context.Context, id string, status models.ChangeStatus, errMsg string) error {
	change, err := s.pending.GetChange(ctx, id)
	if err != nil {
		return err
	}

	change.Status = status
	if errMsg != "" {
		// Счетчик попыток растет только на неудачах
		change.LastError = errMsg
		change.RetryCount++
	}

	if err := s.pending.SaveChange(ctx, change); err != nil {
		return fmt.Errorf("failed to save status change: %w", err)
	}
	return nil
}

// ScheduleRetry records a failed attempt and defers the next one
func (s *service) ScheduleRetry(ctx context.Context, id, errMsg string, at time.Time) error {
	change, err := s.pending.GetChange(ctx, id)
	if err != nil {
		return err
	}

	change.Status = models.StatusPending
	change.LastError = errMsg
	change.RetryCount++
	change.NextAttemptAt = at

	if err := s.pending.SaveChange(ctx, change); err != nil {
		return fmt.Errorf("failed to save retry schedule: %w", err)
	}
	return nil
}

// Remove deletes a change from the queue
func (s *service) Remove(ctx context.Context, id string) error {
	return s.pending.DeleteChange(ctx, id)
}

// Clear deletes every change from the queue
func (s *service) Clear(ctx context.Context) error {
	return s.pending.ClearChanges(ctx)
}
