// Package conflicts implements the conflict store: a durable, append-only
// log of detected client/server divergences plus the resolution policies
// that reconcile them.
package conflicts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/fieldline/internal/client/queue"
	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// Service defines conflict store operations
type Service interface {
	// Record logs a detected divergence between a local mutation and the
	// server's current state
	Record(ctx context.Context, entityType, entityID string, changeType models.ChangeType, localData, serverData models.EntityData) (*models.ConflictRecord, error)

	// ListUnresolved returns all conflicts awaiting resolution
	ListUnresolved(ctx context.Context) ([]*models.ConflictRecord, error)

	// ListForEntity returns all conflicts recorded for one entity
	ListForEntity(ctx context.Context, entityType, entityID string) ([]*models.ConflictRecord, error)

	// CountUnresolved returns the number of unresolved conflicts
	CountUnresolved(ctx context.Context) (int, error)

	// Resolve applies an explicit resolution to a conflict.
	// mergedData is required for ResolutionMerged and ignored otherwise.
	Resolve(ctx context.Context, id string, resolution models.Resolution, mergedData models.EntityData) error

	// AutoResolve applies a configured strategy. StrategyManual is
	// rejected: manual conflicts require an explicit caller decision.
	AutoResolve(ctx context.Context, id string, strategy models.Strategy) error

	// PurgeResolvedOlderThan deletes resolved conflicts past the
	// retention window. Returns the number of deleted records.
	PurgeResolvedOlderThan(ctx context.Context, days int) (int, error)
}

type service struct {
	conflicts storage.ConflictStorage
	entities  storage.EntityStorage
	queue     queue.Service
	logger    *slog.Logger
}

// NewService creates a new conflict store service
func NewService(conflicts storage.ConflictStorage, entities storage.EntityStorage, queueSvc queue.Service, logger *slog.Logger) Service {
	return &service{
		conflicts: conflicts,
		entities:  entities,
		queue:     queueSvc,
		logger:    logger,
	}
}

// Record logs a detected divergence
func (s *service) Record(ctx context.Context, entityType, entityID string, changeType models.ChangeType, localData, serverData models.EntityData) (*models.ConflictRecord, error) {
	local := localData.Clone()
	if local != nil && local.ID() == "" {
		// Частичный patch может не содержать id: дополняем, чтобы
		// разрешение могло записать данные обратно в кэш
		local[models.FieldID] = entityID
	}

	record := &models.ConflictRecord{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		ChangeType: changeType,
		LocalData:  local,
		ServerData: serverData.Clone(),
		Timestamp:  time.Now(),
	}

	if err := s.conflicts.SaveConflict(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save conflict record: %w", err)
	}

	s.logger.Warn("Conflict recorded",
		"conflict_id", record.ID,
		"entity_type", entityType,
		"entity_id", entityID,
		"change_type", changeType)

	return record, nil
}

// ListUnresolved returns all conflicts awaiting resolution
func (s *service) ListUnresolved(ctx context.Context) ([]*models.ConflictRecord, error) {
	return s.conflicts.ListUnresolved(ctx)
}

// ListForEntity returns all conflicts recorded for one entity
func (s *service) ListForEntity(ctx context.Context, entityType, entityID string) ([]*models.ConflictRecord, error) {
	return s.conflicts.ListConflictsForEntity(ctx, entityType, entityID)
}

// CountUnresolved returns the number of unresolved conflicts
func (s *service) CountUnresolved(ctx context.Context) (int, error) {
	return s.conflicts.CountUnresolved(ctx)
}

// Resolve applies an explicit resolution to a conflict
func (s *service) Resolve(ctx context.Context, id string, resolution models.Resolution, mergedData models.EntityData) error {
	record, err := s.conflicts.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if record.Resolved {
		return fmt.Errorf("conflict %s is already resolved", id)
	}

	// Застрявшая в статусе conflict запись очереди снимается:
	// разрешение либо закрывает вопрос, либо ставит свежий update
	if err := s.removeConflictedChange(ctx, record); err != nil {
		return err
	}

	switch resolution {
	case models.ResolutionLocal:
		// Локальная копия побеждает: восстанавливаем кэш и переотправляем
		if err := s.applyAndRequeue(ctx, record, record.LocalData); err != nil {
			return err
		}

	case models.ResolutionServer:
		// Серверная копия становится авторитетной, ничего не переотправляем
		if record.ServerData == nil {
			// Сервер сущности не знает: убираем и локальную копию
			if err := s.entities.Delete(ctx, record.EntityType, record.EntityID); err != nil {
				return fmt.Errorf("failed to delete cached entity: %w", err)
			}
		} else if err := s.entities.Put(ctx, record.EntityType, record.ServerData, 0); err != nil {
			return fmt.Errorf("failed to apply server data: %w", err)
		}

	case models.ResolutionMerged:
		// Слитые данные: и исправление кэша, и исходящая мутация
		if mergedData == nil {
			return fmt.Errorf("merged resolution requires merged data")
		}
		if err := s.applyAndRequeue(ctx, record, mergedData); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	now := time.Now()
	record.Resolved = true
	record.Resolution = resolution
	record.ResolvedAt = &now

	if err := s.conflicts.SaveConflict(ctx, record); err != nil {
		return fmt.Errorf("failed to save resolved conflict: %w", err)
	}

	s.logger.Info("Conflict resolved",
		"conflict_id", record.ID,
		"entity_type", record.EntityType,
		"entity_id", record.EntityID,
		"resolution", resolution)

	return nil
}

// AutoResolve applies a configured strategy
func (s *service) AutoResolve(ctx context.Context, id string, strategy models.Strategy) error {
	record, err := s.conflicts.GetConflict(ctx, id)
	if err != nil {
		return err
	}

	// Конфликт на create это коллизия создания, а не устаревшая версия:
	// ни одна автоматическая стратегия не может решить её безопасно
	if record.ChangeType == models.ChangeCreate {
		return fmt.Errorf("create conflict %s requires manual resolution", id)
	}

	switch strategy {
	case models.StrategyServerWins:
		return s.Resolve(ctx, id, models.ResolutionServer, nil)
	case models.StrategyClientWins:
		return s.Resolve(ctx, id, models.ResolutionLocal, nil)
	case models.StrategyManual:
		return fmt.Errorf("manual strategy cannot auto-resolve conflict %s", id)
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
}

// PurgeResolvedOlderThan deletes resolved conflicts past the retention window
func (s *service) PurgeResolvedOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	return s.conflicts.PurgeResolvedBefore(ctx, cutoff)
}

// applyAndRequeue пишет данные в кэш и ставит свежий update в очередь
func (s *service) applyAndRequeue(ctx context.Context, record *models.ConflictRecord, data models.EntityData) error {
	if err := s.entities.Put(ctx, record.EntityType, data, 0); err != nil {
		return fmt.Errorf("failed to apply resolved data: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, record.EntityType, record.EntityID, models.ChangeUpdate, data, record.ServerData); err != nil {
		return fmt.Errorf("failed to re-enqueue resolved data: %w", err)
	}
	return nil
}

// removeConflictedChange снимает запись очереди, оставшуюся в статусе conflict
func (s *service) removeConflictedChange(ctx context.Context, record *models.ConflictRecord) error {
	changes, err := s.queue.ListForEntity(ctx, record.EntityType, record.EntityID)
	if err != nil {
		return fmt.Errorf("failed to look up pending change: %w", err)
	}
	for _, change := range changes {
		if change.Status != models.StatusConflict {
			continue
		}
		if err := s.queue.Remove(ctx, change.ID); err != nil {
			return fmt.Errorf("failed to remove conflicted change: %w", err)
		}
	}
	return nil
}
