// Package audit exports the sync engine's terminal outcomes — resolved
// conflicts and changes that exhausted their retries — into a durable
// journal that survives cache purges and can be inspected with plain SQL.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldline/fieldline/internal/client/queue"
	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// Kind различает типы записей журнала
type Kind string

const (
	// KindConflictResolved разрешенный конфликт версий
	KindConflictResolved Kind = "conflict-resolved"
	// KindDeadLetter изменение, исчерпавшее попытки доставки
	KindDeadLetter Kind = "dead-letter"
)

// Entry одна запись журнала аудита
type Entry struct {
	ID         string    `json:"id"`          // ID совпадает с id исходной записи
	Kind       Kind      `json:"kind"`        // Kind тип записи
	EntityType string    `json:"entity_type"` // EntityType тип затронутой сущности
	EntityID   string    `json:"entity_id"`   // EntityID идентификатор сущности
	Detail     string    `json:"detail"`      // Detail полная исходная запись в JSON
	OccurredAt time.Time `json:"occurred_at"` // OccurredAt когда событие произошло
}

// Journal персистентное хранилище журнала. Повторный Append записи с тем
// же id игнорируется: экспорт можно запускать сколько угодно раз.
type Journal interface {
	// Append stores one entry. Returns false when an entry with the same
	// id is already journaled.
	Append(ctx context.Context, entry *Entry) (bool, error)

	// Entries returns journaled entries, newest first. An empty kind
	// returns all kinds; limit == 0 returns everything.
	Entries(ctx context.Context, kind Kind, limit int) ([]*Entry, error)
}

// Stats итог одного прогона экспорта
type Stats struct {
	Conflicts   int // Conflicts новых записей о разрешенных конфликтах
	DeadLetters int // DeadLetters новых записей об отброшенных изменениях
}

// Exporter снимает терминальные исходы из BoltDB хранилищ и дописывает их
// в журнал
type Exporter struct {
	conflicts storage.ConflictStorage
	queue     queue.Service
	journal   Journal
	logger    *slog.Logger
}

// NewExporter creates a new audit exporter
func NewExporter(conflicts storage.ConflictStorage, queueSvc queue.Service, journal Journal, logger *slog.Logger) *Exporter {
	return &Exporter{
		conflicts: conflicts,
		queue:     queueSvc,
		journal:   journal,
		logger:    logger,
	}
}

// Export journals every resolved conflict and every dead-lettered change
// not seen before. Safe to run repeatedly.
func (e *Exporter) Export(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	resolved, err := e.conflicts.ListResolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved conflicts: %w", err)
	}
	for _, record := range resolved {
		entry, err := conflictEntry(record)
		if err != nil {
			return nil, err
		}
		inserted, err := e.journal.Append(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("failed to journal conflict %s: %w", record.ID, err)
		}
		if inserted {
			stats.Conflicts++
		}
	}

	dead, err := e.queue.List(ctx, models.StatusError)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered changes: %w", err)
	}
	for _, change := range dead {
		entry, err := deadLetterEntry(change)
		if err != nil {
			return nil, err
		}
		inserted, err := e.journal.Append(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("failed to journal change %s: %w", change.ID, err)
		}
		if inserted {
			stats.DeadLetters++
		}
	}

	e.logger.Info("Audit export completed",
		"new_conflicts", stats.Conflicts,
		"new_dead_letters", stats.DeadLetters)
	return stats, nil
}

func conflictEntry(record *models.ConflictRecord) (*Entry, error) {
	detail, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conflict record: %w", err)
	}

	occurred := record.Timestamp
	if record.ResolvedAt != nil {
		occurred = *record.ResolvedAt
	}

	return &Entry{
		ID:         record.ID,
		Kind:       KindConflictResolved,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		Detail:     string(detail),
		OccurredAt: occurred,
	}, nil
}

func deadLetterEntry(change *models.PendingChange) (*Entry, error) {
	detail, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending change: %w", err)
	}

	return &Entry{
		ID:         change.ID,
		Kind:       KindDeadLetter,
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Detail:     string(detail),
		OccurredAt: change.Timestamp,
	}, nil
}
