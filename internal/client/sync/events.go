package sync

import (
	"log/slog"
	"sync"

	"github.com/fieldline/fieldline/internal/models"
)

// EventType тип события оркестратора
type EventType string

const (
	EventSyncStart        EventType = "sync-start"
	EventSyncProgress     EventType = "sync-progress"
	EventSyncComplete     EventType = "sync-complete"
	EventSyncError        EventType = "sync-error"
	EventConflictDetected EventType = "conflict-detected"
	EventOnline           EventType = "online"
	EventOffline          EventType = "offline"
)

// Event is delivered synchronously to every subscriber. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type     EventType
	Progress *models.SyncProgress  // sync-progress
	Result   *models.SyncResult    // sync-complete, sync-error
	Conflict *models.ConflictRecord // conflict-detected
	Error    string                // sync-error
}

// emitter is an explicit observer list. Subscriber panics are isolated:
// one broken listener must not abort the orchestrator or its siblings.
type emitter struct {
	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
	logger    *slog.Logger
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{
		listeners: make(map[int]func(Event)),
		logger:    logger,
	}
}

// subscribe регистрирует подписчика и возвращает функцию отписки
func (e *emitter) subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// emit доставляет событие всем подписчикам синхронно
func (e *emitter) emit(event Event) {
	e.mu.Lock()
	listeners := make([]func(Event), 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		e.deliver(fn, event)
	}
}

func (e *emitter) deliver(fn func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error("Sync subscriber panicked", "event", event.Type, "panic", r)
		}
	}()
	fn(event)
}
