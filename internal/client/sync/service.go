// Package sync implements the sync orchestrator: it drains the pending
// change queue against the remote API, refreshes the local entity cache,
// routes version conflicts to the conflict store and publishes progress
// events to subscribers.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	httpapi "github.com/fieldline/fieldline/internal/client/api"
	"github.com/fieldline/fieldline/internal/client/conflicts"
	"github.com/fieldline/fieldline/internal/client/netmon"
	"github.com/fieldline/fieldline/internal/client/queue"
	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

// DefaultBatchSize изменений отправляется параллельно за один батч
const DefaultBatchSize = 10

// DefaultReconnectCooldown ограничивает частоту синхронизаций при
// нестабильной связи
const DefaultReconnectCooldown = 30 * time.Second

// Endpoint связывает тип сущности с путем REST ресурса
type Endpoint struct {
	EntityType string
	Path       string
}

// Config настраивает оркестратор
type Config struct {
	// Endpoints перечисляет синхронизируемые типы сущностей
	Endpoints []Endpoint
	// BatchSize размер батча при отправке изменений (0 = DefaultBatchSize)
	BatchSize int
	// MaxRetries предел попыток доставки одного изменения (0 = DefaultMaxRetries)
	MaxRetries int
	// BaseDelay и MaxDelay параметры экспоненциального backoff
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Strategy политика автоматического разрешения конфликтов
	Strategy models.Strategy
	// ReconnectCooldown минимальный интервал между синхронизацией по
	// переподключению (0 = DefaultReconnectCooldown)
	ReconnectCooldown time.Duration
	// ListLimit ограничение размера выдачи при pull (0 = без лимита)
	ListLimit int
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return DefaultMaxRetries
}

func (c Config) strategy() models.Strategy {
	if c.Strategy != "" {
		return c.Strategy
	}
	return models.StrategyServerWins
}

func (c Config) reconnectCooldown() time.Duration {
	if c.ReconnectCooldown > 0 {
		return c.ReconnectCooldown
	}
	return DefaultReconnectCooldown
}

// Service определяет интерфейс оркестратора синхронизации
type Service interface {
	// SyncAll drains the pending queue, refreshes the cache and sweeps
	// expired entries. Expected failure modes are reported in the result,
	// never as an error.
	SyncAll(ctx context.Context) *models.SyncResult

	// RefreshData pulls every configured entity type from the server
	RefreshData(ctx context.Context) error

	// RefreshEntityType pulls one entity type incrementally, using the
	// stored updatedSince watermark
	RefreshEntityType(ctx context.Context, entityType string) error

	// ForceRefresh pulls one entity type in full, bypassing the watermark
	ForceRefresh(ctx context.Context, entityType string) error

	// StartBackgroundSync runs SyncAll on a timer while online, idle and
	// with queued work
	StartBackgroundSync(interval time.Duration)

	// StopBackgroundSync prevents new background cycles from starting.
	// An in-flight cycle runs to completion.
	StopBackgroundSync()

	// Subscribe registers an event callback and returns an unsubscribe
	// function
	Subscribe(fn func(Event)) func()

	// Status returns a snapshot of the engine state for UI indicators
	Status(ctx context.Context) *models.SyncStatus
}

type service struct {
	api       httpapi.ClientAPI
	entities  storage.EntityStorage
	metadata  storage.MetadataStorage
	queue     queue.Service
	conflicts conflicts.Service
	monitor   *netmon.Monitor
	logger    *slog.Logger
	cfg       Config
	emitter   *emitter

	endpoints map[string]string // entityType -> path

	syncing atomic.Bool

	mu           sync.Mutex
	lastAttempt  time.Time
	lastSyncTime *time.Time
	lastResult   *models.SyncResult
	lastError    string
	progress     *models.SyncProgress

	bgMu   sync.Mutex
	bgStop chan struct{}
}

// NewService creates a new sync orchestrator and hooks it up to
// connectivity transitions: going online triggers an immediate sync,
// throttled by the reconnect cooldown.
func NewService(
	apiClient httpapi.ClientAPI,
	entities storage.EntityStorage,
	metadata storage.MetadataStorage,
	queueSvc queue.Service,
	conflictSvc conflicts.Service,
	monitor *netmon.Monitor,
	cfg Config,
	logger *slog.Logger,
) Service {
	s := &service{
		api:       apiClient,
		entities:  entities,
		metadata:  metadata,
		queue:     queueSvc,
		conflicts: conflictSvc,
		monitor:   monitor,
		logger:    logger,
		cfg:       cfg,
		emitter:   newEmitter(logger),
		endpoints: make(map[string]string, len(cfg.Endpoints)),
	}
	for _, ep := range cfg.Endpoints {
		s.endpoints[ep.EntityType] = ep.Path
	}

	if monitor != nil {
		monitor.Subscribe(s.onConnectivityChange)
	}

	return s
}

// onConnectivityChange переводит сигнал netmon в события движка и
// запускает синхронизацию по переподключению
func (s *service) onConnectivityChange(online bool) {
	if !online {
		s.emitter.emit(Event{Type: EventOffline})
		return
	}
	s.emitter.emit(Event{Type: EventOnline})

	s.mu.Lock()
	sinceLast := time.Since(s.lastAttempt)
	s.mu.Unlock()

	// Cooldown защищает от шторма синхронизаций при «мигающей» сети
	if sinceLast < s.cfg.reconnectCooldown() {
		s.logger.Debug("Reconnect sync throttled", "since_last_attempt", sinceLast)
		return
	}

	go s.SyncAll(context.Background())
}

// SyncAll выполняет полный цикл: push очереди, pull обновлений, sweep TTL
func (s *service) SyncAll(ctx context.Context) *models.SyncResult {
	if s.monitor != nil && !s.monitor.Online() {
		return &models.SyncResult{Skipped: true, SkipReason: "device is offline"}
	}

	// Не более одного цикла одновременно
	if !s.syncing.CompareAndSwap(false, true) {
		return &models.SyncResult{Skipped: true, SkipReason: "sync already in progress"}
	}
	defer s.syncing.Store(false)

	s.mu.Lock()
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Starting synchronization")
	s.emitter.emit(Event{Type: EventSyncStart})

	result := &models.SyncResult{}

	changes, err := s.queue.List(ctx, models.StatusPending)
	if err != nil {
		return s.finish(result, fmt.Errorf("failed to list pending changes: %w", err))
	}

	// Изменения в backoff окне откладываются до следующего цикла
	now := time.Now()
	due := changes[:0]
	for _, change := range changes {
		if change.Due(now) {
			due = append(due, change)
		}
	}

	s.setProgress(&models.SyncProgress{Total: len(due), Status: "syncing"})

	// Push: батчи отправляются последовательно, внутри батча параллельно
	batchSize := s.cfg.batchSize()
	completed := 0
	for start := 0; start < len(due); start += batchSize {
		end := start + batchSize
		if end > len(due) {
			end = len(due)
		}
		batch := due[start:end]

		outcomes := make([]changeOutcome, len(batch))
		var wg sync.WaitGroup
		for i, change := range batch {
			wg.Add(1)
			go func(i int, change *models.PendingChange) {
				defer wg.Done()
				outcomes[i] = s.processChange(ctx, change)
			}(i, change)
		}
		wg.Wait()

		// Собираем все исходы, включая неудачные
		for i, outcome := range outcomes {
			switch {
			case outcome.conflict:
				result.Conflicts++
			case outcome.err != "":
				if outcome.terminal {
					result.Failed++
				}
				result.Errors = append(result.Errors, outcome.err)
			default:
				result.Success++
			}

			completed++
			s.setProgress(&models.SyncProgress{
				Total:     len(due),
				Completed: completed,
				Current:   batch[i].EntityID,
				Status:    "syncing",
			})
		}
	}

	// Pull: каждый успешный цикл чинит и устаревание кэша
	if err := s.RefreshData(ctx); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	if swept, err := s.entities.SweepExpired(ctx); err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else if swept > 0 {
		s.logger.Debug("Swept expired cache entries", "count", swept)
	}

	return s.finish(result, nil)
}

// finish фиксирует итог цикла и рассылает завершающее событие
func (s *service) finish(result *models.SyncResult, err error) *models.SyncResult {
	now := time.Now()

	s.mu.Lock()
	s.lastResult = result
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastSyncTime = &now
	}
	s.mu.Unlock()

	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		s.setProgress(&models.SyncProgress{Status: "error"})
		s.logger.Error("Synchronization failed", "error", err)
		s.emitter.emit(Event{Type: EventSyncError, Result: result, Error: err.Error()})
		return result
	}

	s.setProgress(&models.SyncProgress{Status: "completed"})
	s.logger.Info("Synchronization completed",
		"success", result.Success,
		"failed", result.Failed,
		"conflicts", result.Conflicts)
	s.emitter.emit(Event{Type: EventSyncComplete, Result: result})
	return result
}

// changeOutcome исход отправки одного изменения
type changeOutcome struct {
	err      string
	conflict bool
	terminal bool
}

// processChange отправляет одно изменение на сервер
func (s *service) processChange(ctx context.Context, change *models.PendingChange) changeOutcome {
	path, ok := s.endpoints[change.EntityType]
	if !ok {
		// Тип не сконфигурирован: ретраи бессмысленны
		msg := fmt.Sprintf("no endpoint configured for entity type %q", change.EntityType)
		if err := s.queue.SetStatus(ctx, change.ID, models.StatusError, msg); err != nil {
			s.logger.Warn("Failed to mark change failed", "change_id", change.ID, "error", err)
		}
		return changeOutcome{err: msg, terminal: true}
	}

	if err := s.queue.SetStatus(ctx, change.ID, models.StatusSyncing, ""); err != nil {
		return changeOutcome{err: fmt.Sprintf("failed to mark change syncing: %v", err)}
	}

	var err error
	switch change.ChangeType {
	case models.ChangeCreate:
		err = s.pushCreate(ctx, path, change)
	case models.ChangeUpdate:
		err = s.pushUpdate(ctx, path, change)
	case models.ChangeDelete:
		err = s.pushDelete(ctx, path, change)
	default:
		err = fmt.Errorf("unknown change type %q", change.ChangeType)
	}

	if err == nil {
		return changeOutcome{}
	}

	// 409: семантическое расхождение, а не сбой доставки
	var conflictErr *httpapi.ConflictError
	if errors.As(err, &conflictErr) {
		s.handleConflict(ctx, change, conflictErr.ServerData)
		return changeOutcome{conflict: true}
	}

	return s.recordFailure(ctx, change, err)
}

// pushCreate отправляет офлайн-созданную сущность.
// Сервер назначает id сам: локальная временная запись замещается.
func (s *service) pushCreate(ctx context.Context, path string, change *models.PendingChange) error {
	created, err := s.api.Create(ctx, path, change.Data)
	if err != nil {
		return err
	}

	// Сначала кэш, потом очередь: упавший между ними процесс оставит
	// дубликат изменения, который поправит следующий pull
	if err := s.entities.Delete(ctx, change.EntityType, change.EntityID); err != nil {
		return fmt.Errorf("failed to drop offline entry: %w", err)
	}
	if created.ID() != "" {
		if err := s.entities.Put(ctx, change.EntityType, created, 0); err != nil {
			return fmt.Errorf("failed to cache created entity: %w", err)
		}
	}

	if err := s.queue.Remove(ctx, change.ID); err != nil {
		return fmt.Errorf("failed to remove acknowledged change: %w", err)
	}

	s.logger.Debug("Change created on server",
		"entity_type", change.EntityType,
		"local_id", change.EntityID,
		"server_id", created.ID())
	return nil
}

// pushUpdate отправляет частичное обновление
func (s *service) pushUpdate(ctx context.Context, path string, change *models.PendingChange) error {
	updated, err := s.api.Update(ctx, path, change.EntityID, change.Data)
	if err != nil {
		return err
	}

	if updated.ID() != "" {
		if err := s.entities.Put(ctx, change.EntityType, updated, 0); err != nil {
			return fmt.Errorf("failed to cache updated entity: %w", err)
		}
	}

	if err := s.queue.Remove(ctx, change.ID); err != nil {
		return fmt.Errorf("failed to remove acknowledged change: %w", err)
	}
	return nil
}

// pushDelete отправляет удаление
func (s *service) pushDelete(ctx context.Context, path string, change *models.PendingChange) error {
	err := s.api.Delete(ctx, path, change.EntityID)
	// Цель уже отсутствует на сервере: желаемое состояние достигнуто
	if err != nil && !errors.Is(err, httpapi.ErrNotFound) {
		return err
	}

	if err := s.queue.Remove(ctx, change.ID); err != nil {
		return fmt.Errorf("failed to remove acknowledged change: %w", err)
	}
	return nil
}

// handleConflict фиксирует 409 и применяет настроенную стратегию
func (s *service) handleConflict(ctx context.Context, change *models.PendingChange, serverData models.EntityData) {
	record, err := s.conflicts.Record(ctx, change.EntityType, change.EntityID, change.ChangeType, change.Data, serverData)
	if err != nil {
		s.logger.Error("Failed to record conflict",
			"entity_type", change.EntityType,
			"entity_id", change.EntityID,
			"error", err)
		return
	}

	if err := s.queue.SetStatus(ctx, change.ID, models.StatusConflict, ""); err != nil {
		s.logger.Warn("Failed to mark change conflicted", "change_id", change.ID, "error", err)
	}

	s.emitter.emit(Event{Type: EventConflictDetected, Conflict: record})

	strategy := s.cfg.strategy()
	if strategy == models.StrategyManual {
		return
	}
	// Конфликт создания требует ручного решения независимо от стратегии
	if change.ChangeType == models.ChangeCreate {
		return
	}

	if err := s.conflicts.AutoResolve(ctx, record.ID, strategy); err != nil {
		s.logger.Warn("Auto-resolution failed, conflict left for manual resolution",
			"conflict_id", record.ID,
			"strategy", strategy,
			"error", err)
	}
}

// recordFailure применяет политику ретраев к неудачной отправке
func (s *service) recordFailure(ctx context.Context, change *models.PendingChange, cause error) changeOutcome {
	msg := cause.Error()

	if change.RetryCount+1 >= s.cfg.maxRetries() {
		// Попытки исчерпаны: терминальный статус, наружу через SyncResult
		if err := s.queue.SetStatus(ctx, change.ID, models.StatusError, msg); err != nil {
			s.logger.Warn("Failed to mark change failed", "change_id", change.ID, "error", err)
		}
		s.logger.Error("Change exhausted retries",
			"change_id", change.ID,
			"entity_type", change.EntityType,
			"entity_id", change.EntityID,
			"error", msg)
		return changeOutcome{err: msg, terminal: true}
	}

	delay := Delay(change.RetryCount, s.cfg.BaseDelay, s.cfg.MaxDelay)
	if err := s.queue.ScheduleRetry(ctx, change.ID, msg, time.Now().Add(delay)); err != nil {
		s.logger.Warn("Failed to schedule retry", "change_id", change.ID, "error", err)
	}

	s.logger.Warn("Change failed, retry scheduled",
		"change_id", change.ID,
		"retry_count", change.RetryCount+1,
		"delay", delay,
		"error", msg)
	return changeOutcome{err: msg}
}

// RefreshData обновляет кэш для всех сконфигурированных типов
func (s *service) RefreshData(ctx context.Context) error {
	var errs []error
	for _, ep := range s.cfg.Endpoints {
		if err := s.RefreshEntityType(ctx, ep.EntityType); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.EntityType, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshEntityType инкрементально обновляет один тип по watermark
func (s *service) RefreshEntityType(ctx context.Context, entityType string) error {
	return s.refresh(ctx, entityType, false)
}

// ForceRefresh обновляет один тип полностью, игнорируя watermark
func (s *service) ForceRefresh(ctx context.Context, entityType string) error {
	return s.refresh(ctx, entityType, true)
}

func (s *service) refresh(ctx context.Context, entityType string, force bool) error {
	path, ok := s.endpoints[entityType]
	if !ok {
		return fmt.Errorf("no endpoint configured for entity type %q", entityType)
	}

	meta, err := s.metadata.GetSyncMetadata(ctx, entityType)
	if err != nil {
		return fmt.Errorf("failed to get sync metadata: %w", err)
	}

	opts := httpapi.ListOptions{Limit: s.cfg.ListLimit}
	if !force {
		opts.UpdatedSince = meta.LastSyncTime
	}

	meta.SyncInProgress = true
	if err := s.metadata.SaveSyncMetadata(ctx, meta); err != nil {
		return fmt.Errorf("failed to save sync metadata: %w", err)
	}

	pullStart := time.Now()
	entities, err := s.api.List(ctx, path, opts)

	meta.SyncInProgress = false
	if err != nil {
		// Watermark не двигается при неудаче
		meta.LastError = err.Error()
		if saveErr := s.metadata.SaveSyncMetadata(ctx, meta); saveErr != nil {
			s.logger.Warn("Failed to save sync metadata", "entity_type", entityType, "error", saveErr)
		}
		return fmt.Errorf("failed to pull entities: %w", err)
	}

	if len(entities) > 0 {
		if err := s.entities.PutMany(ctx, entityType, entities, 0); err != nil {
			return fmt.Errorf("failed to cache pulled entities: %w", err)
		}
	}

	meta.LastSyncTime = pullStart
	meta.LastError = ""
	if err := s.metadata.SaveSyncMetadata(ctx, meta); err != nil {
		return fmt.Errorf("failed to save sync metadata: %w", err)
	}

	s.logger.Debug("Entity type refreshed",
		"entity_type", entityType,
		"pulled", len(entities),
		"force", force)
	return nil
}

// StartBackgroundSync запускает периодическую синхронизацию
func (s *service) StartBackgroundSync(interval time.Duration) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	if s.bgStop != nil {
		return
	}
	stop := make(chan struct{})
	s.bgStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.backgroundCycle()
			case <-stop:
				return
			}
		}
	}()

	s.logger.Info("Background sync started", "interval", interval)
}

// backgroundCycle запускает SyncAll только когда есть смысл:
// онлайн, нет активного цикла и очередь не пуста
func (s *service) backgroundCycle() {
	ctx := context.Background()

	if s.monitor != nil && !s.monitor.Online() {
		return
	}
	if s.syncing.Load() {
		return
	}

	count, err := s.queue.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to count pending changes", "error", err)
		return
	}
	if count == 0 {
		return
	}

	s.SyncAll(ctx)
}

// StopBackgroundSync останавливает таймер. Начатый цикл доработает.
func (s *service) StopBackgroundSync() {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	if s.bgStop == nil {
		return
	}
	close(s.bgStop)
	s.bgStop = nil

	s.logger.Info("Background sync stopped")
}

// Subscribe registers an event callback
func (s *service) Subscribe(fn func(Event)) func() {
	return s.emitter.subscribe(fn)
}

// Status returns a snapshot of the engine state
func (s *service) Status(ctx context.Context) *models.SyncStatus {
	status := &models.SyncStatus{
		IsSyncing: s.syncing.Load(),
	}
	if s.monitor != nil {
		status.IsOnline = s.monitor.Online()
	}

	if count, err := s.queue.Count(ctx); err == nil {
		status.PendingCount = count
	}
	if count, err := s.conflicts.CountUnresolved(ctx); err == nil {
		status.ConflictCount = count
	}

	s.mu.Lock()
	status.LastSyncTime = s.lastSyncTime
	status.LastSyncResult = s.lastResult
	status.Error = s.lastError
	status.Progress = s.progress
	s.mu.Unlock()

	return status
}

func (s *service) setProgress(progress *models.SyncProgress) {
	s.mu.Lock()
	s.progress = progress
	s.mu.Unlock()

	if progress.Status == "syncing" {
		s.emitter.emit(Event{Type: EventSyncProgress, Progress: progress})
	}
}
