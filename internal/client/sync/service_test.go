package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/fieldline/fieldline/internal/client/api"
	"github.com/fieldline/fieldline/internal/client/conflicts"
	"github.com/fieldline/fieldline/internal/client/netmon"
	"github.com/fieldline/fieldline/internal/client/queue"
	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/client/storage/boltdb"
	"github.com/fieldline/fieldline/internal/models"
)

type testEngine struct {
	svc       Service
	store     *boltdb.Storage
	queue     queue.Service
	conflicts conflicts.Service
	monitor   *netmon.Monitor
}

// newTestEngine собирает движок над реальным BoltDB и тестовым сервером
func newTestEngine(t *testing.T, serverURL string, cfg Config) *testEngine {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "sync_test.db"), boltdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	logger := discardLogger()
	queueSvc := queue.NewService(store, store)
	conflictSvc := conflicts.NewService(store, store, queueSvc, logger)
	monitor := netmon.New(nil, time.Minute, nil)

	if cfg.Endpoints == nil {
		cfg.Endpoints = []Endpoint{{EntityType: "work_orders", Path: "/api/work-orders"}}
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 2 * time.Millisecond
	}

	svc := NewService(
		httpapi.NewClient(serverURL, nil),
		store, store, queueSvc, conflictSvc, monitor, cfg, logger,
	)

	return &testEngine{
		svc:       svc,
		store:     store,
		queue:     queueSvc,
		conflicts: conflictSvc,
		monitor:   monitor,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

// emptyListHandler отвечает пустым списком на любой GET
func emptyListHandler(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(t, w, http.StatusOK, []any{})
			return
		}
		next(w, r)
	}
}

func TestSyncAll_SkipsWhenOffline(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:0", Config{})

	result := engine.svc.SyncAll(context.Background())

	require.True(t, result.Skipped)
	assert.Equal(t, "device is offline", result.SkipReason)
}

func TestSyncAll_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "wo-1", "status": "done"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)

	ctx := context.Background()
	_, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1", "status": "done"}, nil)
	require.NoError(t, err)

	first := make(chan *models.SyncResult, 1)
	go func() {
		first <- engine.svc.SyncAll(ctx)
	}()

	// Второй вызов во время активного цикла пропускается
	<-entered
	second := engine.svc.SyncAll(ctx)
	require.True(t, second.Skipped)
	assert.Equal(t, "sync already in progress", second.SkipReason)

	close(release)
	result := <-first
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Success)
}

func TestSyncAll_CreateAdoptsServerID(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// Временный локальный id не должен утекать на сервер
		assert.NotContains(t, body, "id")

		body["id"] = "wo-42"
		writeJSON(t, w, http.StatusCreated, body)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	local := models.EntityData{"id": "tmp-abc", "title": "Replace bearing"}
	require.NoError(t, engine.store.PutOfflineCreated(ctx, "work_orders", local, 0))
	_, err := engine.queue.Enqueue(ctx, "work_orders", "tmp-abc", models.ChangeCreate, local, nil)
	require.NoError(t, err)

	result := engine.svc.SyncAll(ctx)
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Success)

	// Временная запись замещена серверной
	_, err = engine.store.Get(ctx, "work_orders", "tmp-abc", false)
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)

	adopted, err := engine.store.Get(ctx, "work_orders", "wo-42", false)
	require.NoError(t, err)
	assert.Equal(t, "Replace bearing", adopted["title"])

	count, err := engine.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSyncAll_DeleteAlreadyGone(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "not found"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	_, err := engine.queue.Enqueue(ctx, "work_orders", "wo-9", models.ChangeDelete, nil, nil)
	require.NoError(t, err)

	// 404 на удалении означает, что желаемое состояние уже достигнуто
	result := engine.svc.SyncAll(ctx)
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Success)

	count, err := engine.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSyncAll_ConflictServerWins(t *testing.T) {
	serverVersion := map[string]any{"id": "wo-1", "status": "closed", "price": 20}

	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		writeJSON(t, w, http.StatusConflict, serverVersion)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{Strategy: models.StrategyServerWins})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	var conflictEvents int
	engine.svc.Subscribe(func(event Event) {
		if event.Type == EventConflictDetected {
			conflictEvents++
		}
	})

	require.NoError(t, engine.store.Put(ctx, "work_orders",
		models.EntityData{"id": "wo-1", "status": "done", "price": 15}, 0))
	_, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1", "status": "done", "price": 15}, nil)
	require.NoError(t, err)

	result := engine.svc.SyncAll(ctx)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, conflictEvents)

	// server-wins: кэш принимает серверную версию, переотправки нет
	cached, err := engine.store.Get(ctx, "work_orders", "wo-1", false)
	require.NoError(t, err)
	assert.Equal(t, "closed", cached["status"])
	assert.EqualValues(t, 20, cached["price"])

	count, err := engine.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	unresolved, err := engine.conflicts.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, unresolved)
}

func TestSyncAll_ConflictManualStrategyLeavesUnresolved(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusConflict, map[string]any{"id": "wo-1", "status": "closed"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{Strategy: models.StrategyManual})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	_, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1", "status": "done"}, nil)
	require.NoError(t, err)

	result := engine.svc.SyncAll(ctx)
	assert.Equal(t, 1, result.Conflicts)

	// Конфликт ждет явного решения, изменение остается со статусом conflict
	unresolved, err := engine.conflicts.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unresolved)

	changes, err := engine.queue.ListForEntity(ctx, "work_orders", "wo-1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.StatusConflict, changes[0].Status)
}

func TestSyncAll_RetriesThenFails(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{"message": "boom"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{MaxRetries: 3})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	change, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1", "status": "done"}, nil)
	require.NoError(t, err)

	// Первые две попытки планируют повтор
	for attempt := 1; attempt <= 2; attempt++ {
		result := engine.svc.SyncAll(ctx)
		assert.Equal(t, 0, result.Failed, "attempt %d", attempt)
		require.Len(t, result.Errors, 1, "attempt %d", attempt)

		got, err := engine.queue.Get(ctx, change.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount)

		// Ждем истечения backoff окна
		time.Sleep(5 * time.Millisecond)
	}

	// Третья попытка исчерпывает лимит
	result := engine.svc.SyncAll(ctx)
	assert.Equal(t, 1, result.Failed)

	got, err := engine.queue.Get(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.LastError, "boom")

	// Терминальное изменение больше не попадает в батчи
	result = engine.svc.SyncAll(ctx)
	assert.Equal(t, 0, result.Success)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)
}

func TestSyncAll_BackoffWindowDefersChange(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("change inside backoff window must not be pushed")
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	change, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1"}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.queue.ScheduleRetry(ctx, change.ID, "transient", time.Now().Add(time.Hour)))

	result := engine.svc.SyncAll(ctx)
	assert.Equal(t, 0, result.Success)
	assert.Empty(t, result.Errors)
}

func TestRefresh_WatermarkAdvances(t *testing.T) {
	var watermarks []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		watermarks = append(watermarks, r.URL.Query().Get("updatedSince"))
		if len(watermarks) == 1 {
			writeJSON(t, w, http.StatusOK, []any{
				map[string]any{"id": "wo-1", "title": "Inspect pump"},
			})
			return
		}
		writeJSON(t, w, http.StatusOK, []any{})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	// Первый pull полный, без watermark
	require.NoError(t, engine.svc.RefreshEntityType(ctx, "work_orders"))
	require.Len(t, watermarks, 1)
	assert.Empty(t, watermarks[0])

	cached, err := engine.store.Get(ctx, "work_orders", "wo-1", false)
	require.NoError(t, err)
	assert.Equal(t, "Inspect pump", cached["title"])

	// Второй pull инкрементальный
	require.NoError(t, engine.svc.RefreshEntityType(ctx, "work_orders"))
	require.Len(t, watermarks, 2)
	assert.NotEmpty(t, watermarks[1])

	// ForceRefresh игнорирует watermark
	require.NoError(t, engine.svc.ForceRefresh(ctx, "work_orders"))
	require.Len(t, watermarks, 3)
	assert.Empty(t, watermarks[2])
}

func TestRefresh_FailureKeepsWatermark(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(t, w, http.StatusOK, []any{})
			return
		}
		if calls == 2 {
			writeJSON(t, w, http.StatusInternalServerError, map[string]any{"message": "boom"})
			return
		}
		// Watermark из первого успешного pull пережил неудачный второй
		assert.NotEmpty(t, r.URL.Query().Get("updatedSince"))
		writeJSON(t, w, http.StatusOK, []any{})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	require.NoError(t, engine.svc.RefreshEntityType(ctx, "work_orders"))
	require.Error(t, engine.svc.RefreshEntityType(ctx, "work_orders"))
	require.NoError(t, engine.svc.RefreshEntityType(ctx, "work_orders"))
	assert.Equal(t, 3, calls)
}

func TestReconnect_TriggersSync(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "wo-1", "status": "done"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	ctx := context.Background()

	_, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1", "status": "done"}, nil)
	require.NoError(t, err)

	completed := make(chan Event, 1)
	engine.svc.Subscribe(func(event Event) {
		if event.Type == EventSyncComplete {
			completed <- event
		}
	})

	// Переход в онлайн запускает синхронизацию сам
	engine.monitor.SetOnline(true)

	select {
	case event := <-completed:
		require.NotNil(t, event.Result)
		assert.Equal(t, 1, event.Result.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync cycle after reconnect")
	}
}

func TestBackgroundSync_DrainsQueue(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "wo-1", "status": "done"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	_, err := engine.queue.Enqueue(ctx, "work_orders", "wo-1", models.ChangeUpdate,
		models.EntityData{"id": "wo-1", "status": "done"}, nil)
	require.NoError(t, err)

	completed := make(chan Event, 1)
	engine.svc.Subscribe(func(event Event) {
		if event.Type == EventSyncComplete {
			select {
			case completed <- event:
			default:
			}
		}
	})

	engine.svc.StartBackgroundSync(20 * time.Millisecond)
	defer engine.svc.StopBackgroundSync()

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a background sync cycle")
	}

	count, err := engine.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStatus_Snapshot(t *testing.T) {
	server := httptest.NewServer(emptyListHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, Config{})
	engine.monitor.SetOnline(true)
	ctx := context.Background()

	status := engine.svc.Status(ctx)
	assert.True(t, status.IsOnline)
	assert.False(t, status.IsSyncing)
	assert.Nil(t, status.LastSyncTime)

	result := engine.svc.SyncAll(ctx)
	require.False(t, result.Skipped)

	status = engine.svc.Status(ctx)
	require.NotNil(t, status.LastSyncTime)
	assert.Equal(t, 0, status.PendingCount)
	assert.NotNil(t, status.LastSyncResult)
}
