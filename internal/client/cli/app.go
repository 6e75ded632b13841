// Package cli implements the fieldline command tree. Every command wires
// the full client stack from configuration, runs against the local stores
// and tears the stack down on exit.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	httpapi "github.com/fieldline/fieldline/internal/client/api"
	"github.com/fieldline/fieldline/internal/client/auth"
	"github.com/fieldline/fieldline/internal/client/conflicts"
	"github.com/fieldline/fieldline/internal/client/data"
	"github.com/fieldline/fieldline/internal/client/netmon"
	"github.com/fieldline/fieldline/internal/client/queue"
	"github.com/fieldline/fieldline/internal/client/storage/boltdb"
	syncsvc "github.com/fieldline/fieldline/internal/client/sync"
	"github.com/fieldline/fieldline/internal/config"
)

// App держит сконфигурированный клиентский стек на время одной команды
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *boltdb.Storage
	API       *httpapi.Client
	Auth      *auth.Service
	Queue     queue.Service
	Conflicts conflicts.Service
	Data      data.Service
	Monitor   *netmon.Monitor
	Sync      syncsvc.Service
}

// newApp собирает стек: конфиг, логгер, BoltDB, API клиент и сервисы
func newApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	ttls := make(map[string]time.Duration, len(cfg.Entities))
	for _, entity := range cfg.Entities {
		if entity.TTL > 0 {
			ttls[entity.Type] = entity.TTL
		}
	}

	store, err := boltdb.New(ctx, cfg.DBPath, boltdb.Options{
		TTLs:       ttls,
		DefaultTTL: cfg.DefaultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	authSvc := auth.NewService(store)
	apiClient := httpapi.NewClient(cfg.ServerURL, authSvc.Token)

	queueSvc := queue.NewService(store, store)
	conflictSvc := conflicts.NewService(store, store, queueSvc, logger)
	dataSvc := data.NewService(store, queueSvc)

	monitor := netmon.New(func(ctx context.Context) error {
		return apiClient.Health(ctx)
	}, cfg.ProbeInterval, logger)

	endpoints := make([]syncsvc.Endpoint, 0, len(cfg.Entities))
	for _, entity := range cfg.Entities {
		endpoints = append(endpoints, syncsvc.Endpoint{
			EntityType: entity.Type,
			Path:       entity.Path,
		})
	}

	syncSvc := syncsvc.NewService(apiClient, store, store, queueSvc, conflictSvc, monitor, syncsvc.Config{
		Endpoints:         endpoints,
		BatchSize:         cfg.Sync.BatchSize,
		MaxRetries:        cfg.Sync.MaxRetries,
		BaseDelay:         cfg.Sync.BackoffBase,
		MaxDelay:          cfg.Sync.BackoffMax,
		Strategy:          cfg.Strategy(),
		ReconnectCooldown: cfg.Sync.ReconnectCooldown,
		ListLimit:         cfg.Sync.ListLimit,
	}, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		API:       apiClient,
		Auth:      authSvc,
		Queue:     queueSvc,
		Conflicts: conflictSvc,
		Data:      dataSvc,
		Monitor:   monitor,
		Sync:      syncSvc,
	}, nil
}

// Close останавливает фоновые процессы и закрывает BoltDB
func (a *App) Close() {
	a.Sync.StopBackgroundSync()
	a.Monitor.Stop()
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close local database", "error", err)
	}
}

// newLogger пишет в stderr или в ротируемый файл, когда задан log_file
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, nil))
}
