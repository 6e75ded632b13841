// Package netmon renders the platform's online/offline signal for the
// sync engine: a prober is polled on an interval and subscribers are
// notified on connectivity transitions.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks whether the server is reachable right now
type Prober func(ctx context.Context) error

// DefaultProbeInterval между проверками доступности
const DefaultProbeInterval = 15 * time.Second

// Monitor tracks connectivity and fans out transition notifications.
// Callbacks run on the monitor's goroutine; they must not block for long.
type Monitor struct {
	probe    Prober
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration

	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int
	running   bool
}

// New creates a connectivity monitor. The initial state is offline until
// the first successful probe or an explicit SetOnline.
func New(probe Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		probe:     probe,
		interval:  interval,
		logger:    logger,
		listeners: make(map[int]func(online bool)),
	}
}

// Online returns the last observed connectivity state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback and returns an unsubscribe
// function. The callback fires only when the state actually changes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SetOnline records an externally observed connectivity state,
// notifying subscribers on a transition
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("Connectivity changed", "online", online)
	}

	for _, fn := range listeners {
		m.notify(fn, online)
	}
}

// notify вызывает подписчика, изолируя его панику от остальных
func (m *Monitor) notify(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("Connectivity subscriber panicked", "panic", r)
		}
	}()
	fn(online)
}

// Start begins periodic probing. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)

		// Первая проверка сразу, дальше по таймеру
		m.probeOnce(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.probeOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts probing. The last observed state remains readable.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.probe(probeCtx)
	m.SetOnline(err == nil)
}
