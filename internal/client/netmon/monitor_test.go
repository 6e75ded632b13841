package netmon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOnline_NotifiesOnTransitionOnly(t *testing.T) {
	m := New(nil, time.Minute, nil)

	var calls int32
	unsubscribe := m.Subscribe(func(online bool) {
		atomic.AddInt32(&calls, 1)
	})
	defer unsubscribe()

	assert.False(t, m.Online())

	m.SetOnline(true)
	m.SetOnline(true) // без перехода нет уведомления
	m.SetOnline(false)

	assert.True(t, int32(2) == atomic.LoadInt32(&calls))
	assert.False(t, m.Online())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m := New(nil, time.Minute, nil)

	var calls int32
	unsubscribe := m.Subscribe(func(online bool) {
		atomic.AddInt32(&calls, 1)
	})

	m.SetOnline(true)
	unsubscribe()
	m.SetOnline(false)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubscriber_PanicIsolated(t *testing.T) {
	m := New(nil, time.Minute, nil)

	var survived int32
	m.Subscribe(func(online bool) {
		panic("listener bug")
	})
	m.Subscribe(func(online bool) {
		atomic.AddInt32(&survived, 1)
	})

	require.NotPanics(t, func() {
		m.SetOnline(true)
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&survived))
}

func TestStart_ProbesConnectivity(t *testing.T) {
	var healthy atomic.Bool
	probe := func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("unreachable")
	}

	m := New(probe, 10*time.Millisecond, nil)

	transitions := make(chan bool, 8)
	m.Subscribe(func(online bool) {
		transitions <- online
	})

	m.Start(context.Background())
	defer m.Stop()

	// Сервер недоступен: остаемся офлайн
	time.Sleep(30 * time.Millisecond)
	assert.False(t, m.Online())

	// Сервер поднялся: ждем переход в онлайн
	healthy.Store(true)
	select {
	case online := <-transitions:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("expected online transition")
	}
}

func TestStop_Idempotent(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, 10*time.Millisecond, nil)

	m.Start(context.Background())
	m.Stop()
	m.Stop() // повторный Stop безопасен
}
