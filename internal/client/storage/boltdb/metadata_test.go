package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

func TestGetSyncMetadata_FirstSync(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	// До первой синхронизации возвращается нулевой watermark
	meta, err := store.GetSyncMetadata(ctx, "work_orders")
	require.NoError(t, err)
	assert.Equal(t, "work_orders", meta.EntityType)
	assert.True(t, meta.LastSyncTime.IsZero())
	assert.False(t, meta.SyncInProgress)
}

func TestSaveGetSyncMetadata(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	syncTime := time.Date(2026, 8, 20, 12, 30, 0, 0, time.UTC)
	meta := &models.SyncMetadata{
		EntityType:   "work_orders",
		LastSyncTime: syncTime,
		LastError:    "",
	}
	require.NoError(t, store.SaveSyncMetadata(ctx, meta))

	got, err := store.GetSyncMetadata(ctx, "work_orders")
	require.NoError(t, err)
	assert.Equal(t, syncTime, got.LastSyncTime.UTC())
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	_, err := store.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	require.NoError(t, store.SaveToken(ctx, "bearer-token-value"))

	token, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token-value", token)

	require.NoError(t, store.DeleteToken(ctx))

	_, err = store.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)
}
