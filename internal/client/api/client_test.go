package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fieldline/internal/models"
)

func staticToken(token string) TokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080", nil)

	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

func TestClient_List_BareArray(t *testing.T) {
	// Создаем mock сервер
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/work-orders", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.NotEmpty(t, r.URL.Query().Get("updatedSince"))

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "wo-1", "title": "Fix pump"},
			{"id": "wo-2", "title": "Inspect belt"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("test-token"))

	entities, err := client.List(context.Background(), "/api/work-orders", ListOptions{
		Limit:        100,
		UpdatedSince: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "wo-1", entities[0].ID())
}

func TestClient_List_DataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Список, завернутый в {data: [...]}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "a-1"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	entities, err := client.List(context.Background(), "/api/assets", ListOptions{})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "a-1", entities[0].ID())
}

func TestClient_Create_StripsLocalID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// Клиентский id не должен дойти до сервера
		assert.NotContains(t, body, "id")
		assert.Equal(t, "Fix pump", body["title"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "wo-42", "title": "Fix pump"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	created, err := client.Create(context.Background(), "/api/work-orders", models.EntityData{
		"id":    "tmp-local",
		"title": "Fix pump",
	})
	require.NoError(t, err)
	assert.Equal(t, "wo-42", created.ID())
}

func TestClient_Update_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, "/api/inventory/i-1", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "i-1", "price": 15})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	updated, err := client.Update(context.Background(), "/api/inventory", "i-1", models.EntityData{"price": 15})
	require.NoError(t, err)
	assert.Equal(t, float64(15), updated["price"])
}

func TestClient_Update_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "i-1", "price": 20})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	_, err := client.Update(context.Background(), "/api/inventory", "i-1", models.EntityData{"price": 15})
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, float64(20), conflict.ServerData["price"])
}

func TestClient_Update_ConflictEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Серверное представление завернуто в {current: {...}}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"current": map[string]any{"id": "i-1", "price": 20},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	_, err := client.Update(context.Background(), "/api/inventory", "i-1", models.EntityData{"price": 15})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, float64(20), conflict.ServerData["price"])
}

func TestClient_Delete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/assets/a-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	require.NoError(t, client.Delete(context.Background(), "/api/assets", "a-1"))
}

func TestClient_Delete_AlreadyGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	err := client.Delete(context.Background(), "/api/assets", "a-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal", "message": "database unavailable"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	_, err := client.List(context.Background(), "/api/assets", ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	require.NoError(t, client.Health(context.Background()))
}

func TestClient_TokenProviderError(t *testing.T) {
	client := NewClient("http://localhost:0", func(ctx context.Context) (string, error) {
		return "", errors.New("no token")
	})

	_, err := client.List(context.Background(), "/api/assets", ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}
