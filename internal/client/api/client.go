package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fieldline/fieldline/internal/models"
	"github.com/fieldline/fieldline/pkg/api"
)

// ErrNotFound indicates the server has no entity with the requested id
var ErrNotFound = errors.New("entity not found on server")

// ConflictError is returned when the server rejects a mutation with 409.
// ServerData carries the server's current representation from the body.
type ConflictError struct {
	ServerData models.EntityData
}

func (e *ConflictError) Error() string {
	return "server reported a version conflict"
}

// TokenProvider supplies the bearer token attached to every request.
// A nil provider sends unauthenticated requests.
type TokenProvider func(ctx context.Context) (string, error)

// ListOptions параметры запроса списка сущностей
type ListOptions struct {
	// UpdatedSince ограничивает выдачу записями, измененными после
	// watermark. Нулевое время запрашивает полный список.
	UpdatedSince time.Time
	// Limit ограничивает размер выдачи (0 = без ограничения)
	Limit int
}

// ClientAPI defines the entity REST surface consumed by the sync engine
type ClientAPI interface {
	// List fetches the server's current entity list for one resource path
	List(ctx context.Context, path string, opts ListOptions) ([]models.EntityData, error)

	// Create POSTs a new entity (body without id) and returns the
	// server-assigned representation
	Create(ctx context.Context, path string, data models.EntityData) (models.EntityData, error)

	// Update PATCHes a partial entity. A 409 response is returned as
	// *ConflictError carrying the server's current representation.
	Update(ctx context.Context, path, id string, data models.EntityData) (models.EntityData, error)

	// Delete removes an entity. Returns ErrNotFound when the target is
	// already absent server-side.
	Delete(ctx context.Context, path, id string) error

	// Health probes server reachability
	Health(ctx context.Context) error
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	baseURL    string
}

// Compile-time check that Client implements ClientAPI
var _ ClientAPI = (*Client)(nil)

// NewClient создает новый API клиент
func NewClient(baseURL string, tokens TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовок Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// List fetches the server's current entity list for one resource path
func (c *Client) List(ctx context.Context, path string, opts ListOptions) ([]models.EntityData, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if !opts.UpdatedSince.IsZero() {
		query.Set("updatedSince", opts.UpdatedSince.UTC().Format(time.RFC3339Nano))
	}

	fullPath := path
	if encoded := query.Encode(); encoded != "" {
		fullPath += "?" + encoded
	}

	body, err := c.doRequest(ctx, http.MethodGet, fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("list request failed: %w", err)
	}

	raw, err := api.DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}

	entities := make([]models.EntityData, 0, len(raw))
	for _, item := range raw {
		entities = append(entities, models.EntityData(item))
	}
	return entities, nil
}

// Create POSTs a new entity and returns the server-assigned representation
func (c *Client) Create(ctx context.Context, path string, data models.EntityData) (models.EntityData, error) {
	// Локально сгенерированный id не отправляется: сервер назначает свой
	body, err := c.doRequest(ctx, http.MethodPost, path, data.WithoutID())
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	var created models.EntityData
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return created, nil
}

// Update PATCHes a partial entity
func (c *Client) Update(ctx context.Context, path, id string, data models.EntityData) (models.EntityData, error) {
	body, err := c.doRequest(ctx, http.MethodPatch, path+"/"+url.PathEscape(id), data)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		return nil, fmt.Errorf("update request failed: %w", err)
	}

	var updated models.EntityData
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("failed to decode update response: %w", err)
	}
	return updated, nil
}

// Delete removes an entity by id
func (c *Client) Delete(ctx context.Context, path, id string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, path+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return nil
}

// Health probes server reachability via the health endpoint
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/health", nil); err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	return nil
}

// doRequest выполняет HTTP запрос и возвращает тело успешного ответа
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Специальные статусы протокола синхронизации
	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, &ConflictError{ServerData: api.DecodeConflict(respBody)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
