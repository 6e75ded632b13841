// Package api contains the wire types of the maintenance-management REST
// surface consumed by the sync client. Entity bodies are opaque JSON
// objects; only "id" and "updatedAt" are interpreted.
package api

import "encoding/json"

// ListEnvelope is the optional wrapper some list endpoints return.
// GET <path> responds either with a bare JSON array of entities or with
// {"data": [...]} — DecodeList handles both.
type ListEnvelope struct {
	Data []map[string]any `json:"data"`
}

// ErrorResponse is the error body returned by the server
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ConflictEnvelope is the body of a 409 response. Servers return either
// the bare current representation or wrap it under "current"/"data".
type ConflictEnvelope struct {
	Current map[string]any `json:"current"`
	Data    map[string]any `json:"data"`
}

// DecodeList разбирает ответ списка: голый массив или обертку {data: [...]}
func DecodeList(body []byte) ([]map[string]any, error) {
	var plain []map[string]any
	if err := json.Unmarshal(body, &plain); err == nil {
		return plain, nil
	}

	var envelope ListEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// DecodeConflict извлекает серверное представление сущности из тела 409
func DecodeConflict(body []byte) map[string]any {
	var envelope ConflictEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Current != nil {
			return envelope.Current
		}
		if envelope.Data != nil {
			return envelope.Data
		}
	}

	var plain map[string]any
	if err := json.Unmarshal(body, &plain); err == nil {
		return plain
	}
	return nil
}
