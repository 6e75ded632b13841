package models

import "time"

// EntityData представляет тело серверной сущности как непрозрачный JSON объект.
// Движок синхронизации не знает бизнес-схему: значимы только поля
// "id" и опционально "updatedAt", всё остальное передается как есть.
type EntityData map[string]any

// FieldID имя поля идентификатора сущности в JSON
const FieldID = "id"

// FieldUpdatedAt имя поля времени последнего обновления на сервере
const FieldUpdatedAt = "updatedAt"

// OfflineIDPrefix префикс для идентификаторов, сгенерированных клиентом
// до первой синхронизации с сервером
const OfflineIDPrefix = "tmp-"

// ID возвращает идентификатор сущности из payload.
// Возвращает пустую строку, если поле отсутствует или имеет не строковый тип.
func (d EntityData) ID() string {
	if id, ok := d[FieldID].(string); ok {
		return id
	}
	return ""
}

// UpdatedAt возвращает серверное время обновления сущности, если оно есть.
func (d EntityData) UpdatedAt() (time.Time, bool) {
	raw, ok := d[FieldUpdatedAt].(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Clone создает неглубокую копию payload
func (d EntityData) Clone() EntityData {
	if d == nil {
		return nil
	}
	out := make(EntityData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge возвращает новый payload: поля other поверх полей d (later wins).
// Используется при коалесценции накопленных изменений.
func (d EntityData) Merge(other EntityData) EntityData {
	out := d.Clone()
	if out == nil {
		out = make(EntityData, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// WithoutID возвращает копию payload без поля идентификатора.
// Применяется перед POST: сервер назначает id сам.
func (d EntityData) WithoutID() EntityData {
	out := d.Clone()
	delete(out, FieldID)
	return out
}

// IsOfflineID сообщает, был ли идентификатор сгенерирован клиентом офлайн
func IsOfflineID(id string) bool {
	return len(id) > len(OfflineIDPrefix) && id[:len(OfflineIDPrefix)] == OfflineIDPrefix
}

// CachedEntity представляет последнюю известную копию одной серверной
// сущности в локальном кэше.
type CachedEntity struct {
	CachedAt        time.Time  `json:"cached_at"`         // CachedAt время записи в кэш
	ExpiresAt       time.Time  `json:"expires_at"`        // ExpiresAt = CachedAt + ttl(entityType)
	ServerUpdatedAt *time.Time `json:"server_updated_at"` // ServerUpdatedAt время обновления на сервере (если известно)
	EntityType      string     `json:"entity_type"`       // EntityType тип сущности (work_orders, assets, ...)
	ID              string     `json:"id"`                // ID идентификатор сущности
	Data            EntityData `json:"data"`              // Data непрозрачное тело сущности
	Version         int64      `json:"version"`           // Version монотонная метка записи (unix ms)
	OfflineCreated  bool       `json:"offline_created"`   // OfflineCreated сущность создана офлайн и еще не подтверждена сервером
}

// Expired сообщает, истек ли TTL записи на момент now
func (e *CachedEntity) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
