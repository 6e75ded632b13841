package models

import "time"

// ChangeType тип локальной мутации
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeStatus статус отложенного изменения в очереди
type ChangeStatus string

const (
	StatusPending  ChangeStatus = "pending"  // ожидает отправки
	StatusSyncing  ChangeStatus = "syncing"  // отправляется прямо сейчас
	StatusSynced   ChangeStatus = "synced"   // подтверждено сервером
	StatusConflict ChangeStatus = "conflict" // отклонено сервером как конфликт версий
	StatusError    ChangeStatus = "error"    // исчерпаны попытки, требуется вмешательство
)

// PendingChange представляет одну локальную мутацию, еще не подтвержденную
// сервером. Инвариант очереди: не более одной живой записи на пару
// (EntityType, EntityID) — повторные мутации коалесцируются.
type PendingChange struct {
	Timestamp     time.Time    `json:"timestamp"`       // Timestamp время последней мутации
	NextAttemptAt time.Time    `json:"next_attempt_at"` // NextAttemptAt не отправлять раньше этого момента (backoff)
	ID            string       `json:"id"`              // ID непрозрачный идентификатор записи очереди (UUID)
	EntityType    string       `json:"entity_type"`     // EntityType тип сущности
	EntityID      string       `json:"entity_id"`       // EntityID идентификатор сущности
	ChangeType    ChangeType   `json:"change_type"`     // ChangeType create/update/delete
	Status        ChangeStatus `json:"status"`          // Status текущий статус записи
	LastError     string       `json:"last_error"`      // LastError текст последней ошибки отправки
	Data          EntityData   `json:"data"`            // Data payload мутации
	PreviousData  EntityData   `json:"previous_data"`   // PreviousData состояние до мутации (для update)
	RetryCount    int          `json:"retry_count"`     // RetryCount число неудачных попыток отправки
}

// Due сообщает, наступило ли время следующей попытки отправки
func (c *PendingChange) Due(now time.Time) bool {
	return !c.NextAttemptAt.After(now)
}
