package models

import "time"

// SyncMetadata хранит watermark инкрементального обновления для одного
// типа сущностей. Мутируется только оркестратором синхронизации.
type SyncMetadata struct {
	LastSyncTime   time.Time `json:"last_sync_time"`   // LastSyncTime время последнего успешного pull
	EntityType     string    `json:"entity_type"`      // EntityType ключ записи
	LastError      string    `json:"last_error"`       // LastError ошибка последнего pull (если была)
	SyncInProgress bool      `json:"sync_in_progress"` // SyncInProgress идет ли сейчас обновление этого типа
}

// SyncResult итог одного цикла синхронизации
type SyncResult struct {
	Success    int      `json:"success"`     // Success количество подтвержденных изменений
	Failed     int      `json:"failed"`      // Failed количество изменений, завершившихся ошибкой
	Conflicts  int      `json:"conflicts"`   // Conflicts количество обнаруженных конфликтов
	Errors     []string `json:"errors"`      // Errors собранные тексты ошибок
	Skipped    bool     `json:"skipped"`     // Skipped цикл не выполнялся (офлайн или уже идет)
	SkipReason string   `json:"skip_reason"` // SkipReason причина пропуска
}

// SyncProgress монотонный прогресс текущего цикла
type SyncProgress struct {
	Current   string `json:"current"`   // Current идентификатор обрабатываемой записи
	Status    string `json:"status"`    // Status idle/syncing/completed/error
	Total     int    `json:"total"`     // Total всего изменений в цикле
	Completed int    `json:"completed"` // Completed уже обработано
}

// SyncStatus снимок состояния движка для UI индикаторов
type SyncStatus struct {
	LastSyncTime   *time.Time    `json:"last_sync_time"`
	LastSyncResult *SyncResult   `json:"last_sync_result"`
	Progress       *SyncProgress `json:"progress"`
	Error          string        `json:"error"`
	PendingCount   int           `json:"pending_count"`
	ConflictCount  int           `json:"conflict_count"`
	IsOnline       bool          `json:"is_online"`
	IsSyncing      bool          `json:"is_syncing"`
}
