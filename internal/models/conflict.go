package models

import "time"

// Resolution способ разрешения конфликта
type Resolution string

const (
	ResolutionLocal  Resolution = "local"  // локальные данные переотправляются на сервер
	ResolutionServer Resolution = "server" // серверная копия становится авторитетной
	ResolutionMerged Resolution = "merged" // вручную слитые данные: и в кэш, и на сервер
)

// Strategy политика автоматического разрешения конфликтов
type Strategy string

const (
	StrategyServerWins Strategy = "server-wins"
	StrategyClientWins Strategy = "client-wins"
	StrategyManual     Strategy = "manual"
)

// ConflictRecord фиксирует обнаруженное расхождение между локальной
// мутацией и текущим состоянием сервера. Записи append-only: разрешение
// выставляет флаг, удаление возможно только через purge по возрасту.
type ConflictRecord struct {
	Timestamp  time.Time  `json:"timestamp"`   // Timestamp время обнаружения конфликта
	ResolvedAt *time.Time `json:"resolved_at"` // ResolvedAt время разрешения (nil пока не разрешен)
	ID         string     `json:"id"`          // ID идентификатор записи (UUID)
	EntityType string     `json:"entity_type"` // EntityType тип сущности
	EntityID   string     `json:"entity_id"`   // EntityID идентификатор сущности
	ChangeType ChangeType `json:"change_type"` // ChangeType тип мутации, вызвавшей конфликт
	Resolution Resolution `json:"resolution"`  // Resolution примененный способ разрешения
	LocalData  EntityData `json:"local_data"`  // LocalData локальный payload на момент конфликта
	ServerData EntityData `json:"server_data"` // ServerData серверное состояние из ответа 409
	Resolved   bool       `json:"resolved"`    // Resolved конфликт разрешен
}
