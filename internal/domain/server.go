package domain

import (
	"time"

	"github.com/google/uuid"
)

// PowerState состояние питания вычислительного ресурса по данным провайдера
type PowerState string

const (
	PowerStateStarted  PowerState = "started"
	PowerStateStopped  PowerState = "stopped"
	PowerStateBuilding PowerState = "building"
	PowerStateUnknown  PowerState = "unknown"
)

// ServerStatus локальный статус записи о сервере
type ServerStatus string

const (
	ServerStatusActive  ServerStatus = "active"
	ServerStatusDeleted ServerStatus = "deleted"
)

// Server локальная запись об арендованном сервере удаленного рабочего стола.
// ProviderID идентифицирует ресурс на стороне провайдера.
type Server struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	AccountID  uuid.UUID    `json:"account_id" db:"account_id"`
	ProviderID string       `json:"provider_id" db:"provider_id"`
	Hostname   string       `json:"hostname" db:"hostname"`
	Status     ServerStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}
