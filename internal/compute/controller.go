package compute

import (
	"context"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// PowerStatus результат запроса состояния питания у провайдера
type PowerStatus struct {
	State domain.PowerState `json:"state"`

	// Raw исходная строка состояния провайдера, для диагностики
	Raw string `json:"raw,omitempty"`
}

// ResourceController интерфейс провайдера вычислительных ресурсов.
// Все операции могут завершаться временными ошибками; вызывающие обязаны
// переживать их без остановки обработки остальных подписок.
type ResourceController interface {
	GetPowerState(ctx context.Context, providerID string) (PowerStatus, error)
	Start(ctx context.Context, providerID string) error
	Stop(ctx context.Context, providerID string) error
	Destroy(ctx context.Context, providerID string) error
}
