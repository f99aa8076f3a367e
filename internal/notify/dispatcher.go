package notify

import (
	"context"

	"github.com/google/uuid"
)

// Kind вид уведомления; определяет шаблон письма на стороне доставки
type Kind string

const (
	KindRenewalConfirmed      Kind = "renewal_confirmed"
	KindUpcomingRenewal       Kind = "upcoming_renewal"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindManualRenewalRequired Kind = "manual_renewal_required"
	KindReactivated           Kind = "reactivated"
	KindSuspended             Kind = "suspended"
	KindTerminated            Kind = "terminated"
)

// Message контекст уведомления, передаваемый каналу доставки
type Message struct {
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	AccountID      uuid.UUID         `json:"account_id"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// Dispatcher интерфейс канала доставки уведомлений. С точки зрения ядра это
// fire-and-forget: ошибки доставки логируются и никогда не блокируют переходы
// состояний. Единственное исключение - флаги напоминаний, которые ставятся
// только после успешной отправки.
type Dispatcher interface {
	Send(ctx context.Context, kind Kind, message Message) error
}
