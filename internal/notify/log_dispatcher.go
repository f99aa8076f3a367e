package notify

import (
	"context"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// logDispatcher канал доставки, пишущий уведомления только в лог.
// Используется, когда брокер недоступен при старте: биллинг важнее писем.
type logDispatcher struct {
	log *logger.Logger
}

// NewLogDispatcher создает диспетчер-заглушку поверх логгера
func NewLogDispatcher(log *logger.Logger) Dispatcher {
	return &logDispatcher{log: log}
}

// Send записывает уведомление в лог
func (d *logDispatcher) Send(ctx context.Context, kind Kind, message Message) error {
	d.log.Infow("Notification (log only)", "kind", kind, "subscriptionID", message.SubscriptionID, "accountID", message.AccountID)
	return nil
}
