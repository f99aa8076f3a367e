package lifecycle

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/notify"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// reminderStage этап напоминания о приближающемся окончании периода
type reminderStage string

const (
	reminderStageFirst reminderStage = "first"
	reminderStageFinal reminderStage = "final"
)

// ReminderScheduler рассылка напоминаний об истечении оплаченного периода.
// Флаги отправки ставятся только после успешной доставки, поэтому сбой
// диспетчера приводит к повтору на следующем тике, а не к потере напоминания.
type ReminderScheduler struct {
	subscriptionRepo repository.SubscriptionRepository
	wallet           service.WalletService
	dispatcher       notify.Dispatcher
	metrics          metrics.BillingMetrics
	log              *logger.Logger

	now func() time.Time
}

// NewReminderScheduler создает планировщик напоминаний
func NewReminderScheduler(
	subscriptionRepo repository.SubscriptionRepository,
	wallet service.WalletService,
	dispatcher notify.Dispatcher,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) *ReminderScheduler {
	return &ReminderScheduler{
		subscriptionRepo: subscriptionRepo,
		wallet:           wallet,
		dispatcher:       dispatcher,
		metrics:          billingMetrics,
		log:              log,
		now:              time.Now,
	}
}

// Tick выполняет один проход рассылки напоминаний по активным подпискам
func (r *ReminderScheduler) Tick(ctx context.Context) error {
	active, err := r.subscriptionRepo.FindByStatus(ctx, domain.SubscriptionStatusActive)
	if err != nil {
		r.log.Errorw("Failed to query active subscriptions for reminders", "error", err)
		return err
	}

	for _, sub := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.process(ctx, sub); err != nil {
			r.log.Warnw("Failed to process reminder", "error", err, "subscriptionID", sub.ID)
		}
	}
	return nil
}

// process проверяет пороги напоминаний одной подписки
func (r *ReminderScheduler) process(ctx context.Context, sub domain.Subscription) error {
	remaining := sub.SubscriptionEnd.Sub(r.now())
	if remaining <= 0 {
		// Истекшими подписками занимается сверка, не напоминания
		return nil
	}

	if !sub.FirstReminderSent && remaining <= billing.FirstReminderThreshold(sub.CycleType) {
		if err := r.send(ctx, &sub, reminderStageFirst); err != nil {
			return err
		}
	}

	if final, ok := billing.FinalReminderThreshold(sub.CycleType); ok {
		if !sub.FinalReminderSent && remaining <= final {
			if err := r.send(ctx, &sub, reminderStageFinal); err != nil {
				return err
			}
		}
	}
	return nil
}

// send отправляет напоминание и помечает этап отправленным
func (r *ReminderScheduler) send(ctx context.Context, sub *domain.Subscription, stage reminderStage) error {
	kind, err := r.variant(ctx, *sub)
	if err != nil {
		return err
	}

	if err := r.dispatcher.Send(ctx, kind, notify.Message{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		Fields: map[string]string{
			"stage":            string(stage),
			"subscription_end": sub.SubscriptionEnd.Format(time.RFC3339),
			"amount":           sub.Price.Amount.String(),
			"currency":         sub.Price.Currency,
		},
	}); err != nil {
		// Флаг не ставится: напоминание уйдет на следующем тике
		return err
	}

	now := r.now()
	switch stage {
	case reminderStageFirst:
		sub.FirstReminderSent = true
		sub.FirstReminderSentAt = &now
	case reminderStageFinal:
		sub.FinalReminderSent = true
		sub.FinalReminderSentAt = &now
	}

	if err := r.subscriptionRepo.Update(ctx, *sub); err != nil {
		r.log.Errorw("Failed to persist reminder flag, duplicate possible", "error", err, "subscriptionID", sub.ID, "stage", stage)
		return err
	}

	r.metrics.IncReminder(string(kind))
	r.log.Debugw("Reminder sent", "subscriptionID", sub.ID, "stage", stage, "kind", kind)
	return nil
}

// variant выбирает вид напоминания: для неавтопродляемых подписок требуется
// ручное продление, для автопродляемых - сравнивается баланс с ценой
func (r *ReminderScheduler) variant(ctx context.Context, sub domain.Subscription) (notify.Kind, error) {
	if !sub.AutoRenewable {
		return notify.KindManualRenewalRequired, nil
	}

	balance, err := r.wallet.GetBalance(ctx, sub.AccountID, sub.Price.Currency)
	if err != nil {
		return "", err
	}
	if balance.GreaterThanOrEqual(sub.Price.Amount) {
		return notify.KindUpcomingRenewal, nil
	}
	return notify.KindInsufficientFunds, nil
}
