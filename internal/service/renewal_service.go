package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/notify"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// RenewalService оркестратор продления подписки. Никогда не возвращает ошибку
// за свою границу: и пользовательское продление, и цикл сверки получают
// структурированный отчет.
type RenewalService interface {
	Renew(ctx context.Context, subscriptionID uuid.UUID, useWallet bool) domain.RenewResult
}

type renewalService struct {
	subscriptionRepo repository.SubscriptionRepository
	planRepo         repository.PlanRepository
	wallet           WalletService
	dispatcher       notify.Dispatcher
	metrics          metrics.BillingMetrics
	log              *logger.Logger

	// now подменяется в тестах
	now func() time.Time
}

// NewRenewalService создает новый оркестратор продления
func NewRenewalService(
	subscriptionRepo repository.SubscriptionRepository,
	planRepo repository.PlanRepository,
	wallet WalletService,
	dispatcher notify.Dispatcher,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) RenewalService {
	return &renewalService{
		subscriptionRepo: subscriptionRepo,
		planRepo:         planRepo,
		wallet:           wallet,
		dispatcher:       dispatcher,
		metrics:          billingMetrics,
		log:              log,
		now:              time.Now,
	}
}

// Renew продлевает подписку на один расчетный период
func (s *renewalService) Renew(ctx context.Context, subscriptionID uuid.UUID, useWallet bool) domain.RenewResult {
	subscription, err := s.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failedResult("subscription not found")
		}
		s.log.Errorw("Failed to load subscription for renewal", "error", err, "subscriptionID", subscriptionID)
		return failedResult("failed to load subscription")
	}

	// Истекшую подписку можно оживить ручным продлением; уничтоженную - нет
	if subscription.Status == domain.SubscriptionStatusTerminated || subscription.Status == domain.SubscriptionStatusDeleted {
		s.log.Warnw("Renewal refused for terminated subscription", "subscriptionID", subscriptionID, "status", subscription.Status)
		return failedResult(fmt.Sprintf("subscription is %s and cannot be renewed", subscription.Status))
	}

	price := subscription.Price
	if price.IsZero() {
		// Цена не зафиксирована на подписке - берем из тарифного плана
		plan, err := s.planRepo.GetByID(ctx, subscription.PlanID)
		if err != nil {
			s.log.Errorw("Failed to resolve plan for renewal", "error", err, "subscriptionID", subscriptionID, "planID", subscription.PlanID)
			return failedResult("failed to resolve subscription plan")
		}
		price = plan.Price()
	}

	now := s.now()

	// Продление заранее тянется от будущего конца периода, продление с
	// опозданием - от "сейчас"
	newEnd, err := billing.NextEnd(subscription.CycleType, billing.RenewalBase(subscription.SubscriptionEnd, now))
	if err != nil {
		s.log.Errorw("Failed to compute next period end", "error", err, "subscriptionID", subscriptionID, "cycle", subscription.CycleType)
		return failedResult("unsupported billing cycle")
	}

	var debit domain.Transaction
	var debited bool
	if useWallet {
		reference := fmt.Sprintf("renewal-%s-%d", subscription.ID, now.UnixNano())
		debit, err = s.wallet.Debit(ctx, subscription.AccountID, price, subscription.ID, reference)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				s.metrics.IncRenewal("insufficient_funds")
				return failedResult("insufficient wallet balance")
			}
			s.log.Errorw("Wallet debit failed during renewal", "error", err, "subscriptionID", subscriptionID)
			s.metrics.IncRenewal("error")
			return failedResult("wallet debit failed")
		}
		debited = true
	}

	original := subscription
	previousStatus := original.Status

	subscription.Status = domain.SubscriptionStatusActive
	subscription.SubscriptionEnd = newEnd
	subscription.GraceEndDate = nil
	subscription.ClearReminders()

	// Условное обновление сериализует ручное продление с конкурентным тиком
	// цикла сверки: вторая сторона получает конфликт, а не второе списание
	if err := s.subscriptionRepo.UpdateWithStatusCheck(ctx, subscription, previousStatus); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.log.Warnw("Subscription changed concurrently during renewal", "subscriptionID", subscriptionID, "expected", previousStatus)
			if debited {
				if rbErr := s.wallet.Rollback(ctx, debit); rbErr != nil {
					s.log.Errorw("CRITICAL: failed to roll back debit after renewal conflict", "error", rbErr, "subscriptionID", subscriptionID, "transactionID", debit.ID)
				}
			}
			s.metrics.IncRenewal("conflict")
			return failedResult("subscription changed concurrently")
		}

		s.log.Errorw("Failed to persist renewed subscription", "error", err, "subscriptionID", subscriptionID)

		// Списание и обновление подписки должны быть фактически атомарны:
		// откатываем списание, раз состояние сохранить не удалось
		if debited {
			if rbErr := s.wallet.Rollback(ctx, debit); rbErr != nil {
				s.log.Errorw("CRITICAL: failed to roll back debit after persist failure", "error", rbErr, "subscriptionID", subscriptionID, "transactionID", debit.ID)
			}
		}

		// Неудавшееся продление не должно оставить истекшую подписку
		// выглядящей здоровее, чем она была
		if previousStatus == domain.SubscriptionStatusExpired {
			if resetErr := s.subscriptionRepo.Update(ctx, original); resetErr != nil {
				s.log.Errorw("Failed to restore expired status after renewal failure", "error", resetErr, "subscriptionID", subscriptionID)
			}
		}

		s.metrics.IncRenewal("error")
		return failedResult("failed to persist renewal")
	}

	s.metrics.IncRenewal("success")

	if err := s.dispatcher.Send(ctx, notify.KindRenewalConfirmed, notify.Message{
		SubscriptionID: subscription.ID,
		AccountID:      subscription.AccountID,
		Fields: map[string]string{
			"subscription_end": newEnd.Format(time.RFC3339),
			"amount":           price.Amount.String(),
			"currency":         price.Currency,
		},
	}); err != nil {
		// Доставка уведомлений не блокирует продление
		s.log.Warnw("Failed to send renewal confirmation", "error", err, "subscriptionID", subscriptionID)
	}

	s.log.Infow("Subscription renewed", "subscriptionID", subscriptionID, "newEnd", newEnd, "useWallet", useWallet)
	return domain.RenewResult{
		Success:         true,
		Message:         "subscription renewed",
		SubscriptionEnd: &newEnd,
	}
}

func failedResult(message string) domain.RenewResult {
	return domain.RenewResult{Success: false, Message: message}
}
