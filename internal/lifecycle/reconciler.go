package lifecycle

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// reconcileStatuses статусы, по которым цикл сверки отбирает подписки.
// Терминальные статусы сверке не подлежат.
var reconcileStatuses = []domain.SubscriptionStatus{
	domain.SubscriptionStatusActive,
	domain.SubscriptionStatusPendingRenewal,
	domain.SubscriptionStatusGracePeriod,
	domain.SubscriptionStatusSuspended,
}

// Reconciler периодическая сверка подписок с истекшим оплаченным периодом.
// Каждый тик обрабатывает подписки последовательно; ошибка по одной подписке
// не прерывает обработку остальных.
type Reconciler struct {
	subscriptionRepo repository.SubscriptionRepository
	machine          *StateMachine
	metrics          metrics.BillingMetrics
	policy           Policy
	log              *logger.Logger

	now func() time.Time
}

// NewReconciler создает цикл сверки подписок
func NewReconciler(
	subscriptionRepo repository.SubscriptionRepository,
	machine *StateMachine,
	billingMetrics metrics.BillingMetrics,
	policy Policy,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		subscriptionRepo: subscriptionRepo,
		machine:          machine,
		metrics:          billingMetrics,
		policy:           policy,
		log:              log,
		now:              time.Now,
	}
}

// Tick выполняет один проход сверки
func (r *Reconciler) Tick(ctx context.Context) error {
	started := r.now()
	cutoff := started.Add(-r.policy.Buffer)

	due, err := r.subscriptionRepo.FindDue(ctx, cutoff, reconcileStatuses)
	if err != nil {
		r.log.Errorw("Failed to query due subscriptions", "error", err)
		return err
	}

	if len(due) == 0 {
		return nil
	}
	r.log.Debugw("Reconciling due subscriptions", "count", len(due))

	var failed int
	for _, sub := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.machine.Advance(ctx, sub); err != nil {
			failed++
			r.log.Errorw("Failed to advance subscription", "error", err, "subscriptionID", sub.ID, "status", sub.Status)
		}
	}

	r.metrics.ObserveTickDuration("reconcile", time.Since(started))
	if failed > 0 {
		r.log.Warnw("Reconcile tick finished with failures", "processed", len(due), "failed", failed)
	}
	return nil
}
