package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/compute"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/notify"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Policy константы биллинговой политики
type Policy struct {
	// GraceDays длительность льготного периода после неудавшегося продления;
	// второй такой же интервал отделяет suspended от уничтожения ресурса
	GraceDays int

	// ReinstatementFee фиксированный сбор, добавляемый к цене при
	// реактивации из льготного периода; может быть нулевым
	ReinstatementFee decimal.Decimal

	// Buffer отступ от subscriptionEnd при выборке, чтобы не гоняться за
	// только что продленными подписками
	Buffer time.Duration
}

// DefaultPolicy возвращает эталонную политику
func DefaultPolicy() Policy {
	return Policy{
		GraceDays:        5,
		ReinstatementFee: decimal.Zero,
		Buffer:           time.Minute,
	}
}

// GraceWindow возвращает длительность льготного периода
func (p Policy) GraceWindow() time.Duration {
	return time.Duration(p.GraceDays) * 24 * time.Hour
}

// StateMachine правила переходов подписки с истекшим оплаченным периодом.
// Каждый переход, останавливающий или уничтожающий ресурс, сперва запрашивает
// живое состояние питания у провайдера: локальным предположениям о питании
// доверять нельзя.
type StateMachine struct {
	subscriptionRepo repository.SubscriptionRepository
	serverRepo       repository.ServerRepository
	wallet           service.WalletService
	renewals         service.RenewalService
	controller       compute.ResourceController
	dispatcher       notify.Dispatcher
	metrics          metrics.BillingMetrics
	policy           Policy
	log              *logger.Logger

	now func() time.Time
}

// NewStateMachine создает машину состояний подписки
func NewStateMachine(
	subscriptionRepo repository.SubscriptionRepository,
	serverRepo repository.ServerRepository,
	wallet service.WalletService,
	renewals service.RenewalService,
	controller compute.ResourceController,
	dispatcher notify.Dispatcher,
	billingMetrics metrics.BillingMetrics,
	policy Policy,
	log *logger.Logger,
) *StateMachine {
	return &StateMachine{
		subscriptionRepo: subscriptionRepo,
		serverRepo:       serverRepo,
		wallet:           wallet,
		renewals:         renewals,
		controller:       controller,
		dispatcher:       dispatcher,
		metrics:          billingMetrics,
		policy:           policy,
		log:              log,
		now:              time.Now,
	}
}

// Advance выполняет один шаг машины состояний для подписки с истекшим сроком
func (m *StateMachine) Advance(ctx context.Context, sub domain.Subscription) error {
	switch sub.Status {
	case domain.SubscriptionStatusActive:
		if sub.AutoRenewable {
			return m.beginRenewal(ctx, sub)
		}
		// Неавтопродляемая подписка истекла: ресурс гасится и уничтожается
		return m.terminateFlow(ctx, sub)

	case domain.SubscriptionStatusPendingRenewal:
		return m.attemptRenewal(ctx, sub)

	case domain.SubscriptionStatusGracePeriod:
		return m.graceFlow(ctx, sub)

	case domain.SubscriptionStatusSuspended:
		return m.suspendedFlow(ctx, sub)

	default:
		// Терминальные статусы сюда не попадают; если попали - пропускаем
		return nil
	}
}

// beginRenewal переводит active -> pending_renewal и сразу пытается продлить
func (m *StateMachine) beginRenewal(ctx context.Context, sub domain.Subscription) error {
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusPendingRenewal

	if err := m.subscriptionRepo.UpdateWithStatusCheck(ctx, sub, previous); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Кто-то уже продлил или изменил подписку; не вмешиваемся
			return nil
		}
		return fmt.Errorf("lifecycle: failed to mark subscription pending renewal: %w", err)
	}
	m.metrics.IncTransition(string(previous), string(sub.Status))

	return m.attemptRenewal(ctx, sub)
}

// attemptRenewal пытается продлить подписку из кошелька; неудача открывает
// льготный период
func (m *StateMachine) attemptRenewal(ctx context.Context, sub domain.Subscription) error {
	result := m.renewals.Renew(ctx, sub.ID, true)
	if result.Success {
		m.metrics.IncTransition(string(domain.SubscriptionStatusPendingRenewal), string(domain.SubscriptionStatusActive))
		m.log.Infow("Subscription auto-renewed", "subscriptionID", sub.ID, "newEnd", result.SubscriptionEnd)
		return nil
	}

	m.log.Warnw("Automatic renewal failed, entering grace period", "subscriptionID", sub.ID, "reason", result.Message)

	graceEnd := sub.SubscriptionEnd.Add(m.policy.GraceWindow())
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusGracePeriod
	sub.GraceEndDate = &graceEnd

	if err := m.subscriptionRepo.UpdateWithStatusCheck(ctx, sub, previous); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("lifecycle: failed to enter grace period: %w", err)
	}
	m.metrics.IncTransition(string(previous), string(sub.Status))

	if err := m.dispatcher.Send(ctx, notify.KindInsufficientFunds, notify.Message{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		Fields: map[string]string{
			"grace_end": graceEnd.Format(time.RFC3339),
			"amount":    sub.Price.Amount.String(),
			"currency":  sub.Price.Currency,
		},
	}); err != nil {
		m.log.Warnw("Failed to send insufficient funds notification", "error", err, "subscriptionID", sub.ID)
	}

	// Ресурс гасится на время льготного периода
	m.stopServerIfRunning(ctx, sub)
	return nil
}

// graceFlow реактивирует подписку при достаточном балансе либо приостанавливает
// ее по окончании льготного периода
func (m *StateMachine) graceFlow(ctx context.Context, sub domain.Subscription) error {
	if sub.GraceEndDate == nil {
		// Льготный период без даты окончания - чиним от текущего срока
		graceEnd := sub.SubscriptionEnd.Add(m.policy.GraceWindow())
		sub.GraceEndDate = &graceEnd
		if err := m.subscriptionRepo.Update(ctx, sub); err != nil {
			return fmt.Errorf("lifecycle: failed to repair grace end date: %w", err)
		}
		return nil
	}

	due := sub.Price.Amount.Add(m.policy.ReinstatementFee)
	balance, err := m.wallet.GetBalance(ctx, sub.AccountID, sub.Price.Currency)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to check balance for reinstatement: %w", err)
	}

	// Реактивация возможна и после graceEndDate - последний шанс, пока
	// подписка не приостановлена
	if balance.GreaterThanOrEqual(due) {
		return m.reinstate(ctx, sub, due)
	}

	if m.now().Before(*sub.GraceEndDate) {
		// Средств нет, но льготный период еще идет
		return nil
	}

	previous := sub.Status
	sub.Status = domain.SubscriptionStatusSuspended
	if err := m.subscriptionRepo.UpdateWithStatusCheck(ctx, sub, previous); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("lifecycle: failed to suspend subscription: %w", err)
	}
	m.metrics.IncTransition(string(previous), string(sub.Status))
	m.log.Infow("Subscription suspended after grace period", "subscriptionID", sub.ID)

	if err := m.dispatcher.Send(ctx, notify.KindSuspended, notify.Message{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
	}); err != nil {
		m.log.Warnw("Failed to send suspension notification", "error", err, "subscriptionID", sub.ID)
	}
	return nil
}

// reinstate списывает цену с реактивационным сбором и возвращает подписку в active
func (m *StateMachine) reinstate(ctx context.Context, sub domain.Subscription, due decimal.Decimal) error {
	now := m.now()
	reference := fmt.Sprintf("reinstate-%s-%d", sub.ID, now.UnixNano())
	debit, err := m.wallet.Debit(ctx, sub.AccountID, domain.NewMoney(due, sub.Price.Currency), sub.ID, reference)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			// Баланс изменился между проверкой и списанием; на следующем тике
			// решение примется заново
			return nil
		}
		return fmt.Errorf("lifecycle: reinstatement debit failed: %w", err)
	}

	newEnd, err := billing.NextEnd(sub.CycleType, billing.RenewalBase(sub.SubscriptionEnd, now))
	if err != nil {
		// Неизвестный период не должен был пройти до сюда; возвращаем деньги
		if rbErr := m.wallet.Rollback(ctx, debit); rbErr != nil {
			m.log.Errorw("CRITICAL: failed to roll back reinstatement debit", "error", rbErr, "subscriptionID", sub.ID)
		}
		return fmt.Errorf("lifecycle: failed to compute reinstated period end: %w", err)
	}

	previous := sub.Status
	sub.Status = domain.SubscriptionStatusActive
	sub.SubscriptionEnd = newEnd
	sub.GraceEndDate = nil
	sub.ClearReminders()

	if err := m.subscriptionRepo.UpdateWithStatusCheck(ctx, sub, previous); err != nil {
		if rbErr := m.wallet.Rollback(ctx, debit); rbErr != nil {
			m.log.Errorw("CRITICAL: failed to roll back reinstatement debit after persist failure", "error", rbErr, "subscriptionID", sub.ID)
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("lifecycle: failed to persist reinstated subscription: %w", err)
	}
	m.metrics.IncTransition(string(previous), string(sub.Status))

	m.startServer(ctx, sub)

	if err := m.dispatcher.Send(ctx, notify.KindReactivated, notify.Message{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		Fields: map[string]string{
			"subscription_end": newEnd.Format(time.RFC3339),
			"amount":           due.String(),
			"currency":         sub.Price.Currency,
		},
	}); err != nil {
		m.log.Warnw("Failed to send reactivation notification", "error", err, "subscriptionID", sub.ID)
	}

	m.log.Infow("Subscription reinstated from grace period", "subscriptionID", sub.ID, "newEnd", newEnd, "charged", due)
	return nil
}

// suspendedFlow уничтожает ресурс после второго льготного интервала
func (m *StateMachine) suspendedFlow(ctx context.Context, sub domain.Subscription) error {
	if sub.GraceEndDate == nil {
		m.log.Warnw("Suspended subscription has no grace end date, skipping", "subscriptionID", sub.ID)
		return nil
	}

	if m.now().Sub(*sub.GraceEndDate) < m.policy.GraceWindow() {
		// Второй льготный интервал еще не истек
		return nil
	}

	return m.terminateFlow(ctx, sub)
}

// terminateFlow гасит и уничтожает ресурс, опираясь только на живое состояние
// питания. Работающий ресурс сперва останавливается и уничтожается на
// следующем тике; неизвестное состояние откладывает решение целиком.
func (m *StateMachine) terminateFlow(ctx context.Context, sub domain.Subscription) error {
	server, err := m.serverRepo.GetByID(ctx, sub.ServerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Записи о сервере нет - уничтожать нечего, закрываем подписку
			return m.markTerminated(ctx, sub)
		}
		return fmt.Errorf("lifecycle: failed to load server record: %w", err)
	}

	if server.Status == domain.ServerStatusDeleted {
		return m.markTerminated(ctx, sub)
	}

	status, err := m.controller.GetPowerState(ctx, server.ProviderID)
	if err != nil {
		m.log.Warnw("Failed to query live power state, deferring termination", "error", err, "subscriptionID", sub.ID, "providerID", server.ProviderID)
		return nil
	}

	switch status.State {
	case domain.PowerStateStarted:
		// Ресурсом могут пользоваться прямо сейчас: только останавливаем,
		// уничтожение - на следующем тике по подтвержденному stopped
		if err := m.controller.Stop(ctx, server.ProviderID); err != nil {
			m.log.Warnw("Failed to stop server before termination", "error", err, "subscriptionID", sub.ID, "providerID", server.ProviderID)
		}
		return nil

	case domain.PowerStateStopped:
		if err := m.controller.Destroy(ctx, server.ProviderID); err != nil {
			m.log.Warnw("Failed to destroy server, retrying next tick", "error", err, "subscriptionID", sub.ID, "providerID", server.ProviderID)
			return nil
		}

		if err := m.serverRepo.MarkDeleted(ctx, server.ID); err != nil {
			m.log.Errorw("Failed to mark server record deleted", "error", err, "serverID", server.ID)
		}

		return m.markTerminated(ctx, sub)

	default:
		// building/unknown: решение откладывается
		m.log.Debugw("Server power state inconclusive, skipping tick", "subscriptionID", sub.ID, "state", status.State)
		return nil
	}
}

// markTerminated переводит подписку в терминальный статус и шлет уведомление
func (m *StateMachine) markTerminated(ctx context.Context, sub domain.Subscription) error {
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusTerminated

	if err := m.subscriptionRepo.UpdateWithStatusCheck(ctx, sub, previous); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("lifecycle: failed to mark subscription terminated: %w", err)
	}
	m.metrics.IncTransition(string(previous), string(sub.Status))

	if err := m.dispatcher.Send(ctx, notify.KindTerminated, notify.Message{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
	}); err != nil {
		m.log.Warnw("Failed to send termination notification", "error", err, "subscriptionID", sub.ID)
	}

	m.log.Infow("Subscription terminated", "subscriptionID", sub.ID, "previousStatus", previous)
	return nil
}

// stopServerIfRunning останавливает сервер, если он по живым данным запущен
func (m *StateMachine) stopServerIfRunning(ctx context.Context, sub domain.Subscription) {
	server, err := m.serverRepo.GetByID(ctx, sub.ServerID)
	if err != nil {
		m.log.Warnw("Failed to load server record for stop", "error", err, "subscriptionID", sub.ID)
		return
	}

	status, err := m.controller.GetPowerState(ctx, server.ProviderID)
	if err != nil {
		m.log.Warnw("Failed to query power state before stop", "error", err, "providerID", server.ProviderID)
		return
	}
	if status.State != domain.PowerStateStarted {
		return
	}

	if err := m.controller.Stop(ctx, server.ProviderID); err != nil {
		m.log.Warnw("Failed to stop server", "error", err, "providerID", server.ProviderID)
	}
}

// startServer запускает сервер после реактивации
func (m *StateMachine) startServer(ctx context.Context, sub domain.Subscription) {
	server, err := m.serverRepo.GetByID(ctx, sub.ServerID)
	if err != nil {
		m.log.Warnw("Failed to load server record for start", "error", err, "subscriptionID", sub.ID)
		return
	}

	if err := m.controller.Start(ctx, server.ProviderID); err != nil {
		m.log.Warnw("Failed to start server after reinstatement", "error", err, "providerID", server.ProviderID)
	}
}
