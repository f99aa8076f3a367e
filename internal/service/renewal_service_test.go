package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/notify"
	"github.com/Dhoini/Billing-microservice/internal/repository"
)

type renewalFixture struct {
	subscriptions *repository.InMemorySubscriptionRepository
	plans         *repository.InMemoryPlanRepository
	wallet        WalletService
	dispatcher    *notify.FakeDispatcher
	service       RenewalService
}

func newRenewalFixture(t *testing.T) *renewalFixture {
	t.Helper()
	log := testLogger()

	subscriptions := repository.NewInMemorySubscriptionRepository(log)
	plans := repository.NewInMemoryPlanRepository(log)
	wallets := repository.NewInMemoryWalletRepository(log)
	transactions := repository.NewInMemoryTransactionRepository(log)
	wallet := NewWalletService(wallets, transactions, metrics.NopMetrics(), log)
	dispatcher := notify.NewFakeDispatcher()

	return &renewalFixture{
		subscriptions: subscriptions,
		plans:         plans,
		wallet:        wallet,
		dispatcher:    dispatcher,
		service:       NewRenewalService(subscriptions, plans, wallet, dispatcher, metrics.NopMetrics(), log),
	}
}

func (f *renewalFixture) seed(t *testing.T, status domain.SubscriptionStatus, cycle domain.BillingCycle, end time.Time, price int64) domain.Subscription {
	t.Helper()
	sub, err := f.subscriptions.Create(context.Background(), domain.Subscription{
		AccountID:       uuid.New(),
		ServerID:        uuid.New(),
		PlanID:          uuid.New(),
		CycleType:       cycle,
		Price:           usd(price),
		AutoRenewable:   true,
		Status:          status,
		SubscriptionEnd: end,
	})
	require.NoError(t, err)
	return sub
}

func (f *renewalFixture) fund(t *testing.T, accountID uuid.UUID, amount int64) {
	t.Helper()
	_, err := f.wallet.Credit(context.Background(), accountID, usd(amount), uuid.Nil, "topup-"+uuid.NewString())
	require.NoError(t, err)
}

func (f *renewalFixture) reload(t *testing.T, id uuid.UUID) domain.Subscription {
	t.Helper()
	sub, err := f.subscriptions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func TestRenewalService_LateRenewalExtendsFromNow(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	sub := f.seed(t, domain.SubscriptionStatusActive, domain.BillingCycleHourly, time.Now().Add(-2*time.Hour), 5)
	f.fund(t, sub.AccountID, 20)

	result := f.service.Renew(ctx, sub.ID, true)
	require.True(t, result.Success, result.Message)
	require.NotNil(t, result.SubscriptionEnd)

	// Опоздавшее продление не дарит пропущенные часы
	assert.WithinDuration(t, time.Now().Add(time.Hour), *result.SubscriptionEnd, 5*time.Second)
	assert.Equal(t, 1, f.dispatcher.CountByKind(notify.KindRenewalConfirmed))
}

func TestRenewalService_EarlyRenewalExtendsFromCurrentEnd(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	end := time.Now().Add(48 * time.Hour)
	sub := f.seed(t, domain.SubscriptionStatusActive, domain.BillingCycleMonthly, end, 40)
	f.fund(t, sub.AccountID, 100)

	result := f.service.Renew(ctx, sub.ID, true)
	require.True(t, result.Success, result.Message)

	// Досрочное продление наращивает оплаченный срок, а не сбрасывает его
	assert.WithinDuration(t, end.Add(28*24*time.Hour), *result.SubscriptionEnd, time.Second)
}

func TestRenewalService_InsufficientFundsChangesNothing(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	end := time.Now().Add(-time.Hour)
	sub := f.seed(t, domain.SubscriptionStatusPendingRenewal, domain.BillingCycleMonthly, end, 40)
	f.fund(t, sub.AccountID, 10)

	result := f.service.Renew(ctx, sub.ID, true)
	assert.False(t, result.Success)

	got := f.reload(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusPendingRenewal, got.Status)
	assert.WithinDuration(t, end, got.SubscriptionEnd, time.Second)

	balance, err := f.wallet.GetBalance(ctx, sub.AccountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))

	assert.Equal(t, 0, f.dispatcher.CountByKind(notify.KindRenewalConfirmed))
}

func TestRenewalService_RefusesTerminalStatuses(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	for _, status := range []domain.SubscriptionStatus{
		domain.SubscriptionStatusTerminated,
		domain.SubscriptionStatusDeleted,
	} {
		sub := f.seed(t, status, domain.BillingCycleHourly, time.Now().Add(-time.Hour), 5)
		f.fund(t, sub.AccountID, 100)

		result := f.service.Renew(ctx, sub.ID, true)
		assert.False(t, result.Success, "status %s must refuse renewal", status)

		balance, err := f.wallet.GetBalance(ctx, sub.AccountID, "USD")
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromInt(100)), "no money may move for %s", status)
	}
}

func TestRenewalService_UnknownSubscription(t *testing.T) {
	f := newRenewalFixture(t)

	result := f.service.Renew(context.Background(), uuid.New(), true)
	assert.False(t, result.Success)
}

func TestRenewalService_SuccessClearsRemindersAndGrace(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	end := time.Now().Add(-time.Hour)
	sub := f.seed(t, domain.SubscriptionStatusGracePeriod, domain.BillingCycleHourly, end, 5)
	graceEnd := end.Add(5 * 24 * time.Hour)
	sub.GraceEndDate = &graceEnd
	sentAt := time.Now().Add(-2 * time.Hour)
	sub.FirstReminderSent = true
	sub.FirstReminderSentAt = &sentAt
	require.NoError(t, f.subscriptions.Update(ctx, sub))

	f.fund(t, sub.AccountID, 20)

	result := f.service.Renew(ctx, sub.ID, true)
	require.True(t, result.Success, result.Message)

	got := f.reload(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.Nil(t, got.GraceEndDate)
	assert.False(t, got.FirstReminderSent)
	assert.Nil(t, got.FirstReminderSentAt)
}

func TestRenewalService_PriceFallsBackToPlan(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	plan, err := f.plans.Create(ctx, domain.Plan{
		Name:      "desk-monthly",
		CycleType: domain.BillingCycleMonthly,
		Amount:    decimal.NewFromInt(40),
		Currency:  "USD",
		Active:    true,
	})
	require.NoError(t, err)

	sub, err := f.subscriptions.Create(ctx, domain.Subscription{
		AccountID:       uuid.New(),
		ServerID:        uuid.New(),
		PlanID:          plan.ID,
		CycleType:       domain.BillingCycleMonthly,
		AutoRenewable:   true,
		Status:          domain.SubscriptionStatusActive,
		SubscriptionEnd: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	f.fund(t, sub.AccountID, 100)

	result := f.service.Renew(ctx, sub.ID, true)
	require.True(t, result.Success, result.Message)

	balance, err := f.wallet.GetBalance(ctx, sub.AccountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(60)), "plan price must be charged, got %s", balance)
}

// flakyUpdateRepo отказывает заданному числу условных обновлений, затем работает
type flakyUpdateRepo struct {
	*repository.InMemorySubscriptionRepository
	failures int
}

func (f *flakyUpdateRepo) UpdateWithStatusCheck(ctx context.Context, subscription domain.Subscription, expected domain.SubscriptionStatus) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("storage unavailable")
	}
	return f.InMemorySubscriptionRepository.UpdateWithStatusCheck(ctx, subscription, expected)
}

// staleReadRepo возвращает из GetByID устаревший снимок подписки, как будто
// конкурентный переход успел сменить статус между чтением и записью
type staleReadRepo struct {
	*repository.InMemorySubscriptionRepository
	staleStatus domain.SubscriptionStatus
}

func (s *staleReadRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	subscription, err := s.InMemorySubscriptionRepository.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	subscription.Status = s.staleStatus
	return subscription, nil
}

func TestRenewalService_PersistFailureRollsBackDebit(t *testing.T) {
	log := testLogger()

	base := repository.NewInMemorySubscriptionRepository(log)
	subscriptions := &flakyUpdateRepo{InMemorySubscriptionRepository: base, failures: 1}
	plans := repository.NewInMemoryPlanRepository(log)
	wallets := repository.NewInMemoryWalletRepository(log)
	transactions := repository.NewInMemoryTransactionRepository(log)
	wallet := NewWalletService(wallets, transactions, metrics.NopMetrics(), log)
	dispatcher := notify.NewFakeDispatcher()
	svc := NewRenewalService(subscriptions, plans, wallet, dispatcher, metrics.NopMetrics(), log)

	ctx := context.Background()
	sub, err := base.Create(ctx, domain.Subscription{
		AccountID:       uuid.New(),
		ServerID:        uuid.New(),
		PlanID:          uuid.New(),
		CycleType:       domain.BillingCycleHourly,
		Price:           usd(5),
		AutoRenewable:   true,
		Status:          domain.SubscriptionStatusExpired,
		SubscriptionEnd: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = wallet.Credit(ctx, sub.AccountID, usd(20), uuid.Nil, "topup-1")
	require.NoError(t, err)

	result := svc.Renew(ctx, sub.ID, true)
	assert.False(t, result.Success)

	// Списание откатилось и не оставило следа в журнале
	balance, err := wallet.GetBalance(ctx, sub.AccountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(20)), "debit must be rolled back, got %s", balance)

	recorded, err := transactions.GetBySubscriptionID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, recorded)

	// Истекший статус восстановлен, подписка не выглядит здоровее, чем была
	got, err := base.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)
	assert.Equal(t, 0, dispatcher.CountByKind(notify.KindRenewalConfirmed))
}

func TestRenewalService_WithoutWalletSkipsCharge(t *testing.T) {
	f := newRenewalFixture(t)
	ctx := context.Background()

	sub := f.seed(t, domain.SubscriptionStatusActive, domain.BillingCycleHourly, time.Now().Add(-time.Hour), 5)

	// Административное продление без списания
	result := f.service.Renew(ctx, sub.ID, false)
	require.True(t, result.Success, result.Message)

	balance, err := f.wallet.GetBalance(ctx, sub.AccountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestRenewalService_ConcurrentStatusChangeRollsBackDebit(t *testing.T) {
	log := testLogger()

	base := repository.NewInMemorySubscriptionRepository(log)
	subscriptions := &staleReadRepo{InMemorySubscriptionRepository: base, staleStatus: domain.SubscriptionStatusActive}
	plans := repository.NewInMemoryPlanRepository(log)
	wallets := repository.NewInMemoryWalletRepository(log)
	transactions := repository.NewInMemoryTransactionRepository(log)
	wallet := NewWalletService(wallets, transactions, metrics.NopMetrics(), log)
	dispatcher := notify.NewFakeDispatcher()
	svc := NewRenewalService(subscriptions, plans, wallet, dispatcher, metrics.NopMetrics(), log)

	ctx := context.Background()

	// Цикл сверки успел перевести подписку в grace_period, а ручное продление
	// еще держит снимок со статусом active
	sub, err := base.Create(ctx, domain.Subscription{
		AccountID:       uuid.New(),
		ServerID:        uuid.New(),
		PlanID:          uuid.New(),
		CycleType:       domain.BillingCycleHourly,
		Price:           usd(5),
		AutoRenewable:   true,
		Status:          domain.SubscriptionStatusGracePeriod,
		SubscriptionEnd: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = wallet.Credit(ctx, sub.AccountID, usd(20), uuid.Nil, "topup-1")
	require.NoError(t, err)

	result := svc.Renew(ctx, sub.ID, true)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "concurrently")

	// Конфликт не оставил ни второго списания, ни следа в журнале
	balance, err := wallet.GetBalance(ctx, sub.AccountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(20)), "debit must be rolled back, got %s", balance)

	recorded, err := transactions.GetBySubscriptionID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, recorded)

	// Состояние, записанное конкурентом, не перетерто
	got, err := base.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusGracePeriod, got.Status)
	assert.Equal(t, 0, dispatcher.CountByKind(notify.KindRenewalConfirmed))
}
