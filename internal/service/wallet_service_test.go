package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)
	return log
}

func newWalletFixture(t *testing.T) (WalletService, *repository.InMemoryWalletRepository, *repository.InMemoryTransactionRepository) {
	t.Helper()
	log := testLogger()
	wallets := repository.NewInMemoryWalletRepository(log)
	transactions := repository.NewInMemoryTransactionRepository(log)
	return NewWalletService(wallets, transactions, metrics.NopMetrics(), log), wallets, transactions
}

func usd(amount int64) domain.Money {
	return domain.NewMoney(decimal.NewFromInt(amount), "USD")
}

func TestWalletService_CreditThenDebit(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Credit(ctx, accountID, usd(100), uuid.Nil, "topup-1")
	require.NoError(t, err)

	tx, err := svc.Debit(ctx, accountID, usd(30), uuid.New(), "renewal-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionDirectionDebit, tx.Direction)
	assert.Equal(t, "renewal-1", tx.Reference)

	balance, err := svc.GetBalance(ctx, accountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(70)), "expected 70, got %s", balance)
}

func TestWalletService_DebitInsufficientFundsLeavesBalanceIntact(t *testing.T) {
	svc, _, transactions := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	subscriptionID := uuid.New()

	_, err := svc.Credit(ctx, accountID, usd(10), uuid.Nil, "topup-1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, accountID, usd(25), subscriptionID, "renewal-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balance, err := svc.GetBalance(ctx, accountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)), "refused debit must not touch the balance")

	// Отклоненное списание не оставляет следа в журнале
	recorded, err := transactions.GetBySubscriptionID(ctx, subscriptionID)
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestWalletService_DebitWithoutWallet(t *testing.T) {
	svc, _, _ := newWalletFixture(t)

	_, err := svc.Debit(context.Background(), uuid.New(), usd(5), uuid.New(), "renewal-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestWalletService_BalanceNeverGoesNegative(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Credit(ctx, accountID, usd(50), uuid.Nil, "topup-1")
	require.NoError(t, err)

	// Смесь проходящих и отклоняемых списаний
	amounts := []int64{20, 40, 15, 100, 15, 1}
	for i, amount := range amounts {
		_, _ = svc.Debit(ctx, accountID, usd(amount), uuid.New(), uuid.NewString())

		balance, err := svc.GetBalance(ctx, accountID, "USD")
		require.NoError(t, err)
		assert.False(t, balance.IsNegative(), "balance went negative after debit #%d: %s", i, balance)
	}

	balance, err := svc.GetBalance(ctx, accountID, "USD")
	require.NoError(t, err)
	// 50 - 20 - 15 - 15 = 0; списания 40, 100 и 1 отклонены
	assert.True(t, balance.IsZero(), "expected zero, got %s", balance)
}

func TestWalletService_CurrenciesAreIndependent(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Credit(ctx, accountID, usd(100), uuid.Nil, "topup-usd")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, accountID, domain.NewMoney(decimal.NewFromInt(30), "EUR"), uuid.Nil, "topup-eur")
	require.NoError(t, err)

	// Долларов много, но списание в евро ограничено балансом евро
	_, err = svc.Debit(ctx, accountID, domain.NewMoney(decimal.NewFromInt(50), "EUR"), uuid.New(), "renewal-eur")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	eur, err := svc.GetBalance(ctx, accountID, "EUR")
	require.NoError(t, err)
	assert.True(t, eur.Equal(decimal.NewFromInt(30)))
}

func TestWalletService_RollbackRestoresBalanceAndRemovesRecord(t *testing.T) {
	svc, _, transactions := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	subscriptionID := uuid.New()

	_, err := svc.Credit(ctx, accountID, usd(100), uuid.Nil, "topup-1")
	require.NoError(t, err)

	tx, err := svc.Debit(ctx, accountID, usd(40), subscriptionID, "renewal-1")
	require.NoError(t, err)

	require.NoError(t, svc.Rollback(ctx, tx))

	balance, err := svc.GetBalance(ctx, accountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "rollback must restore the exact amount")

	_, err = transactions.GetByID(ctx, tx.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound, "rollback removes exactly the rolled back record")
}

func TestWalletService_RollbackRefusesCredit(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	tx, err := svc.Credit(ctx, accountID, usd(10), uuid.Nil, "topup-1")
	require.NoError(t, err)

	err = svc.Rollback(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestWalletService_DuplicateReferenceRejected(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Credit(ctx, accountID, usd(100), uuid.Nil, "topup-1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, accountID, usd(10), uuid.New(), "renewal-dup")
	require.NoError(t, err)

	// Повтор той же ссылки отклоняется, а списание компенсируется
	_, err = svc.Debit(ctx, accountID, usd(10), uuid.New(), "renewal-dup")
	require.Error(t, err)

	balance, err := svc.GetBalance(ctx, accountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(90)), "only the first debit may stick, got %s", balance)
}

// failingTxRepo журнал, отказывающий в записи; для проверки компенсации
type failingTxRepo struct {
	repository.TransactionRepository
	err error
}

func (f *failingTxRepo) Create(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	return domain.Transaction{}, f.err
}

func TestWalletService_DebitCompensatedWhenJournalFails(t *testing.T) {
	log := testLogger()
	wallets := repository.NewInMemoryWalletRepository(log)
	transactions := &failingTxRepo{
		TransactionRepository: repository.NewInMemoryTransactionRepository(log),
		err:                   errors.New("journal down"),
	}
	svc := NewWalletService(wallets, transactions, metrics.NopMetrics(), log)

	ctx := context.Background()
	accountID := uuid.New()

	// Кошелек пополняем напрямую: Credit через failingTxRepo не пройдет
	wallet, err := wallets.Create(ctx, domain.Wallet{AccountID: accountID})
	require.NoError(t, err)
	require.NoError(t, wallets.AdjustBalance(ctx, wallet.ID, "USD", decimal.NewFromInt(100)))

	_, err = svc.Debit(ctx, accountID, usd(40), uuid.New(), "renewal-1")
	require.Error(t, err)

	balance, err := svc.GetBalance(ctx, accountID, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "unjournaled debit must be compensated, got %s", balance)
}

func TestWalletService_GetBalanceDefaultsToZero(t *testing.T) {
	svc, _, _ := newWalletFixture(t)

	balance, err := svc.GetBalance(context.Background(), uuid.New(), "USD")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestWalletService_EnsureWalletIdempotent(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	first, err := svc.EnsureWallet(ctx, accountID)
	require.NoError(t, err)
	second, err := svc.EnsureWallet(ctx, accountID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}
