package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// MethodWallet метод оплаты для записей журнала
const MethodWallet = "wallet"

// WalletService интерфейс журнала кошелька: атомарные списания и зачисления
// с компенсирующим откатом
type WalletService interface {
	// GetBalance возвращает баланс аккаунта в валюте; ноль, если кошелька или
	// валюты нет
	GetBalance(ctx context.Context, accountID uuid.UUID, currency string) (decimal.Decimal, error)

	// EnsureWallet возвращает кошелек аккаунта, создавая его при отсутствии
	EnsureWallet(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error)

	// Debit атомарно списывает сумму и добавляет запись в журнал.
	// Возвращает domain.ErrInsufficientFunds без какой-либо мутации, если
	// средств не хватает.
	Debit(ctx context.Context, accountID uuid.UUID, amount domain.Money, subscriptionID uuid.UUID, reference string) (domain.Transaction, error)

	// Credit атомарно зачисляет сумму и добавляет запись в журнал
	Credit(ctx context.Context, accountID uuid.UUID, amount domain.Money, subscriptionID uuid.UUID, reference string) (domain.Transaction, error)

	// Rollback возвращает списанную сумму на баланс и удаляет ровно одну
	// запись журнала. Используется только когда шаги продления после
	// успешного списания завершились неудачей.
	Rollback(ctx context.Context, transaction domain.Transaction) error
}

type walletService struct {
	walletRepo repository.WalletRepository
	txRepo     repository.TransactionRepository
	metrics    metrics.BillingMetrics
	log        *logger.Logger
}

// NewWalletService создает новый сервис кошелька
func NewWalletService(
	walletRepo repository.WalletRepository,
	txRepo repository.TransactionRepository,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) WalletService {
	return &walletService{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		metrics:    billingMetrics,
		log:        log,
	}
}

// GetBalance возвращает баланс аккаунта в валюте
func (s *walletService) GetBalance(ctx context.Context, accountID uuid.UUID, currency string) (decimal.Decimal, error) {
	wallet, err := s.walletRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, nil
		}
		s.log.Errorw("Failed to load wallet for balance check", "error", err, "accountID", accountID)
		return decimal.Zero, err
	}

	return wallet.Balance.Get(currency), nil
}

// EnsureWallet возвращает кошелек аккаунта, создавая его при отсутствии
func (s *walletService) EnsureWallet(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByAccountID(ctx, accountID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Wallet{}, err
	}

	now := time.Now()
	created, err := s.walletRepo.Create(ctx, domain.Wallet{
		ID:        uuid.New(),
		AccountID: accountID,
		Balance:   make(domain.Balance),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.log.Errorw("Failed to create wallet", "error", err, "accountID", accountID)
		return domain.Wallet{}, err
	}

	s.log.Infow("Created wallet for account", "walletID", created.ID, "accountID", accountID)
	return created, nil
}

// Debit списывает сумму с кошелька аккаунта
func (s *walletService) Debit(ctx context.Context, accountID uuid.UUID, amount domain.Money, subscriptionID uuid.UUID, reference string) (domain.Transaction, error) {
	if amount.Amount.IsNegative() {
		return domain.Transaction{}, domain.ErrInvalidInput
	}

	wallet, err := s.walletRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Нет кошелька - нет средств
			s.log.Warnw("Debit refused, account has no wallet", "accountID", accountID)
			return domain.Transaction{}, domain.ErrInsufficientFunds
		}
		return domain.Transaction{}, err
	}

	// Условное обновление баланса отклоняет уход в минус до любой мутации
	if err := s.walletRepo.AdjustBalance(ctx, wallet.ID, amount.Currency, amount.Amount.Neg()); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			s.log.Warnw("Debit refused, insufficient funds", "accountID", accountID, "amount", amount.Amount, "currency", amount.Currency)
			return domain.Transaction{}, domain.ErrInsufficientFunds
		}
		s.log.Errorw("Failed to adjust wallet balance for debit", "error", err, "walletID", wallet.ID)
		return domain.Transaction{}, err
	}

	transaction, err := s.txRepo.Create(ctx, domain.Transaction{
		ID:             uuid.New(),
		AccountID:      accountID,
		WalletID:       wallet.ID,
		Amount:         amount.Amount,
		Currency:       amount.Currency,
		Direction:      domain.TransactionDirectionDebit,
		Method:         MethodWallet,
		Reference:      reference,
		Status:         domain.TransactionStatusCompleted,
		SubscriptionID: subscriptionID,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		// Деньги не должны пропадать без записи: компенсируем списание
		s.log.Errorw("Failed to record debit transaction, compensating", "error", err, "walletID", wallet.ID, "reference", reference)
		if compErr := s.walletRepo.AdjustBalance(ctx, wallet.ID, amount.Currency, amount.Amount); compErr != nil {
			s.log.Errorw("CRITICAL: failed to compensate debit after transaction log failure", "error", compErr, "walletID", wallet.ID, "amount", amount.Amount, "currency", amount.Currency)
		}
		return domain.Transaction{}, fmt.Errorf("wallet: failed to record debit: %w", err)
	}

	s.metrics.IncDebit(amount.Currency)
	amountFloat, _ := amount.Amount.Float64()
	s.metrics.ObserveDebitAmount(amountFloat, amount.Currency)

	s.log.Infow("Wallet debited", "accountID", accountID, "amount", amount.Amount, "currency", amount.Currency, "reference", reference)
	return transaction, nil
}

// Credit зачисляет сумму на кошелек аккаунта
func (s *walletService) Credit(ctx context.Context, accountID uuid.UUID, amount domain.Money, subscriptionID uuid.UUID, reference string) (domain.Transaction, error) {
	if amount.Amount.IsNegative() {
		return domain.Transaction{}, domain.ErrInvalidInput
	}

	wallet, err := s.EnsureWallet(ctx, accountID)
	if err != nil {
		return domain.Transaction{}, err
	}

	if err := s.walletRepo.AdjustBalance(ctx, wallet.ID, amount.Currency, amount.Amount); err != nil {
		s.log.Errorw("Failed to adjust wallet balance for credit", "error", err, "walletID", wallet.ID)
		return domain.Transaction{}, err
	}

	transaction, err := s.txRepo.Create(ctx, domain.Transaction{
		ID:             uuid.New(),
		AccountID:      accountID,
		WalletID:       wallet.ID,
		Amount:         amount.Amount,
		Currency:       amount.Currency,
		Direction:      domain.TransactionDirectionCredit,
		Method:         MethodWallet,
		Reference:      reference,
		Status:         domain.TransactionStatusCompleted,
		SubscriptionID: subscriptionID,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		s.log.Errorw("Failed to record credit transaction, compensating", "error", err, "walletID", wallet.ID, "reference", reference)
		if compErr := s.walletRepo.AdjustBalance(ctx, wallet.ID, amount.Currency, amount.Amount.Neg()); compErr != nil {
			s.log.Errorw("CRITICAL: failed to compensate credit after transaction log failure", "error", compErr, "walletID", wallet.ID)
		}
		return domain.Transaction{}, fmt.Errorf("wallet: failed to record credit: %w", err)
	}

	s.log.Infow("Wallet credited", "accountID", accountID, "amount", amount.Amount, "currency", amount.Currency, "reference", reference)
	return transaction, nil
}

// Rollback компенсирующий откат списания
func (s *walletService) Rollback(ctx context.Context, transaction domain.Transaction) error {
	if transaction.Direction != domain.TransactionDirectionDebit {
		return domain.ErrInvalidOperation
	}

	if err := s.walletRepo.AdjustBalance(ctx, transaction.WalletID, transaction.Currency, transaction.Amount); err != nil {
		s.log.Errorw("Failed to restore balance during rollback", "error", err, "transactionID", transaction.ID)
		return fmt.Errorf("wallet: failed to restore balance: %w", err)
	}

	if err := s.txRepo.Delete(ctx, transaction.ID); err != nil {
		s.log.Errorw("Failed to delete transaction during rollback", "error", err, "transactionID", transaction.ID)
		return fmt.Errorf("wallet: failed to delete transaction: %w", err)
	}

	s.metrics.IncRollback(transaction.Currency)
	s.log.Infow("Debit rolled back", "transactionID", transaction.ID, "amount", transaction.Amount, "currency", transaction.Currency)
	return nil
}
