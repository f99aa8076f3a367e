package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// WalletRepository интерфейс репозитория для работы с кошельками
type WalletRepository interface {
	Create(ctx context.Context, wallet domain.Wallet) (domain.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Wallet, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error)

	// AdjustBalance атомарно изменяет баланс кошелька по одной валюте.
	// Изменение, которое опустило бы баланс ниже нуля, отклоняется с
	// domain.ErrInsufficientFunds без какой-либо мутации.
	AdjustBalance(ctx context.Context, walletID uuid.UUID, currency string, delta decimal.Decimal) error
}

// TransactionRepository интерфейс журнала транзакций кошелька
type TransactionRepository interface {
	Create(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) ([]domain.Transaction, error)

	// Delete удаляет ровно одну запись журнала; используется только
	// компенсирующим откатом неудавшегося продления
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryWalletRepository реализация репозитория кошельков в памяти
type InMemoryWalletRepository struct {
	wallets   map[uuid.UUID]domain.Wallet
	byAccount map[uuid.UUID]uuid.UUID
	mutex     sync.RWMutex
	log       *logger.Logger
}

// NewInMemoryWalletRepository создает новый репозиторий кошельков в памяти
func NewInMemoryWalletRepository(log *logger.Logger) *InMemoryWalletRepository {
	return &InMemoryWalletRepository{
		wallets:   make(map[uuid.UUID]domain.Wallet),
		byAccount: make(map[uuid.UUID]uuid.UUID),
		log:       log,
	}
}

// Create создает новый кошелек
func (r *InMemoryWalletRepository) Create(ctx context.Context, wallet domain.Wallet) (domain.Wallet, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	if wallet.Balance == nil {
		wallet.Balance = make(domain.Balance)
	}

	r.wallets[wallet.ID] = wallet
	r.byAccount[wallet.AccountID] = wallet.ID
	return wallet, nil
}

// GetByID возвращает кошелек по ID
func (r *InMemoryWalletRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Wallet, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	wallet, exists := r.wallets[id]
	if !exists {
		return domain.Wallet{}, ErrNotFound
	}
	return copyWallet(wallet), nil
}

// GetByAccountID возвращает кошелек аккаунта
func (r *InMemoryWalletRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	walletID, exists := r.byAccount[accountID]
	if !exists {
		return domain.Wallet{}, ErrNotFound
	}
	return copyWallet(r.wallets[walletID]), nil
}

// AdjustBalance атомарно изменяет баланс кошелька
func (r *InMemoryWalletRepository) AdjustBalance(ctx context.Context, walletID uuid.UUID, currency string, delta decimal.Decimal) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	wallet, exists := r.wallets[walletID]
	if !exists {
		return ErrNotFound
	}

	current := wallet.Balance.Get(currency)
	next := current.Add(delta)
	if next.IsNegative() {
		return domain.ErrInsufficientFunds
	}

	wallet.Balance[currency] = next
	wallet.UpdatedAt = time.Now()
	r.wallets[walletID] = wallet
	return nil
}

// copyWallet возвращает копию кошелька с независимой картой баланса, чтобы
// вызывающий не мог изменить хранимое состояние в обход AdjustBalance
func copyWallet(wallet domain.Wallet) domain.Wallet {
	balance := make(domain.Balance, len(wallet.Balance))
	for currency, amount := range wallet.Balance {
		balance[currency] = amount
	}
	wallet.Balance = balance
	return wallet
}

// InMemoryTransactionRepository реализация журнала транзакций в памяти
type InMemoryTransactionRepository struct {
	transactions map[uuid.UUID]domain.Transaction
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewInMemoryTransactionRepository создает новый журнал транзакций в памяти
func NewInMemoryTransactionRepository(log *logger.Logger) *InMemoryTransactionRepository {
	return &InMemoryTransactionRepository{
		transactions: make(map[uuid.UUID]domain.Transaction),
		log:          log,
	}
}

// Create добавляет запись в журнал
func (r *InMemoryTransactionRepository) Create(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.transactions {
		if existing.Reference == transaction.Reference {
			return domain.Transaction{}, ErrDuplicateReference
		}
	}

	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now()
	}

	r.transactions[transaction.ID] = transaction
	return transaction, nil
}

// GetByID возвращает запись журнала по ID
func (r *InMemoryTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	transaction, exists := r.transactions[id]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}
	return transaction, nil
}

// GetBySubscriptionID возвращает записи журнала по подписке
func (r *InMemoryTransactionRepository) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) ([]domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var transactions []domain.Transaction
	for _, transaction := range r.transactions {
		if transaction.SubscriptionID == subscriptionID {
			transactions = append(transactions, transaction)
		}
	}
	return transactions, nil
}

// Delete удаляет запись журнала
func (r *InMemoryTransactionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.transactions[id]; !exists {
		return ErrNotFound
	}
	delete(r.transactions, id)
	return nil
}
