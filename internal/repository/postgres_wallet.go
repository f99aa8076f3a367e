package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// postgresWalletRepo реализует WalletRepository для PostgreSQL.
// Балансы лежат в таблице wallet_balances (wallet_id, currency, amount) с
// CHECK (amount >= 0); условный UPDATE делает изменение баланса атомарным
// без блокировок на уровне приложения.
type postgresWalletRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresWalletRepository создает новый репозиторий кошельков для PostgreSQL.
func NewPostgresWalletRepository(db *sqlx.DB, log *logger.Logger) WalletRepository {
	return &postgresWalletRepo{
		db:  db,
		log: log,
	}
}

type walletRow struct {
	ID        uuid.UUID `db:"id"`
	AccountID uuid.UUID `db:"account_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type balanceRow struct {
	Currency string          `db:"currency"`
	Amount   decimal.Decimal `db:"amount"`
}

// Create сохраняет новый кошелек вместе с начальными балансами.
func (r *postgresWalletRepo) Create(ctx context.Context, wallet domain.Wallet) (domain.Wallet, error) {
	now := time.Now()
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	wallet.CreatedAt = now
	wallet.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wallets (id, account_id, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		wallet.ID, wallet.AccountID, wallet.CreatedAt, wallet.UpdatedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to create wallet in DB", "error", err, "accountID", wallet.AccountID)
		return domain.Wallet{}, fmt.Errorf("repository: failed to create wallet: %w", err)
	}

	for currency, amount := range wallet.Balance {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_balances (wallet_id, currency, amount) VALUES ($1, $2, $3)`,
			wallet.ID, currency, amount,
		)
		if err != nil {
			r.log.Errorw("Failed to create wallet balance in DB", "error", err, "walletID", wallet.ID, "currency", currency)
			return domain.Wallet{}, fmt.Errorf("repository: failed to create wallet balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Wallet{}, fmt.Errorf("repository: failed to commit wallet creation: %w", err)
	}

	r.log.Debugw("Successfully created wallet in DB", "walletID", wallet.ID, "accountID", wallet.AccountID)
	return wallet, nil
}

// GetByID возвращает кошелек по ID.
func (r *postgresWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Wallet, error) {
	var row walletRow
	err := r.db.GetContext(ctx, &row, `SELECT id, account_id, created_at, updated_at FROM wallets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Wallet{}, ErrNotFound
		}
		r.log.Errorw("Failed to get wallet by ID from DB", "error", err, "walletID", id)
		return domain.Wallet{}, fmt.Errorf("repository: failed to get wallet by ID: %w", err)
	}

	return r.loadBalances(ctx, row)
}

// GetByAccountID возвращает кошелек аккаунта.
func (r *postgresWalletRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (domain.Wallet, error) {
	var row walletRow
	err := r.db.GetContext(ctx, &row, `SELECT id, account_id, created_at, updated_at FROM wallets WHERE account_id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Warnw("Wallet not found for account", "accountID", accountID)
			return domain.Wallet{}, ErrNotFound
		}
		r.log.Errorw("Failed to get wallet by account ID from DB", "error", err, "accountID", accountID)
		return domain.Wallet{}, fmt.Errorf("repository: failed to get wallet by account ID: %w", err)
	}

	return r.loadBalances(ctx, row)
}

func (r *postgresWalletRepo) loadBalances(ctx context.Context, row walletRow) (domain.Wallet, error) {
	var balances []balanceRow
	err := r.db.SelectContext(ctx, &balances, `SELECT currency, amount FROM wallet_balances WHERE wallet_id = $1`, row.ID)
	if err != nil {
		r.log.Errorw("Failed to load wallet balances from DB", "error", err, "walletID", row.ID)
		return domain.Wallet{}, fmt.Errorf("repository: failed to load wallet balances: %w", err)
	}

	balance := make(domain.Balance, len(balances))
	for _, b := range balances {
		balance[b.Currency] = b.Amount
	}

	return domain.Wallet{
		ID:        row.ID,
		AccountID: row.AccountID,
		Balance:   balance,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// AdjustBalance атомарно изменяет баланс кошелька одной валюты. Условие
// amount + delta >= 0 проверяется самим запросом: списание, которое ушло бы
// в минус, не изменит ни одной строки.
func (r *postgresWalletRepo) AdjustBalance(ctx context.Context, walletID uuid.UUID, currency string, delta decimal.Decimal) error {
	// Пополнение создает строку валюты при ее отсутствии
	if delta.Sign() >= 0 {
		_, err := r.db.ExecContext(ctx, `
            INSERT INTO wallet_balances (wallet_id, currency, amount)
            VALUES ($1, $2, $3)
            ON CONFLICT (wallet_id, currency)
            DO UPDATE SET amount = wallet_balances.amount + EXCLUDED.amount`,
			walletID, currency, delta,
		)
		if err != nil {
			r.log.Errorw("Failed to credit wallet balance", "error", err, "walletID", walletID, "currency", currency)
			return fmt.Errorf("repository: failed to credit wallet balance: %w", err)
		}
		return nil
	}

	result, err := r.db.ExecContext(ctx, `
        UPDATE wallet_balances
        SET amount = amount + $3
        WHERE wallet_id = $1 AND currency = $2 AND amount + $3 >= 0`,
		walletID, currency, delta,
	)
	if err != nil {
		r.log.Errorw("Failed to debit wallet balance", "error", err, "walletID", walletID, "currency", currency)
		return fmt.Errorf("repository: failed to debit wallet balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warnw("Debit refused, balance would go negative", "walletID", walletID, "currency", currency, "delta", delta)
		return domain.ErrInsufficientFunds
	}

	return nil
}

// postgresTransactionRepo реализует TransactionRepository для PostgreSQL.
type postgresTransactionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresTransactionRepository создает новый журнал транзакций для PostgreSQL.
func NewPostgresTransactionRepository(db *sqlx.DB, log *logger.Logger) TransactionRepository {
	return &postgresTransactionRepo{
		db:  db,
		log: log,
	}
}

type transactionRow struct {
	ID             uuid.UUID       `db:"id"`
	AccountID      uuid.UUID       `db:"account_id"`
	WalletID       uuid.UUID       `db:"wallet_id"`
	Amount         decimal.Decimal `db:"amount"`
	Currency       string          `db:"currency"`
	Direction      string          `db:"direction"`
	Method         string          `db:"method"`
	Reference      string          `db:"reference"`
	Status         string          `db:"status"`
	SubscriptionID uuid.UUID       `db:"subscription_id"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (row transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:             row.ID,
		AccountID:      row.AccountID,
		WalletID:       row.WalletID,
		Amount:         row.Amount,
		Currency:       row.Currency,
		Direction:      domain.TransactionDirection(row.Direction),
		Method:         row.Method,
		Reference:      row.Reference,
		Status:         domain.TransactionStatus(row.Status),
		SubscriptionID: row.SubscriptionID,
		CreatedAt:      row.CreatedAt,
	}
}

// Create добавляет запись в журнал транзакций.
func (r *postgresTransactionRepo) Create(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO transactions (
            id, account_id, wallet_id, amount, currency, direction, method,
            reference, status, subscription_id, created_at
        ) VALUES (
            :id, :account_id, :wallet_id, :amount, :currency, :direction, :method,
            :reference, :status, :subscription_id, :created_at
        )`

	row := transactionRow{
		ID:             transaction.ID,
		AccountID:      transaction.AccountID,
		WalletID:       transaction.WalletID,
		Amount:         transaction.Amount,
		Currency:       transaction.Currency,
		Direction:      string(transaction.Direction),
		Method:         transaction.Method,
		Reference:      transaction.Reference,
		Status:         string(transaction.Status),
		SubscriptionID: transaction.SubscriptionID,
		CreatedAt:      transaction.CreatedAt,
	}

	_, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		r.log.Errorw("Failed to create transaction in DB", "error", err, "reference", transaction.Reference)
		return domain.Transaction{}, fmt.Errorf("repository: failed to create transaction: %w", err)
	}

	r.log.Debugw("Successfully created transaction in DB", "transactionID", transaction.ID, "reference", transaction.Reference)
	return transaction, nil
}

// GetByID возвращает запись журнала по ID.
func (r *postgresTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	var row transactionRow
	query := `
        SELECT id, account_id, wallet_id, amount, currency, direction, method,
               reference, status, subscription_id, created_at
        FROM transactions WHERE id = $1`

	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		r.log.Errorw("Failed to get transaction by ID from DB", "error", err, "transactionID", id)
		return domain.Transaction{}, fmt.Errorf("repository: failed to get transaction by ID: %w", err)
	}

	return row.toDomain(), nil
}

// GetBySubscriptionID возвращает записи журнала по подписке.
func (r *postgresTransactionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) ([]domain.Transaction, error) {
	var rows []transactionRow
	query := `
        SELECT id, account_id, wallet_id, amount, currency, direction, method,
               reference, status, subscription_id, created_at
        FROM transactions WHERE subscription_id = $1 ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &rows, query, subscriptionID)
	if err != nil {
		r.log.Errorw("Failed to get transactions by subscription ID", "error", err, "subscriptionID", subscriptionID)
		return nil, fmt.Errorf("repository: failed to get transactions by subscription ID: %w", err)
	}

	transactions := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, row.toDomain())
	}
	return transactions, nil
}

// Delete удаляет ровно одну запись журнала (компенсирующий откат).
func (r *postgresTransactionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		r.log.Errorw("Failed to delete transaction from DB", "error", err, "transactionID", id)
		return fmt.Errorf("repository: failed to delete transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	r.log.Debugw("Successfully deleted transaction from DB", "transactionID", id)
	return nil
}
