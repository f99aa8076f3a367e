package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Money денежная величина в конкретной валюте
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney создает денежную величину
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// IsZero проверяет, является ли сумма нулевой
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Add возвращает сумму двух величин одной валюты
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Balance баланс кошелька: код валюты -> сумма.
// Инвариант: сумма по любой валюте никогда не опускается ниже нуля.
type Balance map[string]decimal.Decimal

// Get возвращает сумму по валюте, ноль если валюты нет
func (b Balance) Get(currency string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	amount, ok := b[currency]
	if !ok {
		return decimal.Zero
	}
	return amount
}

// Wallet предоплаченный кошелек аккаунта
type Wallet struct {
	ID        uuid.UUID `json:"id" db:"id"`
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	Balance   Balance   `json:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionDirection направление движения средств
type TransactionDirection string

const (
	TransactionDirectionDebit  TransactionDirection = "debit"
	TransactionDirectionCredit TransactionDirection = "credit"
)

// TransactionStatus статус записи в журнале
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// Transaction неизменяемая запись журнала кошелька.
// Удаляется только компенсирующим откатом неудавшегося продления.
type Transaction struct {
	ID             uuid.UUID            `json:"id" db:"id"`
	AccountID      uuid.UUID            `json:"account_id" db:"account_id"`
	WalletID       uuid.UUID            `json:"wallet_id" db:"wallet_id"`
	Amount         decimal.Decimal      `json:"amount" db:"amount"`
	Currency       string               `json:"currency" db:"currency"`
	Direction      TransactionDirection `json:"direction" db:"direction"`
	Method         string               `json:"method" db:"method"`
	Reference      string               `json:"reference" db:"reference"`
	Status         TransactionStatus    `json:"status" db:"status"`
	SubscriptionID uuid.UUID            `json:"subscription_id" db:"subscription_id"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
}
