package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan представляет собой тарифный план аренды сервера
type Plan struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	CycleType BillingCycle    `json:"cycle_type" db:"cycle_type"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	Active    bool            `json:"active" db:"active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Price возвращает цену плана за один расчетный период
func (p Plan) Price() Money {
	return Money{Amount: p.Amount, Currency: p.Currency}
}

// PlanRequest представляет запрос на создание или обновление плана
type PlanRequest struct {
	Name      string `json:"name" binding:"required"`
	CycleType string `json:"cycle_type" binding:"required,oneof=hourly monthly quarterly annually"`
	Amount    string `json:"amount" binding:"required"`
	Currency  string `json:"currency" binding:"required,len=3"`
	Active    bool   `json:"active"`
}
