package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusPendingRenewal SubscriptionStatus = "pending_renewal"
	SubscriptionStatusGracePeriod    SubscriptionStatus = "grace_period"
	SubscriptionStatusSuspended      SubscriptionStatus = "suspended"
	SubscriptionStatusTerminated     SubscriptionStatus = "terminated"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
	SubscriptionStatusDeleted        SubscriptionStatus = "deleted"
)

// IsFinal проверяет, является ли статус терминальным (из него нет переходов)
func (s SubscriptionStatus) IsFinal() bool {
	switch s {
	case SubscriptionStatusTerminated, SubscriptionStatusExpired, SubscriptionStatusDeleted:
		return true
	}
	return false
}

// BillingCycle тип расчетного периода подписки
type BillingCycle string

const (
	BillingCycleHourly    BillingCycle = "hourly"
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleAnnually  BillingCycle = "annually"
)

// Subscription представляет собой подписку на арендованный вычислительный ресурс.
// Запись никогда не удаляется физически: терминальные статусы сохраняют ее
// как аудиторский след.
type Subscription struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	AccountID     uuid.UUID          `json:"account_id" db:"account_id"`
	ServerID      uuid.UUID          `json:"server_id" db:"server_id"`
	PlanID        uuid.UUID          `json:"plan_id" db:"plan_id"`
	CycleType     BillingCycle       `json:"cycle_type" db:"cycle_type"`
	Price         Money              `json:"price"`
	AutoRenewable bool               `json:"auto_renewable" db:"auto_renewable"`
	Status        SubscriptionStatus `json:"status" db:"status"`

	// SubscriptionEnd момент окончания оплаченного периода
	SubscriptionEnd time.Time `json:"subscription_end" db:"subscription_end"`

	// GraceEndDate устанавливается только в grace_period/suspended
	GraceEndDate *time.Time `json:"grace_end_date,omitempty" db:"grace_end_date"`

	// Одноразовые флаги напоминаний; сбрасываются при успешном продлении
	FirstReminderSent   bool       `json:"first_reminder_sent" db:"first_reminder_sent"`
	FirstReminderSentAt *time.Time `json:"first_reminder_sent_at,omitempty" db:"first_reminder_sent_at"`
	FinalReminderSent   bool       `json:"final_reminder_sent" db:"final_reminder_sent"`
	FinalReminderSentAt *time.Time `json:"final_reminder_sent_at,omitempty" db:"final_reminder_sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ClearReminders сбрасывает оба флага напоминаний после успешного продления
func (s *Subscription) ClearReminders() {
	s.FirstReminderSent = false
	s.FirstReminderSentAt = nil
	s.FinalReminderSent = false
	s.FinalReminderSentAt = nil
}

// SubscriptionRequest представляет запрос на создание подписки
type SubscriptionRequest struct {
	AccountID string `json:"account_id" binding:"required,uuid"`
	PlanID    string `json:"plan_id" binding:"required,uuid"`
	Hostname  string `json:"hostname" binding:"required"`

	// ProviderID идентификатор уже выделенного у провайдера ресурса; без него
	// жизненный цикл не сможет управлять питанием сервера
	ProviderID    string `json:"provider_id" binding:"required"`
	AutoRenewable bool   `json:"auto_renewable"`
}

// SubscriptionPatch представляет частичное административное обновление подписки
type SubscriptionPatch struct {
	AutoRenewable *bool   `json:"auto_renewable,omitempty"`
	Status        *string `json:"status,omitempty"`
}

// RenewResult структурированный результат попытки продления.
// Оркестратор продления никогда не возвращает ошибку наружу:
// вызывающий получает отчет, а не исключение.
type RenewResult struct {
	Success         bool       `json:"success"`
	Message         string     `json:"message"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
}

// SubscriptionView подписка вместе с живым снимком состояния ресурса
type SubscriptionView struct {
	Subscription Subscription `json:"subscription"`
	PowerState   string       `json:"power_state"`
}
