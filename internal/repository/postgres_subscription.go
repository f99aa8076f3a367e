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

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

// subscriptionRow строка таблицы subscriptions
type subscriptionRow struct {
	ID                  uuid.UUID       `db:"id"`
	AccountID           uuid.UUID       `db:"account_id"`
	ServerID            uuid.UUID       `db:"server_id"`
	PlanID              uuid.UUID       `db:"plan_id"`
	CycleType           string          `db:"cycle_type"`
	PriceAmount         decimal.Decimal `db:"price_amount"`
	PriceCurrency       string          `db:"price_currency"`
	AutoRenewable       bool            `db:"auto_renewable"`
	Status              string          `db:"status"`
	SubscriptionEnd     time.Time       `db:"subscription_end"`
	GraceEndDate        *time.Time      `db:"grace_end_date"`
	FirstReminderSent   bool            `db:"first_reminder_sent"`
	FirstReminderSentAt *time.Time      `db:"first_reminder_sent_at"`
	FinalReminderSent   bool            `db:"final_reminder_sent"`
	FinalReminderSentAt *time.Time      `db:"final_reminder_sent_at"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`

	// служебное поле для условного обновления, в таблице отсутствует
	ExpectedStatus string `db:"expected_status"`
}

const subscriptionColumns = `
        id, account_id, server_id, plan_id, cycle_type, price_amount, price_currency,
        auto_renewable, status, subscription_end, grace_end_date,
        first_reminder_sent, first_reminder_sent_at, final_reminder_sent, final_reminder_sent_at,
        created_at, updated_at`

func toSubscriptionRow(sub domain.Subscription) subscriptionRow {
	return subscriptionRow{
		ID:                  sub.ID,
		AccountID:           sub.AccountID,
		ServerID:            sub.ServerID,
		PlanID:              sub.PlanID,
		CycleType:           string(sub.CycleType),
		PriceAmount:         sub.Price.Amount,
		PriceCurrency:       sub.Price.Currency,
		AutoRenewable:       sub.AutoRenewable,
		Status:              string(sub.Status),
		SubscriptionEnd:     sub.SubscriptionEnd,
		GraceEndDate:        sub.GraceEndDate,
		FirstReminderSent:   sub.FirstReminderSent,
		FirstReminderSentAt: sub.FirstReminderSentAt,
		FinalReminderSent:   sub.FinalReminderSent,
		FinalReminderSentAt: sub.FinalReminderSentAt,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}

func (row subscriptionRow) toDomain() domain.Subscription {
	return domain.Subscription{
		ID:                  row.ID,
		AccountID:           row.AccountID,
		ServerID:            row.ServerID,
		PlanID:              row.PlanID,
		CycleType:           domain.BillingCycle(row.CycleType),
		Price:               domain.Money{Amount: row.PriceAmount, Currency: row.PriceCurrency},
		AutoRenewable:       row.AutoRenewable,
		Status:              domain.SubscriptionStatus(row.Status),
		SubscriptionEnd:     row.SubscriptionEnd,
		GraceEndDate:        row.GraceEndDate,
		FirstReminderSent:   row.FirstReminderSent,
		FirstReminderSentAt: row.FirstReminderSentAt,
		FinalReminderSent:   row.FinalReminderSent,
		FinalReminderSentAt: row.FinalReminderSentAt,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

// Create сохраняет новую подписку в базе данных.
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	now := time.Now()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
        INSERT INTO subscriptions (` + subscriptionColumns + `
        ) VALUES (
            :id, :account_id, :server_id, :plan_id, :cycle_type, :price_amount, :price_currency,
            :auto_renewable, :status, :subscription_end, :grace_end_date,
            :first_reminder_sent, :first_reminder_sent_at, :final_reminder_sent, :final_reminder_sent_at,
            :created_at, :updated_at
        )`

	_, err := r.db.NamedExecContext(ctx, query, toSubscriptionRow(sub))
	if err != nil {
		r.log.Errorw("Failed to create subscription in DB", "error", err, "subscriptionID", sub.ID)
		return domain.Subscription{}, fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "subscriptionID", sub.ID, "accountID", sub.AccountID)
	return sub, nil
}

// GetByID возвращает подписку по ее ID.
func (r *postgresSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	var row subscriptionRow
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Warnw("Subscription not found by ID", "subscriptionID", id)
			return domain.Subscription{}, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by ID from DB", "error", err, "subscriptionID", id)
		return domain.Subscription{}, fmt.Errorf("repository: failed to get subscription by ID: %w", err)
	}

	return row.toDomain(), nil
}

// GetByAccountID возвращает все подписки аккаунта.
func (r *postgresSubscriptionRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error) {
	var rows []subscriptionRow
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE account_id = $1 ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &rows, query, accountID)
	if err != nil {
		r.log.Errorw("Failed to get subscriptions by account ID from DB", "error", err, "accountID", accountID)
		return nil, fmt.Errorf("repository: failed to get subscriptions by account ID: %w", err)
	}

	subscriptions := make([]domain.Subscription, 0, len(rows))
	for _, row := range rows {
		subscriptions = append(subscriptions, row.toDomain())
	}
	return subscriptions, nil
}

// Update обновляет изменяемые поля подписки.
func (r *postgresSubscriptionRepo) Update(ctx context.Context, sub domain.Subscription) error {
	sub.UpdatedAt = time.Now()

	query := `
        UPDATE subscriptions SET
            status = :status,
            auto_renewable = :auto_renewable,
            subscription_end = :subscription_end,
            grace_end_date = :grace_end_date,
            first_reminder_sent = :first_reminder_sent,
            first_reminder_sent_at = :first_reminder_sent_at,
            final_reminder_sent = :final_reminder_sent,
            final_reminder_sent_at = :final_reminder_sent_at,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, toSubscriptionRow(sub))
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after update", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	r.log.Debugw("Successfully updated subscription in DB", "subscriptionID", sub.ID)
	return nil
}

// UpdateWithStatusCheck обновляет подписку только при совпадении текущего
// статуса в базе с ожидаемым. Несовпадение означает конкурентное изменение.
func (r *postgresSubscriptionRepo) UpdateWithStatusCheck(ctx context.Context, sub domain.Subscription, expected domain.SubscriptionStatus) error {
	sub.UpdatedAt = time.Now()

	row := toSubscriptionRow(sub)
	row.ExpectedStatus = string(expected)

	query := `
        UPDATE subscriptions SET
            status = :status,
            auto_renewable = :auto_renewable,
            subscription_end = :subscription_end,
            grace_end_date = :grace_end_date,
            first_reminder_sent = :first_reminder_sent,
            first_reminder_sent_at = :first_reminder_sent_at,
            final_reminder_sent = :final_reminder_sent,
            final_reminder_sent_at = :final_reminder_sent_at,
            updated_at = :updated_at
        WHERE id = :id AND status = :expected_status`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		r.log.Errorw("Failed to update subscription with status check", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after update", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warnw("Subscription status changed concurrently", "subscriptionID", sub.ID, "expected", expected)
		return ErrConflict
	}

	return nil
}

// FindDue возвращает подписки с истекшим оплаченным периодом в заданных статусах.
func (r *postgresSubscriptionRepo) FindDue(ctx context.Context, cutoff time.Time, statuses []domain.SubscriptionStatus) ([]domain.Subscription, error) {
	statusList := make([]string, 0, len(statuses))
	for _, status := range statuses {
		statusList = append(statusList, string(status))
	}

	query, args, err := sqlx.In(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_end < ? AND status IN (?) ORDER BY subscription_end ASC`,
		cutoff, statusList,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to build due query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []subscriptionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.log.Errorw("Failed to find due subscriptions", "error", err, "cutoff", cutoff)
		return nil, fmt.Errorf("repository: failed to find due subscriptions: %w", err)
	}

	subscriptions := make([]domain.Subscription, 0, len(rows))
	for _, row := range rows {
		subscriptions = append(subscriptions, row.toDomain())
	}

	r.log.Debugw("Found due subscriptions", "count", len(subscriptions), "cutoff", cutoff)
	return subscriptions, nil
}

// FindByStatus возвращает все подписки в заданном статусе.
func (r *postgresSubscriptionRepo) FindByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error) {
	var rows []subscriptionRow
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status = $1`

	err := r.db.SelectContext(ctx, &rows, query, string(status))
	if err != nil {
		r.log.Errorw("Failed to find subscriptions by status", "error", err, "status", status)
		return nil, fmt.Errorf("repository: failed to find subscriptions by status: %w", err)
	}

	subscriptions := make([]domain.Subscription, 0, len(rows))
	for _, row := range rows {
		subscriptions = append(subscriptions, row.toDomain())
	}
	return subscriptions, nil
}
