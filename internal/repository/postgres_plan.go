package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// postgresPlanRepo реализует PlanRepository для PostgreSQL.
type postgresPlanRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresPlanRepository создает новый репозиторий планов для PostgreSQL.
func NewPostgresPlanRepository(db *sqlx.DB, log *logger.Logger) PlanRepository {
	return &postgresPlanRepo{
		db:  db,
		log: log,
	}
}

const planColumns = `id, name, cycle_type, amount, currency, active, created_at, updated_at`

// GetAll возвращает все планы.
func (r *postgresPlanRepo) GetAll(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &plans, query)
	if err != nil {
		r.log.Errorw("Failed to get plans from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to get plans: %w", err)
	}
	return plans, nil
}

// GetByID возвращает план по ID.
func (r *postgresPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Plan, error) {
	var plan domain.Plan
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	err := r.db.GetContext(ctx, &plan, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Warnw("Plan not found by ID", "planID", id)
			return domain.Plan{}, ErrNotFound
		}
		r.log.Errorw("Failed to get plan by ID from DB", "error", err, "planID", id)
		return domain.Plan{}, fmt.Errorf("repository: failed to get plan by ID: %w", err)
	}
	return plan, nil
}

// Create сохраняет новый план.
func (r *postgresPlanRepo) Create(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	now := time.Now()
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	plan.CreatedAt = now
	plan.UpdatedAt = now

	query := `
        INSERT INTO plans (` + planColumns + `)
        VALUES (:id, :name, :cycle_type, :amount, :currency, :active, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, plan)
	if err != nil {
		r.log.Errorw("Failed to create plan in DB", "error", err, "name", plan.Name)
		return domain.Plan{}, fmt.Errorf("repository: failed to create plan: %w", err)
	}

	r.log.Debugw("Successfully created plan in DB", "planID", plan.ID, "name", plan.Name)
	return plan, nil
}

// Update обновляет существующий план.
func (r *postgresPlanRepo) Update(ctx context.Context, plan domain.Plan) error {
	plan.UpdatedAt = time.Now()

	query := `
        UPDATE plans SET
            name = :name,
            cycle_type = :cycle_type,
            amount = :amount,
            currency = :currency,
            active = :active,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, plan)
	if err != nil {
		r.log.Errorw("Failed to update plan in DB", "error", err, "planID", plan.ID)
		return fmt.Errorf("repository: failed to update plan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete удаляет план.
func (r *postgresPlanRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		r.log.Errorw("Failed to delete plan from DB", "error", err, "planID", id)
		return fmt.Errorf("repository: failed to delete plan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
