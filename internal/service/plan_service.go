package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// PlanService интерфейс сервиса для управления тарифными планами
type PlanService interface {
	GetAll(ctx context.Context) ([]domain.Plan, error)
	GetByID(ctx context.Context, id string) (domain.Plan, error)
	Create(ctx context.Context, req domain.PlanRequest) (domain.Plan, error)
	Update(ctx context.Context, id string, req domain.PlanRequest) (domain.Plan, error)
	Delete(ctx context.Context, id string) error
}

type planService struct {
	planRepo repository.PlanRepository
	log      *logger.Logger
}

// NewPlanService создает новый сервис тарифных планов
func NewPlanService(planRepo repository.PlanRepository, log *logger.Logger) PlanService {
	return &planService{
		planRepo: planRepo,
		log:      log,
	}
}

// GetAll возвращает все планы
func (s *planService) GetAll(ctx context.Context) ([]domain.Plan, error) {
	s.log.Debug("Getting all plans")

	plans, err := s.planRepo.GetAll(ctx)
	if err != nil {
		s.log.Error("Failed to get plans: %v", err)
		return nil, err
	}

	return plans, nil
}

// GetByID возвращает план по ID
func (s *planService) GetByID(ctx context.Context, id string) (domain.Plan, error) {
	s.log.Debug("Getting plan by ID: %s", id)

	uuidID, err := uuid.Parse(id)
	if err != nil {
		s.log.Warn("Invalid UUID format: %s", id)
		return domain.Plan{}, repository.ErrInvalidData
	}

	plan, err := s.planRepo.GetByID(ctx, uuidID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Plan not found: %s", id)
		} else {
			s.log.Error("Error fetching plan: %v", err)
		}
		return domain.Plan{}, err
	}

	return plan, nil
}

// Create создает новый план
func (s *planService) Create(ctx context.Context, req domain.PlanRequest) (domain.Plan, error) {
	s.log.Debug("Creating plan: %s", req.Name)

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		s.log.Warn("Invalid plan amount: %s", req.Amount)
		return domain.Plan{}, repository.ErrInvalidData
	}

	now := time.Now()
	plan, err := s.planRepo.Create(ctx, domain.Plan{
		ID:        uuid.New(),
		Name:      req.Name,
		CycleType: domain.BillingCycle(req.CycleType),
		Amount:    amount,
		Currency:  req.Currency,
		Active:    req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.log.Error("Failed to create plan: %v", err)
		return domain.Plan{}, err
	}

	s.log.Info("Created plan with ID: %s", plan.ID)
	return plan, nil
}

// Update обновляет план
func (s *planService) Update(ctx context.Context, id string, req domain.PlanRequest) (domain.Plan, error) {
	s.log.Debug("Updating plan with ID: %s", id)

	uuidID, err := uuid.Parse(id)
	if err != nil {
		s.log.Warn("Invalid UUID format: %s", id)
		return domain.Plan{}, repository.ErrInvalidData
	}

	plan, err := s.planRepo.GetByID(ctx, uuidID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Plan not found: %s", id)
		} else {
			s.log.Error("Error fetching plan: %v", err)
		}
		return domain.Plan{}, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		s.log.Warn("Invalid plan amount: %s", req.Amount)
		return domain.Plan{}, repository.ErrInvalidData
	}

	plan.Name = req.Name
	plan.CycleType = domain.BillingCycle(req.CycleType)
	plan.Amount = amount
	plan.Currency = req.Currency
	plan.Active = req.Active
	plan.UpdatedAt = time.Now()

	if err := s.planRepo.Update(ctx, plan); err != nil {
		s.log.Error("Failed to update plan: %v", err)
		return domain.Plan{}, err
	}

	s.log.Info("Updated plan with ID: %s", id)
	return plan, nil
}

// Delete удаляет план
func (s *planService) Delete(ctx context.Context, id string) error {
	s.log.Debug("Deleting plan with ID: %s", id)

	uuidID, err := uuid.Parse(id)
	if err != nil {
		s.log.Warn("Invalid UUID format: %s", id)
		return repository.ErrInvalidData
	}

	if err := s.planRepo.Delete(ctx, uuidID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Plan not found: %s", id)
		} else {
			s.log.Error("Failed to delete plan: %v", err)
		}
		return err
	}

	s.log.Info("Deleted plan with ID: %s", id)
	return nil
}
