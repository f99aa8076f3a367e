package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/compute"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// SubscriptionService интерфейс сервиса для работы с подписками
type SubscriptionService interface {
	Create(ctx context.Context, req domain.SubscriptionRequest) (domain.Subscription, error)
	GetByID(ctx context.Context, id string) (domain.Subscription, error)

	// GetForAccount возвращает подписки аккаунта вместе с живым снимком
	// состояния питания каждого сервера
	GetForAccount(ctx context.Context, accountID string) ([]domain.SubscriptionView, error)

	// Update частичное административное обновление подписки
	Update(ctx context.Context, id string, patch domain.SubscriptionPatch) (domain.Subscription, error)
}

type subscriptionService struct {
	subscriptionRepo repository.SubscriptionRepository
	serverRepo       repository.ServerRepository
	planRepo         repository.PlanRepository
	controller       compute.ResourceController
	log              *logger.Logger

	now func() time.Time
}

// NewSubscriptionService создает новый сервис для работы с подписками
func NewSubscriptionService(
	subscriptionRepo repository.SubscriptionRepository,
	serverRepo repository.ServerRepository,
	planRepo repository.PlanRepository,
	controller compute.ResourceController,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionService{
		subscriptionRepo: subscriptionRepo,
		serverRepo:       serverRepo,
		planRepo:         planRepo,
		controller:       controller,
		log:              log,
		now:              time.Now,
	}
}

// Create создает запись о сервере и подписку на него
func (s *subscriptionService) Create(ctx context.Context, req domain.SubscriptionRequest) (domain.Subscription, error) {
	s.log.Debug("Creating subscription for account: %s, plan: %s", req.AccountID, req.PlanID)

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		s.log.Warn("Invalid UUID format for account ID: %s", req.AccountID)
		return domain.Subscription{}, repository.ErrInvalidData
	}

	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		s.log.Warn("Invalid UUID format for plan ID: %s", req.PlanID)
		return domain.Subscription{}, repository.ErrInvalidData
	}

	// Без идентификатора ресурса провайдера сервером невозможно управлять
	if req.ProviderID == "" {
		s.log.Warn("Missing provider ID for account: %s", req.AccountID)
		return domain.Subscription{}, repository.ErrInvalidData
	}

	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Plan not found: %s", req.PlanID)
		} else {
			s.log.Error("Error fetching plan: %v", err)
		}
		return domain.Subscription{}, err
	}

	// Проверка активности плана
	if !plan.Active {
		s.log.Warn("Plan is not active: %s", req.PlanID)
		return domain.Subscription{}, domain.ErrInvalidOperation
	}

	now := s.now()

	server, err := s.serverRepo.Create(ctx, domain.Server{
		ID:         uuid.New(),
		AccountID:  accountID,
		ProviderID: req.ProviderID,
		Hostname:   req.Hostname,
		Status:     domain.ServerStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		s.log.Error("Failed to create server record: %v", err)
		return domain.Subscription{}, err
	}

	// Первичный срок считается тем же калькулятором, что и при продлении
	subscriptionEnd, err := billing.NextEnd(plan.CycleType, now)
	if err != nil {
		s.log.Error("Failed to compute initial period end: %v", err)
		return domain.Subscription{}, err
	}

	subscription, err := s.subscriptionRepo.Create(ctx, domain.Subscription{
		ID:              uuid.New(),
		AccountID:       accountID,
		ServerID:        server.ID,
		PlanID:          plan.ID,
		CycleType:       plan.CycleType,
		Price:           plan.Price(),
		AutoRenewable:   req.AutoRenewable,
		Status:          domain.SubscriptionStatusActive,
		SubscriptionEnd: subscriptionEnd,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		s.log.Error("Failed to create subscription: %v", err)
		return domain.Subscription{}, err
	}

	s.log.Info("Created subscription with ID: %s", subscription.ID)
	return subscription, nil
}

// GetByID возвращает подписку по ID
func (s *subscriptionService) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	s.log.Debug("Getting subscription by ID: %s", id)

	uuidID, err := uuid.Parse(id)
	if err != nil {
		s.log.Warn("Invalid UUID format: %s", id)
		return domain.Subscription{}, repository.ErrInvalidData
	}

	subscription, err := s.subscriptionRepo.GetByID(ctx, uuidID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Subscription not found: %s", id)
		} else {
			s.log.Error("Error fetching subscription: %v", err)
		}
		return domain.Subscription{}, err
	}

	return subscription, nil
}

// GetForAccount возвращает подписки аккаунта с живым снимком состояния серверов
func (s *subscriptionService) GetForAccount(ctx context.Context, accountID string) ([]domain.SubscriptionView, error) {
	s.log.Debug("Getting subscriptions for account: %s", accountID)

	uuidAccountID, err := uuid.Parse(accountID)
	if err != nil {
		s.log.Warn("Invalid UUID format for account ID: %s", accountID)
		return nil, repository.ErrInvalidData
	}

	subscriptions, err := s.subscriptionRepo.GetByAccountID(ctx, uuidAccountID)
	if err != nil {
		s.log.Error("Failed to get subscriptions for account: %v", err)
		return nil, err
	}

	views := make([]domain.SubscriptionView, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		view := domain.SubscriptionView{
			Subscription: subscription,
			PowerState:   string(domain.PowerStateUnknown),
		}

		server, err := s.serverRepo.GetByID(ctx, subscription.ServerID)
		if err == nil && server.Status != domain.ServerStatusDeleted {
			// Недоступность провайдера деградирует до unknown, списка не ломает
			status, err := s.controller.GetPowerState(ctx, server.ProviderID)
			if err != nil {
				s.log.Warnw("Failed to query live power state", "error", err, "serverID", server.ID)
			} else {
				view.PowerState = string(status.State)
			}
		}

		views = append(views, view)
	}

	return views, nil
}

// Update частично обновляет подписку (административная операция)
func (s *subscriptionService) Update(ctx context.Context, id string, patch domain.SubscriptionPatch) (domain.Subscription, error) {
	s.log.Debug("Updating subscription with ID: %s", id)

	uuidID, err := uuid.Parse(id)
	if err != nil {
		s.log.Warn("Invalid UUID format: %s", id)
		return domain.Subscription{}, repository.ErrInvalidData
	}

	subscription, err := s.subscriptionRepo.GetByID(ctx, uuidID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Subscription not found: %s", id)
		} else {
			s.log.Error("Error fetching subscription: %v", err)
		}
		return domain.Subscription{}, err
	}

	if subscription.Status.IsFinal() {
		s.log.Warn("Cannot update subscription in final status: %s, status: %s", id, subscription.Status)
		return domain.Subscription{}, domain.ErrInvalidOperation
	}

	if patch.AutoRenewable != nil {
		subscription.AutoRenewable = *patch.AutoRenewable
	}
	if patch.Status != nil {
		subscription.Status = domain.SubscriptionStatus(*patch.Status)
	}
	subscription.UpdatedAt = s.now()

	if err := s.subscriptionRepo.Update(ctx, subscription); err != nil {
		s.log.Error("Failed to update subscription: %v", err)
		return domain.Subscription{}, err
	}

	s.log.Info("Updated subscription with ID: %s", id)
	return subscription, nil
}
