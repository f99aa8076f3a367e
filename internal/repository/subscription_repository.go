package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// SubscriptionRepository интерфейс репозитория для работы с подписками
type SubscriptionRepository interface {
	Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error)
	Update(ctx context.Context, subscription domain.Subscription) error

	// UpdateWithStatusCheck обновляет подписку только если ее текущий статус в
	// хранилище равен expected; иначе возвращает ErrConflict. Это условное
	// обновление сериализует конкурентные переходы по одной подписке.
	UpdateWithStatusCheck(ctx context.Context, subscription domain.Subscription, expected domain.SubscriptionStatus) error

	// FindDue возвращает подписки, чей оплаченный период истек до cutoff и чей
	// статус входит в statuses. Выборка цикла сверки.
	FindDue(ctx context.Context, cutoff time.Time, statuses []domain.SubscriptionStatus) ([]domain.Subscription, error)

	// FindByStatus возвращает все подписки в заданном статусе
	FindByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error)
}

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions map[uuid.UUID]domain.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		log:           log,
	}
}

// Create создает новую подписку
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	r.subscriptions[subscription.ID] = subscription

	return subscription, nil
}

// GetByID возвращает подписку по ID
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	subscription, exists := r.subscriptions[id]
	if !exists {
		return domain.Subscription{}, ErrNotFound
	}

	return subscription, nil
}

// GetByAccountID возвращает подписки аккаунта
func (r *InMemorySubscriptionRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subscriptions []domain.Subscription
	for _, subscription := range r.subscriptions {
		if subscription.AccountID == accountID {
			subscriptions = append(subscriptions, subscription)
		}
	}

	return subscriptions, nil
}

// Update обновляет существующую подписку
func (r *InMemorySubscriptionRepository) Update(ctx context.Context, subscription domain.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[subscription.ID]; !exists {
		return ErrNotFound
	}

	subscription.UpdatedAt = time.Now()
	r.subscriptions[subscription.ID] = subscription
	return nil
}

// UpdateWithStatusCheck обновляет подписку с оптимистической проверкой статуса
func (r *InMemorySubscriptionRepository) UpdateWithStatusCheck(ctx context.Context, subscription domain.Subscription, expected domain.SubscriptionStatus) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	current, exists := r.subscriptions[subscription.ID]
	if !exists {
		return ErrNotFound
	}
	if current.Status != expected {
		r.log.Warnw("Subscription status changed concurrently", "subscriptionID", subscription.ID, "expected", expected, "actual", current.Status)
		return ErrConflict
	}

	subscription.UpdatedAt = time.Now()
	r.subscriptions[subscription.ID] = subscription
	return nil
}

// FindDue возвращает подписки с истекшим оплаченным периодом
func (r *InMemorySubscriptionRepository) FindDue(ctx context.Context, cutoff time.Time, statuses []domain.SubscriptionStatus) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	allowed := make(map[domain.SubscriptionStatus]struct{}, len(statuses))
	for _, status := range statuses {
		allowed[status] = struct{}{}
	}

	var due []domain.Subscription
	for _, subscription := range r.subscriptions {
		if _, ok := allowed[subscription.Status]; !ok {
			continue
		}
		if subscription.SubscriptionEnd.Before(cutoff) {
			due = append(due, subscription)
		}
	}

	return due, nil
}

// FindByStatus возвращает все подписки в заданном статусе
func (r *InMemorySubscriptionRepository) FindByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subscriptions []domain.Subscription
	for _, subscription := range r.subscriptions {
		if subscription.Status == status {
			subscriptions = append(subscriptions, subscription)
		}
	}

	return subscriptions, nil
}
