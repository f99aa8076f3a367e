package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CachedSubscriptionRepository оборачивает базовый репозиторий подписок
// read-through кешем в Redis. Ошибки кеша никогда не влияют на результат:
// кеш деградирует до прямого обращения к базовому репозиторию.
type CachedSubscriptionRepository struct {
	base  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает кеширующий репозиторий подписок
func NewCachedSubscriptionRepository(base SubscriptionRepository, cache *RedisCacheRepository, log *logger.Logger) *CachedSubscriptionRepository {
	return &CachedSubscriptionRepository{
		base:  base,
		cache: cache,
		log:   log,
	}
}

// Create создает подписку и кладет ее в кеш
func (r *CachedSubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	created, err := r.base.Create(ctx, subscription)
	if err != nil {
		return domain.Subscription{}, err
	}

	if err := r.cache.CacheSubscription(ctx, created); err != nil {
		r.log.Warnw("Failed to cache created subscription", "error", err, "subscriptionID", created.ID)
	}
	return created, nil
}

// GetByID возвращает подписку из кеша либо из базового репозитория
func (r *CachedSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	cached, err := r.cache.GetCachedSubscription(ctx, id.String())
	if err == nil && cached != nil {
		return *cached, nil
	}

	subscription, err := r.base.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if err := r.cache.CacheSubscription(ctx, subscription); err != nil {
		r.log.Warnw("Failed to cache subscription after read", "error", err, "subscriptionID", id)
	}
	return subscription, nil
}

// GetByAccountID проксирует выборку по аккаунту без кеширования
func (r *CachedSubscriptionRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error) {
	return r.base.GetByAccountID(ctx, accountID)
}

// Update обновляет подписку и инвалидирует кеш
func (r *CachedSubscriptionRepository) Update(ctx context.Context, subscription domain.Subscription) error {
	if err := r.base.Update(ctx, subscription); err != nil {
		return err
	}

	if err := r.cache.InvalidateSubscription(ctx, subscription.ID.String()); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache after update", "error", err, "subscriptionID", subscription.ID)
	}
	return nil
}

// UpdateWithStatusCheck обновляет подписку с проверкой статуса и инвалидирует кеш
func (r *CachedSubscriptionRepository) UpdateWithStatusCheck(ctx context.Context, subscription domain.Subscription, expected domain.SubscriptionStatus) error {
	if err := r.base.UpdateWithStatusCheck(ctx, subscription, expected); err != nil {
		return err
	}

	if err := r.cache.InvalidateSubscription(ctx, subscription.ID.String()); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache after update", "error", err, "subscriptionID", subscription.ID)
	}
	return nil
}

// FindDue выборка цикла сверки всегда идет мимо кеша: решения о деньгах
// принимаются только по актуальному состоянию
func (r *CachedSubscriptionRepository) FindDue(ctx context.Context, cutoff time.Time, statuses []domain.SubscriptionStatus) ([]domain.Subscription, error) {
	return r.base.FindDue(ctx, cutoff, statuses)
}

// FindByStatus проксирует выборку по статусу без кеширования
func (r *CachedSubscriptionRepository) FindByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error) {
	return r.base.FindByStatus(ctx, status)
}
