package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

const (
	// Префиксы ключей для различных типов данных
	subscriptionKeyPrefix = "subscription:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование для репозиториев с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheSubscription кеширует подписку в Redis
func (r *RedisCacheRepository) CacheSubscription(ctx context.Context, sub domain.Subscription) error {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, sub.ID)

	data, err := json.Marshal(sub)
	if err != nil {
		r.log.Errorw("Failed to marshal subscription for caching", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription in Redis", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("failed to cache subscription: %w", err)
	}

	r.log.Debugw("Subscription cached successfully", "subscriptionID", sub.ID)
	return nil
}

// GetCachedSubscription получает подписку из кеша; (nil, nil) при промахе
func (r *RedisCacheRepository) GetCachedSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, id)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Ключ не найден в кеше
			r.log.Debugw("Subscription not found in cache", "subscriptionID", id)
			return nil, nil
		}
		r.log.Errorw("Error getting subscription from Redis", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("failed to get subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscription", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	return &sub, nil
}

// InvalidateSubscription удаляет подписку из кеша
func (r *RedisCacheRepository) InvalidateSubscription(ctx context.Context, id string) error {
	key := fmt.Sprintf("%s%s", subscriptionKeyPrefix, id)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to invalidate cached subscription", "error", err, "subscriptionID", id)
		return fmt.Errorf("failed to invalidate cached subscription: %w", err)
	}

	r.log.Debugw("Subscription cache invalidated", "subscriptionID", id)
	return nil
}
