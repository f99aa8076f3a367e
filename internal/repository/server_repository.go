package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// ServerRepository интерфейс репозитория локальных записей о серверах
type ServerRepository interface {
	Create(ctx context.Context, server domain.Server) (domain.Server, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Server, error)
	Update(ctx context.Context, server domain.Server) error

	// MarkDeleted помечает запись удаленной после уничтожения ресурса у
	// провайдера; физического удаления не происходит
	MarkDeleted(ctx context.Context, id uuid.UUID) error
}

// InMemoryServerRepository реализация репозитория серверов в памяти
type InMemoryServerRepository struct {
	servers map[uuid.UUID]domain.Server
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewInMemoryServerRepository создает новый репозиторий серверов в памяти
func NewInMemoryServerRepository(log *logger.Logger) *InMemoryServerRepository {
	return &InMemoryServerRepository{
		servers: make(map[uuid.UUID]domain.Server),
		log:     log,
	}
}

// Create создает новую запись о сервере
func (r *InMemoryServerRepository) Create(ctx context.Context, server domain.Server) (domain.Server, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	r.servers[server.ID] = server
	return server, nil
}

// GetByID возвращает запись о сервере по ID
func (r *InMemoryServerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Server, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	server, exists := r.servers[id]
	if !exists {
		return domain.Server{}, ErrNotFound
	}
	return server, nil
}

// Update обновляет запись о сервере
func (r *InMemoryServerRepository) Update(ctx context.Context, server domain.Server) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.servers[server.ID]; !exists {
		return ErrNotFound
	}
	server.UpdatedAt = time.Now()
	r.servers[server.ID] = server
	return nil
}

// MarkDeleted помечает запись о сервере удаленной
func (r *InMemoryServerRepository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	server, exists := r.servers[id]
	if !exists {
		return ErrNotFound
	}
	server.Status = domain.ServerStatusDeleted
	server.UpdatedAt = time.Now()
	r.servers[id] = server
	return nil
}
