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

// postgresServerRepo реализует ServerRepository для PostgreSQL.
type postgresServerRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresServerRepository создает новый репозиторий серверов для PostgreSQL.
func NewPostgresServerRepository(db *sqlx.DB, log *logger.Logger) ServerRepository {
	return &postgresServerRepo{
		db:  db,
		log: log,
	}
}

const serverColumns = `id, account_id, provider_id, hostname, status, created_at, updated_at`

// Create сохраняет новую запись о сервере.
func (r *postgresServerRepo) Create(ctx context.Context, server domain.Server) (domain.Server, error) {
	now := time.Now()
	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	server.CreatedAt = now
	server.UpdatedAt = now

	query := `
        INSERT INTO servers (` + serverColumns + `)
        VALUES (:id, :account_id, :provider_id, :hostname, :status, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, server)
	if err != nil {
		r.log.Errorw("Failed to create server in DB", "error", err, "hostname", server.Hostname)
		return domain.Server{}, fmt.Errorf("repository: failed to create server: %w", err)
	}

	r.log.Debugw("Successfully created server in DB", "serverID", server.ID, "providerID", server.ProviderID)
	return server, nil
}

// GetByID возвращает запись о сервере по ID.
func (r *postgresServerRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Server, error) {
	var server domain.Server
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`

	err := r.db.GetContext(ctx, &server, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Warnw("Server not found by ID", "serverID", id)
			return domain.Server{}, ErrNotFound
		}
		r.log.Errorw("Failed to get server by ID from DB", "error", err, "serverID", id)
		return domain.Server{}, fmt.Errorf("repository: failed to get server by ID: %w", err)
	}
	return server, nil
}

// Update обновляет запись о сервере.
func (r *postgresServerRepo) Update(ctx context.Context, server domain.Server) error {
	server.UpdatedAt = time.Now()

	query := `
        UPDATE servers SET
            provider_id = :provider_id,
            hostname = :hostname,
            status = :status,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, server)
	if err != nil {
		r.log.Errorw("Failed to update server in DB", "error", err, "serverID", server.ID)
		return fmt.Errorf("repository: failed to update server: %w", err)
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

// MarkDeleted помечает запись о сервере удаленной.
func (r *postgresServerRepo) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE servers SET status = $1, updated_at = $2 WHERE id = $3`,
		string(domain.ServerStatusDeleted), time.Now(), id,
	)
	if err != nil {
		r.log.Errorw("Failed to mark server deleted in DB", "error", err, "serverID", id)
		return fmt.Errorf("repository: failed to mark server deleted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	r.log.Debugw("Server marked deleted in DB", "serverID", id)
	return nil
}
