package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Client обертка над подключением к базе данных
type Client struct {
	DB  *sqlx.DB
	log *logger.Logger
}

// NewClient создает подключение к базе; соединение повторяется с
// экспоненциальной задержкой, чтобы пережить старт базы рядом в compose
func NewClient(ctx context.Context, dsn string, log *logger.Logger) (*Client, error) {
	var db *sqlx.DB

	connect := func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, "pgx", dsn)
		if err != nil {
			log.Warnw("Database connection attempt failed, retrying", "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		log.Errorw("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("db: failed to connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	log.Infow("Connected to database")
	return &Client{DB: db, log: log}, nil
}

// Close закрывает соединение с базой данных
func (c *Client) Close() error {
	if err := c.DB.Close(); err != nil {
		c.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("db: failed to close connection: %w", err)
	}
	return nil
}

// Ping проверяет доступность базы; используется хендлером готовности
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}
