package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool is the slice of pgxpool.Pool the store needs. pgxmock implements it
// for tests.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

const (
	insertScrapeSQL = `INSERT INTO scrape_log (source, scrape_type, status, started_at, items_processed)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	deleteScrapeSQL = `DELETE FROM scrape_log WHERE id = $1`
)

// Postgres implements Store on a pgx connection pool. It assumes a schema
// like:
//
//	CREATE TABLE scrape_log (
//	    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	    source TEXT NOT NULL,
//	    scrape_type TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    started_at TIMESTAMPTZ NOT NULL,
//	    items_processed INTEGER NOT NULL DEFAULT 0,
//	    created_at TIMESTAMPTZ DEFAULT NOW()
//	);
type Postgres struct {
	pool   Pool
	logger *zap.Logger
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool Pool, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Connect opens a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(pool, logger), nil
}

// RecordScrape inserts one scrape_log row and returns the generated id.
func (p *Postgres) RecordScrape(ctx context.Context, entry ScrapeLog) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx, insertScrapeSQL,
		entry.Source,
		entry.ScrapeType,
		entry.Status,
		entry.StartedAt,
		entry.ItemsProcessed,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert scrape_log: %w", err)
	}
	p.logger.Debug("scrape recorded", zap.String("id", id), zap.String("status", entry.Status))
	return id, nil
}

// DeleteScrape removes one scrape_log row by id.
func (p *Postgres) DeleteScrape(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, deleteScrapeSQL, id); err != nil {
		return fmt.Errorf("delete scrape_log %s: %w", id, err)
	}
	return nil
}

// Ping verifies connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
