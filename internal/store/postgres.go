package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/metrics"
	"github.com/pressly/goose/v3"
)

const (
	defaultConnectAttempts = 5
	defaultMaxConns        = 4
)

type PostgresConfig struct {
	Logger          *slog.Logger
	URL             string
	ConnectAttempts uint
}

func (c *PostgresConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.URL == "" {
		return errors.New("database url is required")
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
	return nil
}

type Postgres struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool and waits for the server to answer a
// ping, retrying with exponential backoff.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = defaultMaxConns
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if attempt > 0 {
			cfg.Logger.Warn("store: postgres ping failed, retrying", "attempt", attempt)
		}
		attempt++
		return struct{}{}, pool.Ping(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.ConnectAttempts))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	cfg.Logger.Info("store: postgres connected", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &Postgres{log: cfg.Logger, pool: pool}, nil
}

func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	p.log.Info("store: running postgres migrations")

	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, mustSub(postgresMigrations, "migrations/postgres"))
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		p.log.Info("store: applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func truncateStatement(tables []string) string {
	quoted := make([]string, 0, len(tables))
	for _, t := range tables {
		quoted = append(quoted, pq.QuoteIdentifier(t))
	}
	return "TRUNCATE " + strings.Join(quoted, ", ")
}

// Write replaces the contents of the four tables with rows.
func (p *Postgres) Write(ctx context.Context, rows entity.Rows) error {
	p.log.Info("store: truncating tables")
	if _, err := p.pool.Exec(ctx, truncateStatement(TableNames())); err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}

	for _, table := range Tables(rows) {
		if err := p.copyTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) copyTable(ctx context.Context, table Table) error {
	p.log.Info("store: copying rows", "table", table.Name, "rows", len(table.Rows))

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", table.Name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table.Name}, table.Columns, pgx.CopyFromRows(table.Rows))
	if err != nil {
		return fmt.Errorf("failed to copy into %s: %w", table.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table.Name, err)
	}
	metrics.StoreRowsWritten.WithLabelValues(table.Name).Add(float64(n))
	return nil
}
