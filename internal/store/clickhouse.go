package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/metrics"
)

// ClickHouseConn is the subset of a ClickHouse connection the writer uses.
type ClickHouseConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

type ClickHouseConfig struct {
	Logger          *slog.Logger
	Addr            string
	Database        string
	Username        string
	Password        string
	ConnectAttempts uint
}

func (c *ClickHouseConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Addr == "" {
		return errors.New("clickhouse addr is required")
	}
	if c.Database == "" {
		c.Database = "default"
	}
	if c.Username == "" {
		c.Username = "default"
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
	return nil
}

type ClickHouse struct {
	log  *slog.Logger
	conn ClickHouseConn
}

// NewClickHouse opens a ClickHouse connection and waits for it to answer a ping.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if attempt > 0 {
			cfg.Logger.Warn("store: clickhouse ping failed, retrying", "attempt", attempt)
		}
		attempt++
		return struct{}{}, conn.Ping(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.ConnectAttempts))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	cfg.Logger.Info("store: clickhouse connected", "addr", cfg.Addr, "database", cfg.Database)
	return NewClickHouseWithConn(cfg.Logger, conn), nil
}

func NewClickHouseWithConn(log *slog.Logger, conn ClickHouseConn) *ClickHouse {
	return &ClickHouse{log: log, conn: conn}
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

// Migrate executes the embedded ClickHouse schema files in filename order.
func (c *ClickHouse) Migrate(ctx context.Context) error {
	c.log.Info("store: running clickhouse migrations")

	migrations := mustSub(clickhouseMigrations, "migrations/clickhouse")
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		for i, stmt := range splitStatements(string(content)) {
			if err := c.conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement %d of %s: %w", i+1, name, err)
			}
		}
		c.log.Info("store: applied migration", "file", name)
	}
	return nil
}

func splitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Write replaces the contents of the four tables with rows. ClickHouse has no
// multi-table truncate, so the tables are emptied one by one before loading.
func (c *ClickHouse) Write(ctx context.Context, rows entity.Rows) error {
	c.log.Info("store: truncating tables")
	for _, name := range TableNames() {
		if err := c.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+name); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", name, err)
		}
	}

	for _, table := range Tables(rows) {
		if err := c.insertTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClickHouse) insertTable(ctx context.Context, table Table) error {
	c.log.Info("store: inserting rows", "table", table.Name, "rows", len(table.Rows))

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", table.Name, strings.Join(table.Columns, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", table.Name, err)
	}
	defer func() { _ = batch.Abort() }()

	for _, row := range table.Rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append to %s: %w", table.Name, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch for %s: %w", table.Name, err)
	}
	metrics.StoreRowsWritten.WithLabelValues(table.Name).Add(float64(len(table.Rows)))
	return nil
}
