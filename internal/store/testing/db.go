// Package storetesting starts throwaway metadata databases in containers for
// integration tests.
package storetesting

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const containerStartAttempts = 3

type terminator interface {
	Terminate(ctx context.Context, opts ...testcontainers.TerminateOption) error
}

// terminateOnCleanup terminates c when the test ends. The test context is
// already canceled by then, so termination runs on a fresh context.
func terminateOnCleanup(t testing.TB, name string, c terminator) {
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s container: %v", name, err)
		}
	})
}

type PostgresConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "mddb"
	}
	if cfg.Username == "" {
		cfg.Username = "mddb"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// NewPostgres starts a postgres container and returns its connection url. The
// container is terminated when the test ends.
func NewPostgres(t testing.TB, cfg *PostgresConfig) string {
	ctx := t.Context()

	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate postgres config: %v", err)
	}

	var (
		container *postgres.PostgresContainer
		lastErr   error
	)
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		var err error
		container, err = postgres.Run(ctx, cfg.ContainerImage,
			postgres.WithDatabase(cfg.Database),
			postgres.WithUsername(cfg.Username),
			postgres.WithPassword(cfg.Password),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < containerStartAttempts {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		break
	}
	if container == nil {
		t.Fatalf("failed to start postgres container after retries: %v", lastErr)
	}
	terminateOnCleanup(t, "postgres", container)

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

type ClickHouseConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "mddb"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// ClickHouse describes a running ClickHouse container.
type ClickHouse struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouse starts a ClickHouse container. The container is terminated
// when the test ends.
func NewClickHouse(t testing.TB, cfg *ClickHouseConfig) ClickHouse {
	ctx := t.Context()

	if cfg == nil {
		cfg = &ClickHouseConfig{}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate clickhouse config: %v", err)
	}

	var (
		container *tcch.ClickHouseContainer
		lastErr   error
	)
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		var err error
		container, err = tcch.Run(ctx, cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < containerStartAttempts {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		break
	}
	if container == nil {
		t.Fatalf("failed to start clickhouse container after retries: %v", lastErr)
	}
	terminateOnCleanup(t, "clickhouse", container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, nat.Port("9000/tcp"))
	require.NoError(t, err)

	return ClickHouse{
		Addr:     fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
