package store_test

import (
	"context"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/store"
	storetesting "github.com/malbeclabs/mddb/internal/store/testing"
	"github.com/stretchr/testify/require"
)

func TestStore_Postgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	url := storetesting.NewPostgres(t, nil)
	pg, err := store.NewPostgres(ctx, store.PostgresConfig{Logger: logger, URL: url})
	require.NoError(t, err)
	defer pg.Close()

	require.NoError(t, pg.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, pg.Migrate(ctx))

	require.NoError(t, pg.Write(ctx, testRows()))

	rows := entity.Rows{
		Types:      []entity.TypeRow{{ID: 0, Type: "asn"}},
		Entities:   []entity.EntityRow{{ID: 0, TypeID: 0, Code: "15169", Name: "AS15169"}},
		Attributes: []entity.AttributeRow{{ID: 0, EntityID: 0, Key: "fqid", Value: "asn.15169"}},
	}
	// A second load replaces the first one.
	require.NoError(t, pg.Write(ctx, rows))

	var count int
	for _, table := range store.TableNames() {
		require.NoError(t, pg.Pool().QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&count))
		switch table {
		case store.TableRelationships:
			require.Equal(t, 0, count, table)
		default:
			require.Equal(t, 1, count, table)
		}
	}

	var code, name string
	require.NoError(t, pg.Pool().QueryRow(ctx, "SELECT code, name FROM mddb_entity WHERE id = 0").Scan(&code, &name))
	require.Equal(t, "15169", code)
	require.Equal(t, "AS15169", name)

	// Entities must reference a loaded type.
	err = pg.Write(ctx, entity.Rows{
		Types:    []entity.TypeRow{{ID: 0, Type: "asn"}},
		Entities: []entity.EntityRow{{ID: 0, TypeID: 7, Code: "15169", Name: "AS15169"}},
	})
	require.ErrorContains(t, err, "foreign key")
}

func TestStore_ClickHouse_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	db := storetesting.NewClickHouse(t, nil)
	ch, err := store.NewClickHouse(ctx, store.ClickHouseConfig{
		Logger:   logger,
		Addr:     db.Addr,
		Database: db.Database,
		Username: db.Username,
		Password: db.Password,
	})
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Migrate(ctx))
	require.NoError(t, ch.Write(ctx, testRows()))
	require.NoError(t, ch.Write(ctx, testRows()))

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{db.Addr},
		Auth: clickhouse.Auth{Database: db.Database, Username: db.Username, Password: db.Password},
	})
	require.NoError(t, err)
	defer conn.Close()

	var count uint64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count() FROM mddb_entity_relationship").Scan(&count))
	require.Equal(t, uint64(2), count)
}
