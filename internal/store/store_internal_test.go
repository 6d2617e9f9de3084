package store

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_TruncateStatement(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		`TRUNCATE "mddb_entity_type", "mddb_entity", "mddb_entity_attribute", "mddb_entity_relationship"`,
		truncateStatement(TableNames()),
	)
	require.Equal(t, `TRUNCATE "odd""name"`, truncateStatement([]string{`odd"name`}))
}

func TestStore_SplitStatements(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"CREATE TABLE a (x Int64)", "CREATE TABLE b (y Int64)"},
		splitStatements("CREATE TABLE a (x Int64);\n\n CREATE TABLE b (y Int64);\n"))
	require.Empty(t, splitStatements(" ;\n"))
}

func TestStore_PostgresMigration_EntityTypeForeignKey(t *testing.T) {
	t.Parallel()

	data, err := fs.ReadFile(postgresMigrations, "migrations/postgres/00001_mddb_entities.sql")
	require.NoError(t, err)
	require.Contains(t, string(data), "type_id INTEGER NOT NULL REFERENCES mddb_entity_type (id)")

	// Types are loaded before the entities that reference them.
	require.Equal(t, []string{TableTypes, TableEntities}, TableNames()[:2])
}
