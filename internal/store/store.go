// Package store loads the flattened entity graph into the metadata database.
//
// A load replaces the whole database: all four tables are truncated and then
// refilled in dependency order, one transaction per table.
package store

import (
	"context"
	"embed"

	"github.com/malbeclabs/mddb/internal/entity"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/clickhouse/*.sql
var clickhouseMigrations embed.FS

const (
	TableTypes         = "mddb_entity_type"
	TableEntities      = "mddb_entity"
	TableAttributes    = "mddb_entity_attribute"
	TableRelationships = "mddb_entity_relationship"
)

type Writer interface {
	Write(ctx context.Context, rows entity.Rows) error
	Close() error
}

// Table is one destination table with its fixed column order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Tables converts rows into the four destination tables in load order:
// types, entities, attributes, relationships.
func Tables(rows entity.Rows) []Table {
	types := make([][]any, 0, len(rows.Types))
	for _, r := range rows.Types {
		types = append(types, []any{int64(r.ID), r.Type})
	}
	entities := make([][]any, 0, len(rows.Entities))
	for _, r := range rows.Entities {
		entities = append(entities, []any{int64(r.ID), int64(r.TypeID), r.Code, r.Name})
	}
	attributes := make([][]any, 0, len(rows.Attributes))
	for _, r := range rows.Attributes {
		attributes = append(attributes, []any{int64(r.ID), int64(r.EntityID), r.Key, r.Value})
	}
	relationships := make([][]any, 0, len(rows.Relationships))
	for _, r := range rows.Relationships {
		relationships = append(relationships, []any{int64(r.FromID), int64(r.ToID)})
	}

	return []Table{
		{Name: TableTypes, Columns: []string{"id", "type"}, Rows: types},
		{Name: TableEntities, Columns: []string{"id", "type_id", "code", "name"}, Rows: entities},
		{Name: TableAttributes, Columns: []string{"id", "metadata_id", "key", "value"}, Rows: attributes},
		{Name: TableRelationships, Columns: []string{"from_id", "to_id"}, Rows: relationships},
	}
}

// TableNames lists the destination tables in load order.
func TableNames() []string {
	return []string{TableTypes, TableEntities, TableAttributes, TableRelationships}
}
