package entity

import (
	"fmt"
	"log/slog"
	"unicode/utf8"
)

type TypeRow struct {
	ID   int
	Type string
}

type EntityRow struct {
	ID     int
	TypeID int
	Code   string
	Name   string
}

type AttributeRow struct {
	ID       int
	EntityID int
	Key      string
	Value    string
}

type RelationshipRow struct {
	FromID int
	ToID   int
}

// Rows holds the four row sets of a full metadata database load, in the
// column order of their destination tables.
type Rows struct {
	Types         []TypeRow
	Entities      []EntityRow
	Attributes    []AttributeRow
	Relationships []RelationshipRow
}

// Graph accumulates entities, their types and attributes, and the mappings
// between them. It is not safe for concurrent use.
type Graph struct {
	log *slog.Logger

	typeIDs    map[Type]int
	types      []TypeRow
	entities   []EntityRow
	attributes []AttributeRow
	mappings   []Mapping
	counts     map[Type]int
}

func NewGraph(log *slog.Logger) *Graph {
	return &Graph{
		log:     log,
		typeIDs: make(map[Type]int),
		counts:  make(map[Type]int),
	}
}

// Add records an entity. The entity type is interned on first occurrence and
// each attribute gets the next attribute id.
func (g *Graph) Add(e Entity) error {
	if !utf8.ValidString(e.Name) {
		g.log.Error("entity: invalid entity name", "code", e.Code, "name", fmt.Sprintf("%q", e.Name))
		return fmt.Errorf("%w: code=%s name=%q", ErrInvalidName, e.Code, e.Name)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	typeID, ok := g.typeIDs[e.Type]
	if !ok {
		typeID = len(g.types)
		g.typeIDs[e.Type] = typeID
		g.types = append(g.types, TypeRow{ID: typeID, Type: string(e.Type)})
	}

	g.entities = append(g.entities, EntityRow{ID: e.ID, TypeID: typeID, Code: e.Code, Name: e.Name})
	for _, attr := range e.Attributes.All() {
		g.attributes = append(g.attributes, AttributeRow{
			ID:       len(g.attributes),
			EntityID: e.ID,
			Key:      attr.Key,
			Value:    attr.Value,
		})
	}
	g.counts[e.Type]++
	return nil
}

func (g *Graph) AddMappings(mappings ...Mapping) {
	g.mappings = append(g.mappings, mappings...)
}

func (g *Graph) Mappings() []Mapping {
	return g.mappings
}

// CountByType returns the number of entities recorded per type.
func (g *Graph) CountByType() map[Type]int {
	out := make(map[Type]int, len(g.counts))
	for t, n := range g.counts {
		out[t] = n
	}
	return out
}

// TypeOrder returns entity types in the order they were first seen.
func (g *Graph) TypeOrder() []Type {
	out := make([]Type, 0, len(g.types))
	for _, t := range g.types {
		out = append(out, Type(t.Type))
	}
	return out
}

// Rows flattens the graph. Every mapping (a, b) becomes the two relationship
// rows (a, b) and (b, a).
func (g *Graph) Rows() Rows {
	rels := make([]RelationshipRow, 0, 2*len(g.mappings))
	for _, m := range g.mappings {
		rels = append(rels,
			RelationshipRow{FromID: m.From, ToID: m.To},
			RelationshipRow{FromID: m.To, ToID: m.From},
		)
	}
	return Rows{
		Types:         g.types,
		Entities:      g.entities,
		Attributes:    g.attributes,
		Relationships: rels,
	}
}
