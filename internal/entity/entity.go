// Package entity accumulates the metadata entity graph and flattens it into
// the row sets loaded into the metadata database.
package entity

import (
	"errors"
	"fmt"
)

type Type string

const (
	TypeContinent Type = "continent"
	TypeCountry   Type = "country"
	TypeRegion    Type = "region"
	TypeCounty    Type = "county"
	TypeASN       Type = "asn"
)

const (
	AttrFQID        = "fqid"
	AttrCountryCode = "country_code"
	AttrCountryName = "country_name"
	AttrRegionCode  = "region_code"
	AttrRegionName  = "region_name"
	AttrName        = "name"
	AttrOrg         = "org"
	AttrIPCount     = "ip_count"
)

var (
	ErrInvalidName      = errors.New("entity name is not valid utf-8")
	ErrUnknownAttribute = errors.New("unknown attribute for entity type")
	ErrMissingFQID      = errors.New("entity has no fqid attribute")
	ErrUnknownType      = errors.New("unknown entity type")
)

// allowedAttributes lists the attribute keys each entity type may carry.
var allowedAttributes = map[Type]map[string]struct{}{
	TypeContinent: keySet(AttrFQID),
	TypeCountry:   keySet(AttrFQID),
	TypeRegion:    keySet(AttrFQID, AttrCountryCode, AttrCountryName),
	TypeCounty:    keySet(AttrFQID, AttrRegionCode, AttrRegionName, AttrCountryCode, AttrCountryName),
	TypeASN:       keySet(AttrFQID, AttrName, AttrOrg, AttrIPCount),
}

func keySet(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

type Entity struct {
	ID         int
	Type       Type
	Code       string
	Name       string
	Attributes Attributes
}

// Validate checks the attribute keys against the set known for the entity type.
func (e *Entity) Validate() error {
	allowed, ok := allowedAttributes[e.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if _, ok := e.Attributes.Get(AttrFQID); !ok {
		return fmt.Errorf("%w: %s %s", ErrMissingFQID, e.Type, e.Code)
	}
	for _, attr := range e.Attributes.All() {
		if _, ok := allowed[attr.Key]; !ok {
			return fmt.Errorf("%w: %s has %q", ErrUnknownAttribute, e.Type, attr.Key)
		}
	}
	return nil
}

// Mapping is an undirected parent/child or membership edge between two entity ids.
type Mapping struct {
	From int
	To   int
}
