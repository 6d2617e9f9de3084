// Package fqid assigns dense integer identifiers to fully-qualified entity ids.
//
// A fully-qualified id (FQID) is a dot-delimited path such as
// "geo.netacuity.NA.US.1234" or "asn.15169". Ids are handed out sequentially
// starting at zero, in first-reference order, and are never reused for the
// lifetime of a Registry.
package fqid

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownFQID = errors.New("unknown fqid")
)

type Registry struct {
	ids  map[string]int
	next int
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]int)}
}

// GetID returns the id registered for fqid, allocating the next sequential id
// if fqid has not been seen before.
func (r *Registry) GetID(fqid string) int {
	if id, ok := r.ids[fqid]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[fqid] = id
	return id
}

// Lookup returns the id registered for fqid without allocating. The second
// return value is false when fqid has never been registered.
func (r *Registry) Lookup(fqid string) (int, bool) {
	id, ok := r.ids[fqid]
	return id, ok
}

// MustLookup is like Lookup but treats an unregistered fqid as an error.
func (r *Registry) MustLookup(fqid string) (int, error) {
	id, ok := r.ids[fqid]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFQID, fqid)
	}
	return id, nil
}

func (r *Registry) Len() int {
	return len(r.ids)
}

// Join builds an FQID from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, ".")
}

// Truncate returns the first n dot-separated segments of fqid. If fqid has
// fewer than n segments it is returned unchanged.
func Truncate(fqid string, n int) string {
	parts := strings.Split(fqid, ".")
	if len(parts) <= n {
		return fqid
	}
	return strings.Join(parts[:n], ".")
}

// Segment returns the i-th dot-separated segment of fqid.
func Segment(fqid string, i int) (string, bool) {
	parts := strings.Split(fqid, ".")
	if i < 0 || i >= len(parts) {
		return "", false
	}
	return parts[i], true
}
