// Package asn builds the AS entities of the metadata graph from prefix-to-AS
// announcements, AS ownership metadata and prefix geolocation.
package asn

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/malbeclabs/mddb/internal/as2org"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
)

// Namespace prefixes every AS FQID.
const Namespace = "asn"

type Config struct {
	Logger   *slog.Logger
	Registry *fqid.Registry
	Graph    *entity.Graph
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Graph == nil {
		return errors.New("graph is required")
	}
	return nil
}

type Builder struct {
	log *slog.Logger
	cfg Config
}

func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{log: cfg.Logger, cfg: cfg}, nil
}

// Name returns the display name of an AS.
func Name(asn string, info as2org.Info, ok bool) string {
	if !ok {
		return "AS" + asn
	}
	return fmt.Sprintf("AS%s (%s)", asn, info.ASNName)
}

// Build emits one entity per origin AS in ascending numeric order and maps it
// to every registered geographic entity its prefixes resolve to. Targets that
// were never registered are skipped.
func (b *Builder) Build(ann *Announcements, infos map[string]as2org.Info, prefixGeo map[string][]string) error {
	b.log.Info("asn: generating as entities", "asns", len(ann.byASN))

	var missingTargets, roots int
	for _, asn := range ann.ASNs() {
		f := fqid.Join(Namespace, asn)
		id := b.cfg.Registry.GetID(f)
		prefixes := ann.PrefixesOf(asn)
		roots += len(RootPrefixes(prefixes))

		info, ok := infos[asn]
		attrs := entity.NewAttributes(entity.AttrFQID, f)
		if ok {
			attrs.Set(entity.AttrName, info.ASNName)
			attrs.Set(entity.AttrOrg, info.OrgName)
		}
		attrs.Set(entity.AttrIPCount, strconv.FormatUint(IPCount(prefixes), 10))

		err := b.cfg.Graph.Add(entity.Entity{
			ID:         id,
			Type:       entity.TypeASN,
			Code:       asn,
			Name:       Name(asn, info, ok),
			Attributes: attrs,
		})
		if err != nil {
			return fmt.Errorf("failed to add AS%s: %w", asn, err)
		}

		targets := make(map[string]struct{})
		for _, p := range prefixes {
			for _, t := range prefixGeo[p.String()] {
				targets[t] = struct{}{}
			}
		}
		sorted := make([]string, 0, len(targets))
		for t := range targets {
			sorted = append(sorted, t)
		}
		sort.Strings(sorted)

		for _, t := range sorted {
			toID, ok := b.cfg.Registry.Lookup(t)
			if !ok {
				missingTargets++
				continue
			}
			b.cfg.Graph.AddMappings(entity.Mapping{From: id, To: toID})
		}
	}
	b.log.Debug("asn: as entities generated", "root_prefixes", roots)
	if missingTargets > 0 {
		b.log.Debug("asn: skipped unregistered geographic targets", "count", missingTargets)
	}
	return nil
}
