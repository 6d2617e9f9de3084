// Package updater runs a full metadata database load: geographic entities,
// AS entities and their geolocation, then a single replacing write.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/malbeclabs/mddb/internal/as2org"
	"github.com/malbeclabs/mddb/internal/asn"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
	"github.com/malbeclabs/mddb/internal/geo"
	"github.com/malbeclabs/mddb/internal/metrics"
	"github.com/malbeclabs/mddb/internal/netacq"
	"github.com/malbeclabs/mddb/internal/pfxgeo"
)

const (
	StageGeo     = "geo"
	StageAS2Org  = "as2org"
	StagePfx2AS  = "pfx2as"
	StageOracle  = "oracle"
	StageResolve = "resolve"
	StageASN     = "asn"
	StageWrite   = "write"
)

type StageTiming struct {
	Name     string
	Duration time.Duration
}

// Result summarizes a run.
type Result struct {
	Types         []entity.Type
	Counts        map[entity.Type]int
	Attributes    int
	Relationships int
	Stages        []StageTiming
	Written       bool
}

type Updater struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Updater, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Updater{log: cfg.Logger, cfg: cfg}, nil
}

func (u *Updater) stage(res *Result, name string, fn func() error) error {
	start := u.cfg.Clock.Now()
	err := fn()
	d := u.cfg.Clock.Since(start)
	res.Stages = append(res.Stages, StageTiming{Name: name, Duration: d})
	metrics.StageDuration.WithLabelValues(name).Set(d.Seconds())
	if err != nil {
		return err
	}
	u.log.Debug("updater: stage complete", "stage", name, "duration", d)
	return nil
}

// Run builds the whole entity graph and, unless no store is configured,
// replaces the metadata database contents with it. Nothing is written when
// any stage fails.
func (u *Updater) Run(ctx context.Context, files Files) (*Result, error) {
	if err := files.Validate(); err != nil {
		return nil, err
	}

	registry := fqid.NewRegistry()
	graph := entity.NewGraph(u.log)
	res := &Result{}

	geoBuilder, err := geo.NewBuilder(geo.Config{Logger: u.log, Registry: registry, Graph: graph, Opener: u.cfg.Opener})
	if err != nil {
		return nil, err
	}
	err = u.stage(res, StageGeo, func() error {
		return geoBuilder.Build(ctx, geo.Files{
			CountryCodes:   files.CountryCodes,
			RegionPolygons: files.RegionPolygons,
			CountyPolygons: files.CountyPolygons,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build geographic entities: %w", err)
	}

	var infos map[string]as2org.Info
	err = u.stage(res, StageAS2Org, func() (err error) {
		infos, err = u.cfg.ASNInfo.GetAll(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get asn info: %w", err)
	}

	var ann *asn.Announcements
	err = u.stage(res, StagePfx2AS, func() error {
		rc, err := u.cfg.Opener.Open(ctx, files.PFX2AS)
		if err != nil {
			return err
		}
		defer rc.Close()
		ann, err = asn.ParsePfx2AS(u.log, rc)
		if err != nil {
			return fmt.Errorf("%s: %w", files.PFX2AS, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse pfx2as: %w", err)
	}

	var oracle pfxgeo.Oracle
	err = u.stage(res, StageOracle, func() (err error) {
		oracle, err = u.cfg.LoadOracle(ctx, netacq.Config{
			Logger:         u.log,
			Opener:         u.cfg.Opener,
			Blocks:         files.Blocks,
			Locations:      files.Locations,
			PolygonMapping: files.PolygonMapping,
			PolygonTables:  []string{files.RegionPolygons, files.CountyPolygons},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load geolocation oracle: %w", err)
	}

	var prefixGeo map[string][]string
	err = u.stage(res, StageResolve, func() error {
		resolver, err := pfxgeo.NewResolver(pfxgeo.Config{Logger: u.log, Oracle: oracle, Workers: u.cfg.Workers})
		if err != nil {
			return err
		}
		defer resolver.Close()
		prefixGeo, err = resolver.Resolve(ctx, prefixStrings(ann.Prefixes()))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to geolocate prefixes: %w", err)
	}

	asnBuilder, err := asn.NewBuilder(asn.Config{Logger: u.log, Registry: registry, Graph: graph})
	if err != nil {
		return nil, err
	}
	err = u.stage(res, StageASN, func() error {
		return asnBuilder.Build(ann, infos, prefixGeo)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build as entities: %w", err)
	}

	rows := graph.Rows()
	res.Types = graph.TypeOrder()
	res.Counts = graph.CountByType()
	res.Attributes = len(rows.Attributes)
	res.Relationships = len(rows.Relationships)
	for t, n := range res.Counts {
		metrics.Entities.WithLabelValues(string(t)).Set(float64(n))
	}
	metrics.Attributes.Set(float64(res.Attributes))
	metrics.Relationships.Set(float64(res.Relationships))

	u.log.Info("updater: entity graph built",
		"entities", len(rows.Entities),
		"attributes", res.Attributes,
		"relationships", res.Relationships,
	)

	if u.cfg.Store == nil {
		u.log.Info("updater: dry run, skipping store write")
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = u.stage(res, StageWrite, func() error {
		return u.cfg.Store.Write(ctx, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write entities: %w", err)
	}
	res.Written = true
	metrics.LastSuccess.Set(float64(u.cfg.Clock.Now().Unix()))
	return res, nil
}

func prefixStrings(prefixes []netip.Prefix) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, p.String())
	}
	return out
}
