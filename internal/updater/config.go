package updater

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/mddb/internal/as2org"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/netacq"
	"github.com/malbeclabs/mddb/internal/pfxgeo"
)

type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

type ASNInfoSource interface {
	GetAll(ctx context.Context) (map[string]as2org.Info, error)
}

type Store interface {
	Write(ctx context.Context, rows entity.Rows) error
}

// OracleLoader builds the prefix geolocation oracle from the provider files.
type OracleLoader func(ctx context.Context, cfg netacq.Config) (pfxgeo.Oracle, error)

// LoadNetacq is the OracleLoader for the netacuity edge provider.
func LoadNetacq(ctx context.Context, cfg netacq.Config) (pfxgeo.Oracle, error) {
	return netacq.Load(ctx, cfg)
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Opener     Opener
	ASNInfo    ASNInfoSource
	LoadOracle OracleLoader
	Workers    int

	// Store is written once the whole graph has been built. A nil store
	// makes Run a dry run.
	Store Store
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Opener == nil {
		return errors.New("opener is required")
	}
	if c.ASNInfo == nil {
		return errors.New("asn info source is required")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.LoadOracle == nil {
		c.LoadOracle = LoadNetacq
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Files locates every input of a run.
type Files struct {
	PFX2AS         string
	CountryCodes   string
	RegionPolygons string
	CountyPolygons string
	Blocks         string
	Locations      string
	PolygonMapping string
}

func (f Files) Validate() error {
	if f.PFX2AS == "" {
		return errors.New("pfx2as file is required")
	}
	for _, p := range []string{f.CountryCodes, f.RegionPolygons, f.CountyPolygons, f.Blocks, f.Locations, f.PolygonMapping} {
		if p == "" {
			return errors.New("all reference files are required")
		}
	}
	return nil
}

// All returns every file location of the run.
func (f Files) All() []string {
	return []string{f.PFX2AS, f.CountryCodes, f.RegionPolygons, f.CountyPolygons, f.Blocks, f.Locations, f.PolygonMapping}
}
