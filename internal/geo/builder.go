// Package geo builds the continent, country, region and county entities of the
// metadata graph from the netacuity country codes and the region and county
// polygon reference files.
//
// Tiers must be generated in order since each one resolves its parent through
// ids and names registered by the previous tier.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Namespace prefixes every geographic FQID.
const Namespace = "geo.netacuity"

var (
	ErrMissingReference = errors.New("missing referenced entity")
)

type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

type Config struct {
	Logger   *slog.Logger
	Registry *fqid.Registry
	Graph    *entity.Graph
	Opener   Opener
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
	if c.Opener == nil {
		return errors.New("opener is required")
	}
	return nil
}

// Files locates the geographic reference data.
type Files struct {
	CountryCodes   string
	RegionPolygons string
	CountyPolygons string
}

type Builder struct {
	log *slog.Logger
	cfg Config

	title        cases.Caser
	countryNames map[string]string
	regionNames  map[string]string
}

func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		log:          cfg.Logger,
		cfg:          cfg,
		title:        cases.Title(language.Und),
		countryNames: make(map[string]string),
		regionNames:  make(map[string]string),
	}, nil
}

// Build generates all four tiers in dependency order.
func (b *Builder) Build(ctx context.Context, files Files) error {
	if err := b.GenerateContinents(); err != nil {
		return err
	}
	if err := b.withFile(ctx, files.CountryCodes, b.GenerateCountries); err != nil {
		return fmt.Errorf("failed to generate countries: %w", err)
	}
	if err := b.withFile(ctx, files.RegionPolygons, b.GenerateRegions); err != nil {
		return fmt.Errorf("failed to generate regions: %w", err)
	}
	if err := b.withFile(ctx, files.CountyPolygons, b.GenerateCounties); err != nil {
		return fmt.Errorf("failed to generate counties: %w", err)
	}
	return nil
}

func (b *Builder) withFile(ctx context.Context, location string, fn func(io.Reader) error) error {
	rc, err := b.cfg.Opener.Open(ctx, location)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := fn(rc); err != nil {
		return fmt.Errorf("%s: %w", location, err)
	}
	return nil
}

func (b *Builder) CountryName(code string) (string, bool) {
	name, ok := b.countryNames[code]
	return name, ok
}

func (b *Builder) RegionName(polygonID string) (string, bool) {
	name, ok := b.regionNames[polygonID]
	return name, ok
}

func (b *Builder) requireCountryName(code string) (string, error) {
	name, ok := b.countryNames[code]
	if !ok {
		return "", fmt.Errorf("%w: country %q", ErrMissingReference, code)
	}
	return name, nil
}

func (b *Builder) requireRegionName(polygonID string) (string, error) {
	name, ok := b.regionNames[polygonID]
	if !ok {
		return "", fmt.Errorf("%w: region %q", ErrMissingReference, polygonID)
	}
	return name, nil
}
