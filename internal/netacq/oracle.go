// Package netacq implements a prefix geolocation oracle over the netacuity
// edge block, location and polygon dumps.
package netacq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"sort"

	"github.com/malbeclabs/mddb/internal/geo"
	"go4.org/netipx"
)

var (
	ErrInvalidPrefix     = errors.New("invalid prefix")
	ErrOverlappingBlocks = errors.New("overlapping blocks")
)

type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Config locates the provider files. PolygonTables lists the polygon
// reference files in the column order of the polygon mapping file.
type Config struct {
	Logger         *slog.Logger
	Opener         Opener
	Blocks         string
	Locations      string
	PolygonMapping string
	PolygonTables  []string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Opener == nil {
		return errors.New("opener is required")
	}
	if c.Blocks == "" {
		return errors.New("blocks file is required")
	}
	if c.Locations == "" {
		return errors.New("locations file is required")
	}
	if c.PolygonMapping == "" {
		return errors.New("polygon mapping file is required")
	}
	if len(c.PolygonTables) == 0 {
		return errors.New("at least one polygon table is required")
	}
	return nil
}

// Record is the geolocation of a prefix. PolygonIDs has one entry per polygon
// table, zero when the location has no polygon in that table.
type Record struct {
	ContinentCode string
	CountryCode   string
	PolygonIDs    []int
}

// Polygon returns the polygon id for table i, or zero when there is none.
func (r Record) Polygon(i int) int {
	if i < 0 || i >= len(r.PolygonIDs) {
		return 0
	}
	return r.PolygonIDs[i]
}

type block struct {
	start uint32
	end   uint32
	locID int
}

// Oracle answers prefix lookups. It is immutable once loaded and safe for
// concurrent use.
type Oracle struct {
	log *slog.Logger

	blocks  []block
	records map[int]Record
	tables  int
}

// Load reads every provider file and builds the oracle.
func Load(ctx context.Context, cfg Config) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	tables := make([]map[int]struct{}, 0, len(cfg.PolygonTables))
	for _, path := range cfg.PolygonTables {
		var ids map[int]struct{}
		err := withFile(ctx, cfg.Opener, path, func(r io.Reader) (err error) {
			ids, err = readPolygonTable(r)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load polygon table: %w", err)
		}
		tables = append(tables, ids)
	}

	var locations map[int]location
	err := withFile(ctx, cfg.Opener, cfg.Locations, func(r io.Reader) (err error) {
		locations, err = readLocations(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}

	var polygons map[int][]int
	err = withFile(ctx, cfg.Opener, cfg.PolygonMapping, func(r io.Reader) (err error) {
		polygons, err = readPolygonMapping(r, tables)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load polygon mapping: %w", err)
	}

	var blocks []block
	err = withFile(ctx, cfg.Opener, cfg.Blocks, func(r io.Reader) (err error) {
		blocks, err = readBlocks(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].start != blocks[j].start {
			return blocks[i].start < blocks[j].start
		}
		return blocks[i].end < blocks[j].end
	})
	for i := 1; i < len(blocks); i++ {
		if blocks[i].start <= blocks[i-1].end {
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlappingBlocks, blocks[i-1], blocks[i])
		}
	}

	records := make(map[int]Record, len(locations))
	for id, loc := range locations {
		rec := Record{
			ContinentCode: loc.continent,
			CountryCode:   loc.country,
			PolygonIDs:    make([]int, len(tables)),
		}
		copy(rec.PolygonIDs, polygons[id])
		records[id] = rec
	}

	log.Info("netacq: oracle loaded", "blocks", len(blocks), "locations", len(records), "polygonTables", len(tables))

	return &Oracle{
		log:     log,
		blocks:  blocks,
		records: records,
		tables:  len(tables),
	}, nil
}

func withFile(ctx context.Context, opener Opener, location string, fn func(io.Reader) error) error {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := fn(rc); err != nil {
		return fmt.Errorf("%s: %w", location, err)
	}
	return nil
}

// Unknown is the record returned for prefixes no block covers.
func (o *Oracle) Unknown() Record {
	return Record{
		ContinentCode: geo.UnknownCode,
		CountryCode:   geo.UnknownCode,
		PolygonIDs:    make([]int, o.tables),
	}
}

// Lookup returns the record of the location covering the most addresses of
// prefix. Ties go to the block with the lowest start address.
func (o *Oracle) Lookup(prefix string) (Record, error) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrInvalidPrefix, prefix, err)
	}
	if !p.Addr().Is4() {
		return Record{}, fmt.Errorf("%w: %q is not ipv4", ErrInvalidPrefix, prefix)
	}
	rng := netipx.RangeOfPrefix(p.Masked())
	from, to := addrToUint32(rng.From()), addrToUint32(rng.To())

	// First block that ends at or after the start of the prefix.
	i := sort.Search(len(o.blocks), func(i int) bool { return o.blocks[i].end >= from })

	var (
		best      *block
		bestCover uint64
	)
	for ; i < len(o.blocks) && o.blocks[i].start <= to; i++ {
		b := &o.blocks[i]
		if b.end < from {
			continue
		}
		cover := uint64(min(b.end, to)) - uint64(max(b.start, from)) + 1
		if best == nil || cover > bestCover {
			best, bestCover = b, cover
		}
	}
	if best == nil {
		return o.Unknown(), nil
	}

	rec, ok := o.records[best.locID]
	if !ok {
		o.log.Debug("netacq: block references unknown location", "prefix", prefix, "locID", best.locID)
		return o.Unknown(), nil
	}
	rec.PolygonIDs = slices.Clone(rec.PolygonIDs)
	return rec, nil
}

func (b block) String() string {
	return netipx.IPRangeFrom(uint32ToAddr(b.start), uint32ToAddr(b.end)).String()
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}
