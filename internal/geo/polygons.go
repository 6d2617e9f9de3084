package geo

import (
	"fmt"
	"io"
	"strings"

	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
	"github.com/malbeclabs/mddb/internal/wandio"
)

const (
	polygonHeaderFQID = "fqid"
	polygonFields     = 4

	// Segment positions within a full geographic FQID.
	countrySegment = 3
	regionSegment  = 4
	countySegment  = 5

	// Parent FQIDs are the leading segments of the child FQID.
	countryDepth = 4
	regionDepth  = 5
)

// PolygonRow is one row of a polygon reference file.
type PolygonRow struct {
	ID       string
	FQID     string
	Name     string
	UserCode string
}

// EachPolygon calls fn for every non-header row of a polygon reference file
// with columns (polygon id, fqid suffix, name, user code).
func EachPolygon(r io.Reader, fn func(line int, p PolygonRow) error) error {
	return wandio.EachRecord(r, ',', polygonFields, func(line int, row []string) error {
		if row[1] == polygonHeaderFQID {
			return nil
		}
		return fn(line, PolygonRow{ID: row[0], FQID: row[1], Name: row[2], UserCode: row[3]})
	})
}

// polygonName replaces the first "?" placeholder and falls back to an
// "[Invalid <kind> (<segment>)]" name when the name is empty.
func polygonName(name, kind, suffix string, segment int) (string, error) {
	name = strings.Replace(name, "?", "[Unknown "+kind+"]", 1)
	if name != "" {
		return name, nil
	}
	seg, ok := fqid.Segment(suffix, segment)
	if !ok {
		return "", fmt.Errorf("%w: fqid %q has no segment %d", wandio.ErrMalformedRow, suffix, segment)
	}
	return fmt.Sprintf("[Invalid %s (%s)]", kind, seg), nil
}

func segmentOf(f string, i int) (string, error) {
	seg, ok := fqid.Segment(f, i)
	if !ok {
		return "", fmt.Errorf("%w: fqid %q has no segment %d", wandio.ErrMalformedRow, f, i)
	}
	return seg, nil
}

// GenerateRegions reads the region polygons file. Regions whose country was
// never registered are kept but left without a parent mapping.
func (b *Builder) GenerateRegions(r io.Reader) error {
	b.log.Info("geo: generating region entities")

	var orphans int
	err := EachPolygon(r, func(line int, p PolygonRow) error {
		name, err := polygonName(p.Name, "Region", p.FQID, 2)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		f := fqid.Join(Namespace, p.FQID)
		if _, err := segmentOf(f, regionSegment); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		countryCode, err := segmentOf(f, countrySegment)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		id := b.cfg.Registry.GetID(f)

		b.regionNames[p.ID] = name

		if countryID, ok := b.cfg.Registry.Lookup(fqid.Truncate(f, countryDepth)); ok {
			b.cfg.Graph.AddMappings(entity.Mapping{From: countryID, To: id})
		} else {
			orphans++
		}

		countryName, err := b.requireCountryName(countryCode)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		err = b.cfg.Graph.Add(entity.Entity{
			ID:   id,
			Type: entity.TypeRegion,
			Code: p.ID,
			Name: name,
			Attributes: entity.NewAttributes(
				entity.AttrFQID, f,
				entity.AttrCountryCode, countryCode,
				entity.AttrCountryName, countryName,
			),
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		return nil
	})
	if orphans > 0 {
		b.log.Warn("geo: regions without a known country", "count", orphans)
	}
	return err
}

// GenerateCounties reads the county polygons file. Both the region and country
// names of every county must be known.
func (b *Builder) GenerateCounties(r io.Reader) error {
	b.log.Info("geo: generating county entities")

	var orphans int
	err := EachPolygon(r, func(line int, p PolygonRow) error {
		name, err := polygonName(p.Name, "County", p.FQID, 3)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		f := fqid.Join(Namespace, p.FQID)
		if _, err := segmentOf(f, countySegment); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		regionCode, err := segmentOf(f, regionSegment)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		countryCode, err := segmentOf(f, countrySegment)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		id := b.cfg.Registry.GetID(f)

		regionName, err := b.requireRegionName(regionCode)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		countryName, err := b.requireCountryName(countryCode)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		if regionID, ok := b.cfg.Registry.Lookup(fqid.Truncate(f, regionDepth)); ok {
			b.cfg.Graph.AddMappings(entity.Mapping{From: regionID, To: id})
		} else {
			orphans++
		}

		err = b.cfg.Graph.Add(entity.Entity{
			ID:   id,
			Type: entity.TypeCounty,
			Code: p.ID,
			Name: name,
			Attributes: entity.NewAttributes(
				entity.AttrFQID, f,
				entity.AttrRegionCode, regionCode,
				entity.AttrRegionName, regionName,
				entity.AttrCountryCode, countryCode,
				entity.AttrCountryName, countryName,
			),
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		return nil
	})
	if orphans > 0 {
		b.log.Warn("geo: counties without a known region", "count", orphans)
	}
	return err
}
