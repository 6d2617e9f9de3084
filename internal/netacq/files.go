package netacq

import (
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/malbeclabs/mddb/internal/geo"
	"github.com/malbeclabs/mddb/internal/wandio"
	"go4.org/netipx"
)

// Netacuity numeric continent codes.
var numericContinents = map[int]string{
	0: geo.UnknownCode,
	1: "AF",
	2: "AN",
	3: "OC",
	4: "AS",
	5: "EU",
	6: "NA",
	7: "SA",
}

type location struct {
	continent string
	country   string
}

// parseAddr accepts a dotted-quad address or its unsigned integer form.
func parseAddr(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	if !a.Is4() {
		return 0, fmt.Errorf("%s is not an ipv4 address", s)
	}
	return addrToUint32(a), nil
}

func readBlocks(r io.Reader) ([]block, error) {
	var blocks []block
	err := wandio.EachRecord(r, ',', 0, func(line int, row []string) error {
		if len(row) < 3 {
			return fmt.Errorf("%w: line %d: expected at least 3 fields, got %d", wandio.ErrMalformedRow, line, len(row))
		}
		start, err := parseAddr(row[0])
		if err != nil {
			if line == 1 {
				return nil
			}
			return fmt.Errorf("%w: line %d: %v", wandio.ErrMalformedRow, line, err)
		}
		end, err := parseAddr(row[1])
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", wandio.ErrMalformedRow, line, err)
		}
		if !netipx.IPRangeFrom(uint32ToAddr(start), uint32ToAddr(end)).IsValid() {
			return fmt.Errorf("%w: line %d: block start %s is after end %s", wandio.ErrMalformedRow, line, row[0], row[1])
		}
		locID, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return fmt.Errorf("%w: line %d: invalid location id %q", wandio.ErrMalformedRow, line, row[2])
		}
		blocks = append(blocks, block{start: start, end: end, locID: locID})
		return nil
	})
	return blocks, err
}

func normalizeHeader(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

// normalizeContinent maps netacuity numeric codes and two-letter codes to the
// codes used by the continent tier.
func normalizeContinent(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if code, ok := numericContinents[n]; ok {
			return code
		}
		return geo.UnknownCode
	}
	if s == "" {
		return geo.UnknownCode
	}
	return geo.NormalizeContinent(s)
}

func normalizeCountry(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "?" {
		return geo.UnknownCode
	}
	return geo.NormalizeCountryCode(s)
}

// readLocations reads the edge locations file. The first row must name the
// columns.
func readLocations(r io.Reader) (map[int]location, error) {
	var (
		locCol, contCol, countryCol = -1, -1, -1
		width                       int
	)
	locations := make(map[int]location)
	err := wandio.EachRecord(r, ',', 0, func(line int, row []string) error {
		if width == 0 {
			for i, name := range row {
				switch normalizeHeader(name) {
				case "locid", "loc_id":
					locCol = i
				case "continent_code":
					contCol = i
				case "two_letter_country":
					countryCol = i
				}
			}
			if locCol < 0 || contCol < 0 || countryCol < 0 {
				return fmt.Errorf("%w: line %d: header must name locid, continent_code and two_letter_country", wandio.ErrMalformedRow, line)
			}
			width = len(row)
			return nil
		}
		if len(row) != width {
			return fmt.Errorf("%w: line %d: expected %d fields, got %d", wandio.ErrMalformedRow, line, width, len(row))
		}
		id, err := strconv.Atoi(strings.TrimSpace(row[locCol]))
		if err != nil {
			return fmt.Errorf("%w: line %d: invalid location id %q", wandio.ErrMalformedRow, line, row[locCol])
		}
		locations[id] = location{
			continent: normalizeContinent(row[contCol]),
			country:   normalizeCountry(row[countryCol]),
		}
		return nil
	})
	if err == nil && width == 0 {
		return nil, fmt.Errorf("%w: empty locations file", wandio.ErrMalformedRow)
	}
	return locations, err
}

// readPolygonTable collects the polygon ids defined by a polygon reference file.
func readPolygonTable(r io.Reader) (map[int]struct{}, error) {
	ids := make(map[int]struct{})
	err := geo.EachPolygon(r, func(line int, p geo.PolygonRow) error {
		id, err := strconv.Atoi(strings.TrimSpace(p.ID))
		if err != nil {
			return fmt.Errorf("%w: line %d: invalid polygon id %q", wandio.ErrMalformedRow, line, p.ID)
		}
		ids[id] = struct{}{}
		return nil
	})
	return ids, err
}

// readPolygonMapping reads rows of (location id, polygon id per table). Polygon
// ids absent from their table are recorded as zero.
func readPolygonMapping(r io.Reader, tables []map[int]struct{}) (map[int][]int, error) {
	mapping := make(map[int][]int)
	err := wandio.EachRecord(r, ',', 1+len(tables), func(line int, row []string) error {
		locID, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			if line == 1 {
				return nil
			}
			return fmt.Errorf("%w: line %d: invalid location id %q", wandio.ErrMalformedRow, line, row[0])
		}
		ids := make([]int, len(tables))
		for i, table := range tables {
			s := strings.TrimSpace(row[i+1])
			if s == "" {
				continue
			}
			id, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%w: line %d: invalid polygon id %q", wandio.ErrMalformedRow, line, s)
			}
			if _, ok := table[id]; ok {
				ids[i] = id
			}
		}
		mapping[locID] = ids
		return nil
	})
	return mapping, err
}
