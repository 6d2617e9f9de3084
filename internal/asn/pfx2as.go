package asn

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"regexp"
	"sort"
	"strconv"

	"github.com/malbeclabs/mddb/internal/wandio"
)

const pfx2asFields = 3

var originRE = regexp.MustCompile(`\d+`)

// Announcements holds the prefixes announced by each origin AS.
type Announcements struct {
	byASN    map[string]map[netip.Prefix]struct{}
	prefixes map[netip.Prefix]struct{}
}

func NewAnnouncements() *Announcements {
	return &Announcements{
		byASN:    make(map[string]map[netip.Prefix]struct{}),
		prefixes: make(map[netip.Prefix]struct{}),
	}
}

// Add records that asn announces p.
func (a *Announcements) Add(asn string, p netip.Prefix) {
	p = p.Masked()
	set, ok := a.byASN[asn]
	if !ok {
		set = make(map[netip.Prefix]struct{})
		a.byASN[asn] = set
	}
	set[p] = struct{}{}
	a.prefixes[p] = struct{}{}
}

// ASNs returns every origin AS in ascending numeric order.
func (a *Announcements) ASNs() []string {
	out := make([]string, 0, len(a.byASN))
	for asn := range a.byASN {
		out = append(out, asn)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := strconv.ParseUint(out[i], 10, 64)
		nj, _ := strconv.ParseUint(out[j], 10, 64)
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return out
}

// PrefixesOf returns the prefixes announced by asn in address order.
func (a *Announcements) PrefixesOf(asn string) []netip.Prefix {
	return sortedPrefixes(a.byASN[asn])
}

// Prefixes returns every distinct announced prefix in address order.
func (a *Announcements) Prefixes() []netip.Prefix {
	return sortedPrefixes(a.prefixes)
}

func sortedPrefixes(set map[netip.Prefix]struct{}) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Addr().Compare(out[j].Addr()); c != 0 {
			return c < 0
		}
		return out[i].Bits() < out[j].Bits()
	})
	return out
}

// ParsePfx2AS reads a tab-separated (address, length, origins) file. The origin
// field may carry several AS numbers, e.g. multi-origin "1_2" or AS sets
// "1,2". IPv6 rows are skipped.
func ParsePfx2AS(log *slog.Logger, r io.Reader) (*Announcements, error) {
	a := NewAnnouncements()
	var skipped int
	err := wandio.EachRecord(r, '\t', pfx2asFields, func(line int, row []string) error {
		p, err := netip.ParsePrefix(row[0] + "/" + row[1])
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", wandio.ErrMalformedRow, line, err)
		}
		if !p.Addr().Is4() {
			skipped++
			return nil
		}
		origins := originRE.FindAllString(row[2], -1)
		if len(origins) == 0 {
			return fmt.Errorf("%w: line %d: no origin in %q", wandio.ErrMalformedRow, line, row[2])
		}
		for _, origin := range origins {
			a.Add(origin, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("asn: skipped non-ipv4 prefixes", "count", skipped)
	}
	log.Info("asn: parsed pfx2as", "asns", len(a.byASN), "prefixes", len(a.prefixes))
	return a, nil
}
