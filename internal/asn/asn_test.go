package asn_test

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/malbeclabs/mddb/internal/as2org"
	"github.com/malbeclabs/mddb/internal/asn"
	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
	"github.com/malbeclabs/mddb/internal/wandio"
	"github.com/stretchr/testify/require"
)

func prefixes(t *testing.T, ss ...string) []netip.Prefix {
	t.Helper()
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}

func TestASN_IPCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prefixes []string
		want     uint64
	}{
		{name: "nested prefix counted once", prefixes: []string{"10.0.0.0/8", "10.1.0.0/16"}, want: 1 << 24},
		{name: "disjoint prefixes add up", prefixes: []string{"10.0.0.0/24", "10.0.1.0/24"}, want: 512},
		{name: "duplicates counted once", prefixes: []string{"8.8.8.0/24", "8.8.8.0/24"}, want: 256},
		{name: "deep nesting", prefixes: []string{"10.1.2.0/24", "10.1.0.0/16", "10.1.2.128/25"}, want: 1 << 16},
		{name: "adjacent siblings", prefixes: []string{"10.0.0.0/25", "10.0.0.128/25"}, want: 256},
		{name: "ipv6 ignored", prefixes: []string{"2001:db8::/32", "192.0.2.0/24"}, want: 256},
		{name: "host route", prefixes: []string{"192.0.2.1/32"}, want: 1},
		{name: "default route", prefixes: []string{"0.0.0.0/0", "1.0.0.0/8"}, want: 1 << 32},
		{name: "empty", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, asn.IPCount(prefixes(t, tt.prefixes...)))
		})
	}
}

func TestASN_RootPrefixes(t *testing.T) {
	t.Parallel()

	roots := asn.RootPrefixes(prefixes(t, "10.1.0.0/16", "10.0.0.0/8", "192.168.0.0/16", "192.168.1.0/24"))
	require.ElementsMatch(t, prefixes(t, "10.0.0.0/8", "192.168.0.0/16"), roots)
}

func TestASN_IPCount_MatchesRootPrefixes(t *testing.T) {
	t.Parallel()

	set := prefixes(t, "10.0.0.0/25", "10.0.0.128/25", "10.0.0.0/24", "172.16.0.0/16", "172.16.4.0/22", "192.0.2.0/24", "198.51.100.7/32")
	var want uint64
	for _, p := range asn.RootPrefixes(set) {
		want += uint64(1) << (32 - p.Bits())
	}
	require.Equal(t, uint64(65536+256+256+1), want)
	require.Equal(t, want, asn.IPCount(set))
}

const pfx2as = "10.0.0.0\t8\t64500\n" +
	"10.1.0.0\t16\t64500\n" +
	"8.8.8.0\t24\t15169\n" +
	"192.0.2.0\t24\t64501_64502\n" +
	"198.51.100.0\t24\t64503,64501\n" +
	"2001:db8::\t32\t64500\n"

func TestASN_ParsePfx2AS(t *testing.T) {
	t.Parallel()

	ann, err := asn.ParsePfx2AS(logger, strings.NewReader(pfx2as))
	require.NoError(t, err)

	require.Equal(t, []string{"15169", "64500", "64501", "64502", "64503"}, ann.ASNs())
	require.Equal(t, prefixes(t, "10.0.0.0/8", "10.1.0.0/16"), ann.PrefixesOf("64500"))
	require.Equal(t, prefixes(t, "192.0.2.0/24", "198.51.100.0/24"), ann.PrefixesOf("64501"))
	require.Len(t, ann.Prefixes(), 5)
}

func TestASN_ParsePfx2AS_Malformed(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"10.0.0.0\t8\n",
		"10.0.0.0\t33\t64500\n",
		"bogus\t8\t64500\n",
		"10.0.0.0\t8\t{}\n",
	} {
		_, err := asn.ParsePfx2AS(logger, strings.NewReader(input))
		require.ErrorIs(t, err, wandio.ErrMalformedRow, input)
	}
}

func attrsOf(rows entity.Rows, id int) map[string]string {
	out := make(map[string]string)
	for _, a := range rows.Attributes {
		if a.EntityID == id {
			out[a.Key] = a.Value
		}
	}
	return out
}

func TestASN_Build(t *testing.T) {
	t.Parallel()

	registry := fqid.NewRegistry()
	graph := entity.NewGraph(logger)
	usID := registry.GetID("geo.netacuity.NA.US")
	naID := registry.GetID("geo.netacuity.NA")

	builder, err := asn.NewBuilder(asn.Config{Logger: logger, Registry: registry, Graph: graph})
	require.NoError(t, err)

	ann, err := asn.ParsePfx2AS(logger, strings.NewReader("8.8.8.0\t24\t15169\n10.0.0.0\t8\t64500\n10.1.0.0\t16\t64500\n"))
	require.NoError(t, err)

	infos := map[string]as2org.Info{
		"64500": {ASNName: "EXAMPLE-NET", OrgName: "Example Org"},
	}
	prefixGeo := map[string][]string{
		"8.8.8.0/24":  {"geo.netacuity.NA", "geo.netacuity.NA.US", "geo.netacuity.NA.US.0", "geo.netacuity.NA.US.0.0"},
		"10.0.0.0/8":  {"geo.netacuity.NA", "geo.netacuity.NA.US"},
		"10.1.0.0/16": {"geo.netacuity.NA"},
	}
	require.NoError(t, builder.Build(ann, infos, prefixGeo))

	rows := graph.Rows()
	require.Len(t, rows.Entities, 2)

	google := rows.Entities[0]
	require.Equal(t, "15169", google.Code)
	require.Equal(t, "AS15169", google.Name)
	require.Equal(t, map[string]string{"fqid": "asn.15169", "ip_count": "256"}, attrsOf(rows, google.ID))

	example := rows.Entities[1]
	require.Equal(t, "64500", example.Code)
	require.Equal(t, "AS64500 (EXAMPLE-NET)", example.Name)
	require.Equal(t, map[string]string{
		"fqid":     "asn.64500",
		"name":     "EXAMPLE-NET",
		"org":      "Example Org",
		"ip_count": "16777216",
	}, attrsOf(rows, example.ID))

	// Unregistered region and county targets are skipped without allocating ids.
	require.Equal(t, []entity.Mapping{
		{From: google.ID, To: naID},
		{From: google.ID, To: usID},
		{From: example.ID, To: naID},
		{From: example.ID, To: usID},
	}, graph.Mappings())
	_, ok := registry.Lookup("geo.netacuity.NA.US.0")
	require.False(t, ok)
}

func TestASN_Name(t *testing.T) {
	t.Parallel()

	require.Equal(t, "AS15169", asn.Name("15169", as2org.Info{}, false))
	require.Equal(t, "AS15169 (GOOGLE)", asn.Name("15169", as2org.Info{ASNName: "GOOGLE", OrgName: "Google LLC"}, true))
}
