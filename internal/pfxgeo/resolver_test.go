package pfxgeo_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/mddb/internal/netacq"
	"github.com/malbeclabs/mddb/internal/pfxgeo"
	"github.com/stretchr/testify/require"
)

type mockOracle struct {
	LookupFunc func(prefix string) (netacq.Record, error)
}

func (m *mockOracle) Lookup(prefix string) (netacq.Record, error) {
	return m.LookupFunc(prefix)
}

func TestPfxgeo_NewResolver_Validate(t *testing.T) {
	t.Parallel()

	_, err := pfxgeo.NewResolver(pfxgeo.Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = pfxgeo.NewResolver(pfxgeo.Config{Logger: logger})
	require.ErrorContains(t, err, "oracle is required")
	_, err = pfxgeo.NewResolver(pfxgeo.Config{Logger: logger, Oracle: &mockOracle{}, Workers: -1})
	require.ErrorContains(t, err, "workers")
}

func TestPfxgeo_FQIDs(t *testing.T) {
	t.Parallel()

	got := pfxgeo.FQIDs(netacq.Record{ContinentCode: "NA", CountryCode: "US", PolygonIDs: []int{1001, 5001}})
	require.Equal(t, []string{
		"geo.netacuity.NA",
		"geo.netacuity.NA.US",
		"geo.netacuity.NA.US.1001",
		"geo.netacuity.NA.US.1001.5001",
	}, got)

	got = pfxgeo.FQIDs(netacq.Record{ContinentCode: "??", CountryCode: "??"})
	require.Equal(t, []string{
		"geo.netacuity.??",
		"geo.netacuity.??.??",
		"geo.netacuity.??.??.0",
		"geo.netacuity.??.??.0.0",
	}, got)
}

func TestPfxgeo_Resolve(t *testing.T) {
	t.Parallel()

	records := map[string]netacq.Record{
		"8.8.8.0/24":   {ContinentCode: "NA", CountryCode: "US", PolygonIDs: []int{1001, 5001}},
		"1.1.1.0/24":   {ContinentCode: "OC", CountryCode: "AU", PolygonIDs: []int{3001, 0}},
		"192.0.2.0/24": {ContinentCode: "??", CountryCode: "??", PolygonIDs: []int{0, 0}},
	}
	var calls atomic.Int64
	resolver, err := pfxgeo.NewResolver(pfxgeo.Config{
		Logger:  logger,
		Workers: 4,
		Oracle: &mockOracle{LookupFunc: func(prefix string) (netacq.Record, error) {
			calls.Add(1)
			rec, ok := records[prefix]
			if !ok {
				return netacq.Record{}, fmt.Errorf("unexpected prefix %s", prefix)
			}
			return rec, nil
		}},
	})
	require.NoError(t, err)
	defer resolver.Close()

	got, err := resolver.Resolve(context.Background(), []string{"8.8.8.0/24", "1.1.1.0/24", "192.0.2.0/24"})
	require.NoError(t, err)
	require.Equal(t, int64(3), calls.Load())

	want := map[string][]string{
		"8.8.8.0/24": {
			"geo.netacuity.NA",
			"geo.netacuity.NA.US",
			"geo.netacuity.NA.US.1001",
			"geo.netacuity.NA.US.1001.5001",
		},
		"1.1.1.0/24": {
			"geo.netacuity.OC",
			"geo.netacuity.OC.AU",
			"geo.netacuity.OC.AU.3001",
			"geo.netacuity.OC.AU.3001.0",
		},
		"192.0.2.0/24": {
			"geo.netacuity.??",
			"geo.netacuity.??.??",
			"geo.netacuity.??.??.0",
			"geo.netacuity.??.??.0.0",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected resolution (-want +got):\n%s", diff)
	}
}

func TestPfxgeo_Resolve_Empty(t *testing.T) {
	t.Parallel()

	resolver, err := pfxgeo.NewResolver(pfxgeo.Config{Logger: logger, Oracle: &mockOracle{}})
	require.NoError(t, err)
	defer resolver.Close()

	got, err := resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPfxgeo_Resolve_FailFast(t *testing.T) {
	t.Parallel()

	errLookup := errors.New("lookup failed")
	resolver, err := pfxgeo.NewResolver(pfxgeo.Config{
		Logger:  logger,
		Workers: 2,
		Oracle: &mockOracle{LookupFunc: func(prefix string) (netacq.Record, error) {
			if prefix == "10.0.0.0/8" {
				return netacq.Record{}, errLookup
			}
			return netacq.Record{ContinentCode: "EU", CountryCode: "GB", PolygonIDs: []int{0, 0}}, nil
		}},
	})
	require.NoError(t, err)
	defer resolver.Close()

	prefixes := []string{"10.0.0.0/8"}
	for i := 0; i < 100; i++ {
		prefixes = append(prefixes, fmt.Sprintf("172.16.%d.0/24", i))
	}
	got, err := resolver.Resolve(context.Background(), prefixes)
	require.ErrorIs(t, err, errLookup)
	require.Nil(t, got)
}

func TestPfxgeo_Resolve_Canceled(t *testing.T) {
	t.Parallel()

	resolver, err := pfxgeo.NewResolver(pfxgeo.Config{
		Logger: logger,
		Oracle: &mockOracle{LookupFunc: func(string) (netacq.Record, error) {
			return netacq.Record{ContinentCode: "EU", CountryCode: "GB"}, nil
		}},
	})
	require.NoError(t, err)
	defer resolver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = resolver.Resolve(ctx, []string{"10.0.0.0/8"})
	require.ErrorIs(t, err, context.Canceled)
}
