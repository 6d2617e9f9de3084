// Package pfxgeo resolves announced prefixes to the geographic entities that
// contain them.
package pfxgeo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/mddb/internal/fqid"
	"github.com/malbeclabs/mddb/internal/geo"
	"github.com/malbeclabs/mddb/internal/metrics"
	"github.com/malbeclabs/mddb/internal/netacq"
)

// Polygon table positions in an oracle record.
const (
	regionTable = 0
	countyTable = 1
)

type Oracle interface {
	Lookup(prefix string) (netacq.Record, error)
}

type Config struct {
	Logger  *slog.Logger
	Oracle  Oracle
	Workers int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Oracle == nil {
		return errors.New("oracle is required")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	return nil
}

type Resolver struct {
	log  *slog.Logger
	cfg  Config
	pool pond.ResultPool[result]
}

type result struct {
	prefix string
	fqids  []string
}

func NewResolver(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[result](cfg.Workers),
	}, nil
}

// Close waits for running lookups and releases the workers.
func (r *Resolver) Close() {
	r.pool.StopAndWait()
}

// FQIDs builds the continent, country, region and county FQIDs of a record.
func FQIDs(rec netacq.Record) []string {
	cont := fqid.Join(geo.Namespace, rec.ContinentCode)
	country := fqid.Join(cont, rec.CountryCode)
	region := fqid.Join(country, strconv.Itoa(rec.Polygon(regionTable)))
	county := fqid.Join(region, strconv.Itoa(rec.Polygon(countyTable)))
	return []string{cont, country, region, county}
}

// Resolve looks up every prefix on the worker pool and returns the sorted FQID
// set of each one. The first failed lookup cancels the remaining ones.
func (r *Resolver) Resolve(ctx context.Context, prefixes []string) (map[string][]string, error) {
	r.log.Info("pfxgeo: resolving prefixes", "prefixes", len(prefixes), "workers", r.cfg.Workers)

	group := r.pool.NewGroupContext(ctx)
	for _, prefix := range prefixes {
		prefix := prefix

		group.SubmitErr(func() (result, error) {
			if err := ctx.Err(); err != nil {
				return result{}, err
			}
			rec, err := r.cfg.Oracle.Lookup(prefix)
			if err != nil {
				metrics.PrefixLookups.WithLabelValues("error").Inc()
				return result{}, fmt.Errorf("failed to look up %s: %w", prefix, err)
			}
			if rec.CountryCode == geo.UnknownCode {
				metrics.PrefixLookups.WithLabelValues("unknown").Inc()
			} else {
				metrics.PrefixLookups.WithLabelValues("found").Inc()
			}
			fqids := FQIDs(rec)
			sort.Strings(fqids)
			return result{prefix: prefix, fqids: fqids}, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prefixes: %w", err)
	}

	out := make(map[string][]string, len(results))
	for _, res := range results {
		out[res.prefix] = res.fqids
	}
	r.log.Info("pfxgeo: resolved prefixes", "prefixes", len(out))
	return out, nil
}
