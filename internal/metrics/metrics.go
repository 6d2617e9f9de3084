package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mddb_updater_build_info",
		Help: "Build information of the mddb updater",
	}, []string{"version", "commit", "date"})

	Entities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mddb_updater_entities", Help: "Entities produced by the last run, by type.",
	}, []string{"type"})
	Relationships = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mddb_updater_relationship_rows", Help: "Relationship rows produced by the last run.",
	})
	Attributes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mddb_updater_attribute_rows", Help: "Attribute rows produced by the last run.",
	})

	PrefixLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mddb_updater_prefix_lookups_total", Help: "Prefix geolocation lookups, by result.",
	}, []string{"result"})

	AS2OrgPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mddb_updater_as2org_pages_total", Help: "ASN ownership pages fetched.",
	})
	AS2OrgRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mddb_updater_as2org_records_total", Help: "ASN ownership records fetched.",
	})

	StageDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mddb_updater_stage_duration_seconds", Help: "Duration of each stage of the last run.",
	}, []string{"stage"})
	StoreRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mddb_updater_store_rows_written_total", Help: "Rows written to the store, by table.",
	}, []string{"table"})

	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mddb_updater_last_success_timestamp_seconds", Help: "Unix time of the last successful run.",
	})
)

const namePrefix = "mddb_updater_"

// WriteTextfile writes the updater's own metric families to path in the node
// exporter textfile format. Runtime and process collectors are left out so the
// file does not collide with the exporter's own series. The file is replaced
// atomically.
func WriteTextfile(path string) error {
	return writeTextfile(path, prometheus.DefaultGatherer)
}

func writeTextfile(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range ownFamilies(families) {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func ownFamilies(families []*dto.MetricFamily) []*dto.MetricFamily {
	out := families[:0:0]
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), namePrefix) {
			out = append(out, mf)
		}
	}
	return out
}
