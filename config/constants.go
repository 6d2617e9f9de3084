package config

const (
	// Default reference data locations.
	DefaultCountryCodes   = "/data/external/netacuity-dumps/country_codes.csv"
	DefaultRegionPolygons = "/data/external/natural-earth/polygons/ne_10m_admin_1.regions.v3.0.0.processed.polygons.csv.gz"
	DefaultCountyPolygons = "/data/external/gadm/polygons/gadm.counties.v2.0.processed.polygons.csv.gz"
	DefaultBlocks         = "/data/external/netacuity-dumps/Edge-processed/netacq-4-blocks.latest.csv.gz"
	DefaultLocations      = "/data/external/netacuity-dumps/Edge-processed/netacq-4-locations.latest.csv.gz"
	DefaultPolygonMapping = "/data/external/netacuity-dumps/Edge-processed/netacq-4-polygons.latest.csv.gz"

	// Destination stores.
	StorePostgres   = "postgres"
	StoreClickHouse = "clickhouse"
)
