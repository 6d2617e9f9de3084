package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzhttp"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/mddb/config"
	"github.com/malbeclabs/mddb/internal/as2org"
	"github.com/malbeclabs/mddb/internal/metrics"
	"github.com/malbeclabs/mddb/internal/store"
	"github.com/malbeclabs/mddb/internal/updater"
	"github.com/malbeclabs/mddb/internal/wandio"
	"github.com/olekukonko/tablewriter"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	pfx2asFlag := flag.StringP("pfx2as", "p", "", "prefix-to-AS file (required)")
	countryCodesFlag := flag.StringP("country-codes", "c", config.DefaultCountryCodes, "netacuity country codes file")
	regionPolygonsFlag := flag.StringP("region-polygons", "r", config.DefaultRegionPolygons, "natural earth region polygons file")
	countyPolygonsFlag := flag.StringP("county-polygons", "C", config.DefaultCountyPolygons, "gadm county polygons file")
	blocksFlag := flag.StringP("blocks", "b", config.DefaultBlocks, "netacuity edge blocks file")
	locationsFlag := flag.StringP("locations", "l", config.DefaultLocations, "netacuity edge locations file")
	polygonMappingFlag := flag.StringP("polygon-mapping", "P", config.DefaultPolygonMapping, "netacuity edge polygons file")

	storeFlag := flag.String("store", "", "destination store, postgres or clickhouse (default: $MDDB_STORE)")
	migrateFlag := flag.Bool("migrate", false, "create the metadata tables before loading")
	dryRunFlag := flag.Bool("dry-run", false, "build the entity graph without writing it")
	summaryFlag := flag.Bool("summary", false, "print entity counts per type")
	workersFlag := flag.Int("workers", 0, "prefix lookup workers (default: $MDDB_LOOKUP_WORKERS or number of CPUs)")
	metricsTextfileFlag := flag.String("metrics-textfile", "", "write run metrics to this node exporter textfile")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	s3AnonymousFlag := flag.Bool("s3-anonymous", false, "read s3:// reference files without credentials")
	verboseFlag := flag.Bool("verbose", false, "verbose mode - show debug logs")
	showVersionFlag := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersionFlag {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		os.Exit(0)
	}

	log := newLogger(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if *pfx2asFlag == "" {
		log.Error("missing required flag", "flag", "--pfx2as")
		flag.Usage()
		return errors.New("missing required flag --pfx2as")
	}

	env, err := config.LoadEnv(*envFileFlag)
	if err != nil {
		log.Error("failed to load environment", "error", err)
		return err
	}
	if *storeFlag != "" {
		env.Store = *storeFlag
	}
	if *workersFlag != 0 {
		env.LookupWorkers = *workersFlag
	}
	if err := env.Validate(!*dryRunFlag); err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	files := updater.Files{
		PFX2AS:         *pfx2asFlag,
		CountryCodes:   *countryCodesFlag,
		RegionPolygons: *regionPolygonsFlag,
		CountyPolygons: *countyPolygonsFlag,
		Blocks:         *blocksFlag,
		Locations:      *locationsFlag,
		PolygonMapping: *polygonMappingFlag,
	}

	openerCfg := wandio.Config{Logger: log}
	if anyS3(files.All()) {
		s3Client, err := newS3Client(ctx, env.AWSRegion, *s3AnonymousFlag)
		if err != nil {
			log.Error("failed to create s3 client", "error", err)
			return err
		}
		openerCfg.S3 = s3Client
	}
	opener, err := wandio.NewOpener(openerCfg)
	if err != nil {
		log.Error("failed to create opener", "error", err)
		return err
	}

	asnInfo, err := as2org.NewClient(as2org.Config{
		Logger:   log,
		BaseURL:  env.AS2OrgURL,
		PageSize: env.AS2OrgPageSize,
		HTTPClient: &http.Client{
			Timeout:   env.AS2OrgTimeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
	})
	if err != nil {
		log.Error("failed to create as2org client", "error", err)
		return err
	}

	var writer store.Writer
	if !*dryRunFlag {
		writer, err = newStore(ctx, log, env, *migrateFlag)
		if err != nil {
			log.Error("failed to connect to store", "store", env.Store, "error", err)
			return err
		}
		defer writer.Close()
	}

	updaterCfg := updater.Config{
		Logger:  log,
		Clock:   clockwork.NewRealClock(),
		Opener:  opener,
		ASNInfo: asnInfo,
		Workers: env.LookupWorkers,
	}
	if writer != nil {
		updaterCfg.Store = writer
	}
	u, err := updater.New(updaterCfg)
	if err != nil {
		log.Error("failed to create updater", "error", err)
		return err
	}

	start := time.Now()
	res, err := u.Run(ctx, files)
	if err != nil {
		log.Error("update failed", "error", err)
		return err
	}
	log.Info("update complete", "written", res.Written, "duration", time.Since(start))

	if *summaryFlag || *dryRunFlag {
		printSummary(os.Stdout, res)
	}

	if *metricsTextfileFlag != "" {
		if err := metrics.WriteTextfile(*metricsTextfileFlag); err != nil {
			log.Error("failed to write metrics", "error", err)
			return err
		}
	}

	return nil
}

func anyS3(locations []string) bool {
	for _, l := range locations {
		if wandio.IsS3(l) {
			return true
		}
	}
	return false
}

func newS3Client(ctx context.Context, region string, anonymous bool) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if anonymous {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func newStore(ctx context.Context, log *slog.Logger, env *config.Env, migrate bool) (store.Writer, error) {
	switch env.Store {
	case config.StoreClickHouse:
		ch, err := store.NewClickHouse(ctx, store.ClickHouseConfig{
			Logger:   log,
			Addr:     env.ClickHouse.Addr,
			Database: env.ClickHouse.Database,
			Username: env.ClickHouse.Username,
			Password: env.ClickHouse.Password,
		})
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := ch.Migrate(ctx); err != nil {
				ch.Close()
				return nil, err
			}
		}
		return ch, nil
	default:
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{Logger: log, URL: env.DatabaseURL})
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	}
}

func printSummary(w io.Writer, res *updater.Result) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Entity Type", "Count"})

	var total int
	for _, t := range res.Types {
		n := res.Counts[t]
		total += n
		table.Append([]string{string(t), fmt.Sprintf("%d", n)})
	}
	table.SetFooter([]string{"total", fmt.Sprintf("%d", total)})
	table.Render()

	stages := tablewriter.NewWriter(w)
	stages.SetAutoFormatHeaders(false)
	stages.SetHeader([]string{"Stage", "Duration"})
	for _, s := range res.Stages {
		stages.Append([]string{s.Name, s.Duration.Round(time.Millisecond).String()})
	}
	stages.Render()

	fmt.Fprintf(w, "attributes: %d, relationships: %d\n", res.Attributes, res.Relationships)
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
