package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrInvalidStore = errors.New("invalid store")
)

// Env is the configuration read from the process environment.
type Env struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Store       string `env:"MDDB_STORE" envDefault:"postgres"`

	ClickHouse ClickHouseEnv

	AS2OrgURL      string        `env:"AS2ORG_URL" envDefault:"https://api.panda.caida.org/as2org/v1/asns/"`
	AS2OrgPageSize int           `env:"AS2ORG_PAGE_SIZE" envDefault:"4000"`
	AS2OrgTimeout  time.Duration `env:"AS2ORG_TIMEOUT" envDefault:"2m"`

	LookupWorkers int    `env:"MDDB_LOOKUP_WORKERS"`
	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`
}

type ClickHouseEnv struct {
	Addr     string `env:"CLICKHOUSE_ADDR"`
	Database string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username string `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
}

// Validate checks the settings needed by the selected store. Connection
// settings are only required when the store is going to be written.
func (e *Env) Validate(needStore bool) error {
	switch e.Store {
	case StorePostgres:
		if needStore && e.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case StoreClickHouse:
		if needStore && e.ClickHouse.Addr == "" {
			return errors.New("CLICKHOUSE_ADDR is required")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStore, e.Store)
	}
	if e.AS2OrgPageSize <= 0 {
		return errors.New("AS2ORG_PAGE_SIZE must be positive")
	}
	if e.LookupWorkers < 0 {
		return errors.New("MDDB_LOOKUP_WORKERS must not be negative")
	}
	return nil
}

// LoadEnv loads an optional dotenv file into the process environment and then
// parses the environment. A missing dotenv file is not an error.
func LoadEnv(dotenvPath string) (*Env, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
	}
	return ParseEnv(nil)
}

// ParseEnv parses the configuration from environment, or from the process
// environment when environment is nil.
func ParseEnv(environment map[string]string) (*Env, error) {
	var cfg Env
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}
