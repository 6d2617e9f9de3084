package geo

import (
	_ "embed"
	"fmt"

	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
	"gopkg.in/yaml.v3"
)

//go:embed continents.yaml
var continentsYAML []byte

type Continent struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type continentConfig struct {
	Continents []Continent `yaml:"continents"`
}

// Continents returns the fixed continent table.
func Continents() ([]Continent, error) {
	return parseContinents(continentsYAML)
}

func parseContinents(data []byte) ([]Continent, error) {
	var config continentConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse continents: %w", err)
	}
	for i, c := range config.Continents {
		if c.Code == "" || c.Name == "" {
			return nil, fmt.Errorf("continent %d is missing a code or name", i)
		}
	}
	return config.Continents, nil
}

// GenerateContinents records one entity per continent. Continents have no
// parent, so no mappings are produced.
func (b *Builder) GenerateContinents() error {
	b.log.Info("geo: generating continent entities")

	continents, err := Continents()
	if err != nil {
		return err
	}
	for _, c := range continents {
		f := fqid.Join(Namespace, c.Code)
		err := b.cfg.Graph.Add(entity.Entity{
			ID:         b.cfg.Registry.GetID(f),
			Type:       entity.TypeContinent,
			Code:       c.Code,
			Name:       c.Name,
			Attributes: entity.NewAttributes(entity.AttrFQID, f),
		})
		if err != nil {
			return fmt.Errorf("failed to add continent %s: %w", c.Code, err)
		}
	}
	return nil
}
