package geo

import (
	"fmt"
	"io"
	"strings"

	"github.com/malbeclabs/mddb/internal/entity"
	"github.com/malbeclabs/mddb/internal/fqid"
	"github.com/malbeclabs/mddb/internal/wandio"
)

const (
	UnknownCode        = "??"
	unknownCountryName = "[Unknown Country]"

	countryHeaderISO3 = "ISO-3"
	countryFields     = 7
)

// NormalizeCountryCode applies the netacuity code fixups: wildcards become
// "?", the legacy "uk" becomes "gb", and the result is upper-cased.
func NormalizeCountryCode(code string) string {
	code = strings.ReplaceAll(code, "*", "?")
	code = strings.ReplaceAll(code, "uk", "gb")
	return strings.ToUpper(code)
}

// NormalizeContinent applies the netacuity continent fixups: wildcards become
// "?", "au" (Australia) becomes "oc" (Oceania), and the result is upper-cased.
func NormalizeContinent(code string) string {
	code = strings.ReplaceAll(code, "*", "?")
	code = strings.ReplaceAll(code, "au", "oc")
	return strings.ToUpper(code)
}

// GenerateCountries reads the netacuity country codes file with columns
// (iso3, iso2, name, region, continent code, continent name, numeric code).
func (b *Builder) GenerateCountries(r io.Reader) error {
	b.log.Info("geo: generating country entities")

	return wandio.EachRecord(r, ',', countryFields, func(line int, row []string) error {
		iso3, iso2, name, contName := row[0], row[1], row[2], row[5]
		if iso3 == countryHeaderISO3 || iso2 == "?" {
			return nil
		}

		code := NormalizeCountryCode(iso2)
		name = b.title.String(name)
		cont := NormalizeContinent(contName)
		if code == UnknownCode {
			name = unknownCountryName
		}
		b.countryNames[code] = name

		contID := b.cfg.Registry.GetID(fqid.Join(Namespace, cont))
		f := fqid.Join(Namespace, cont, code)
		id := b.cfg.Registry.GetID(f)
		b.cfg.Graph.AddMappings(entity.Mapping{From: contID, To: id})

		err := b.cfg.Graph.Add(entity.Entity{
			ID:         id,
			Type:       entity.TypeCountry,
			Code:       code,
			Name:       name,
			Attributes: entity.NewAttributes(entity.AttrFQID, f),
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		return nil
	})
}
