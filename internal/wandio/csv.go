package wandio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedRow = errors.New("malformed row")
)

// EachRecord reads delimited records from r and calls fn for each one with its
// 1-based line number. When fields is positive every record must have exactly
// that many columns.
func EachRecord(r io.Reader, comma rune, fields int, fn func(line int, record []string) error) error {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read record: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if fields > 0 && len(record) != fields {
			return fmt.Errorf("%w: line %d: expected %d fields, got %d", ErrMalformedRow, line, fields, len(record))
		}
		if err := fn(line, record); err != nil {
			return err
		}
	}
}
