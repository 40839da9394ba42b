// Package csvstream parses bank statement CSVs row by row without ever
// holding the whole file in memory. Rows that fail validation are skipped
// and tallied; only a broken header or a broken file is fatal.
package csvstream

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingColumns is wrapped with the names of the absent headers.
var ErrMissingColumns = errors.New("csv_missing_required_columns")

var requiredColumns = []string{"transaction_date", "description", "amount"}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006",
}

var amountCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// Row is one validated statement line. The date is truncated to a UTC
// calendar day and the amount is rounded to two decimals.
type Row struct {
	Line            int
	TransactionDate time.Time
	Description     string
	Amount          decimal.Decimal
	ReferenceNumber *string
}

type Stream struct {
	file    *os.File
	reader  *csv.Reader
	columns map[string]int
	line    int
	skipped int
}

// Open reads and validates the header. Column names are matched after
// trimming and lowercasing; the header must carry transaction_date,
// description and amount.
func Open(path string) (*Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		file.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(requiredColumns, ", "))
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, raw := range header {
		if i == 0 {
			raw = strings.TrimPrefix(raw, "\uFEFF")
		}
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, ok := columns[name]; !ok {
			columns[name] = i
		}
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	return &Stream{file: file, reader: reader, columns: columns, line: 1}, nil
}

// Next returns the next valid row in file order, io.EOF at the end. Invalid
// rows are skipped silently and counted.
func (s *Stream) Next() (*Row, error) {
	for {
		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		s.line++

		row, ok := s.parse(record)
		if !ok {
			s.skipped++
			continue
		}
		return row, nil
	}
}

// Skipped reports how many rows failed validation so far.
func (s *Stream) Skipped() int { return s.skipped }

func (s *Stream) Close() error { return s.file.Close() }

func (s *Stream) parse(record []string) (*Row, bool) {
	date, ok := parseDate(s.field(record, "transaction_date"))
	if !ok {
		return nil, false
	}

	description := strings.TrimSpace(s.field(record, "description"))
	if description == "" {
		return nil, false
	}

	amount, ok := parseAmount(s.field(record, "amount"))
	if !ok {
		return nil, false
	}

	row := &Row{
		Line:            s.line,
		TransactionDate: date,
		Description:     description,
		Amount:          amount,
	}
	if ref := strings.TrimSpace(s.reference(record)); ref != "" {
		row.ReferenceNumber = &ref
	}
	return row, true
}

func (s *Stream) field(record []string, name string) string {
	idx, ok := s.columns[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func (s *Stream) reference(record []string) string {
	if v := s.field(record, "reference_number"); strings.TrimSpace(v) != "" {
		return v
	}
	return s.field(record, "reference")
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// parseAmount strips currency formatting and requires a positive value.
// Rounding is half away from zero to two decimals.
func parseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := amountCleaner.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount.Round(2), true
}
