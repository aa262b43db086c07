package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// dateFormats lists the timestamp layouts accepted in a leading date column.
var dateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
}

// missing marks the cell spellings treated as absent observations.
var missing = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"-":    true,
}

// Load reads a CSV observation file. The first column is treated as a date
// column when its header says so or its first value parses as a date; all
// remaining columns must be numeric, with NA/NaN/empty cells loaded as NaN.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// Read parses CSV observation data from a stream.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	records, err := readAll(cr)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no observation rows")
	}

	start := 0
	var dates []time.Time
	if isDateColumn(header[0], records[0][0]) {
		start = 1
		if len(header) == 1 {
			return nil, fmt.Errorf("no numeric columns after the date column")
		}
		dates = make([]time.Time, len(records))
		for r, rec := range records {
			d, err := parseDate(rec[0])
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", r+2, err)
			}
			dates[r] = d
		}
	}

	names := header[start:]
	cols := make([][]float64, len(names))
	for c := range cols {
		cols[c] = make([]float64, len(records))
	}
	for r, rec := range records {
		for c := range names {
			v, err := parseCell(rec[start+c])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r+2, names[c], err)
			}
			cols[c][r] = v
		}
	}

	t, err := New(names, cols)
	if err != nil {
		return nil, err
	}
	if dates != nil {
		return t.WithDates(dates)
	}
	return t, nil
}

func readAll(cr *csv.Reader) ([][]string, error) {
	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		records = append(records, rec)
	}
}

func isDateColumn(name, firstValue string) bool {
	switch strings.ToLower(name) {
	case "date", "time", "datetime", "timestamp", "day":
		return true
	}
	_, err := parseDate(firstValue)
	return err == nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if missing[strings.ToLower(s)] {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad numeric cell %q", s)
	}
	return v, nil
}
