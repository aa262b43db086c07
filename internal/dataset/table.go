// Package dataset holds the column-major observation tables that feed the
// fitting and simulation layers, plus CSV ingest for the on-disk form
// (optional leading date column, one numeric column per variable).
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"
)

// Table is a named, column-major block of observations. Columns always have
// equal length; dates are optional and, when present, parallel the rows.
type Table struct {
	names []string
	cols  [][]float64
	dates []time.Time
}

// New builds a table from parallel columns. Names must be unique and
// non-empty, columns equally long.
func New(names []string, cols [][]float64) (*Table, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("table needs at least one column")
	}
	if len(names) != len(cols) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("column names must be non-empty")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
	}
	rows := len(cols[0])
	for i, col := range cols {
		if len(col) != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", names[i], len(col), rows)
		}
	}
	return &Table{names: names, cols: cols}, nil
}

// WithDates attaches a date vector paralleling the rows.
func (t *Table) WithDates(dates []time.Time) (*Table, error) {
	if len(dates) != t.Rows() {
		return nil, fmt.Errorf("got %d dates for %d rows", len(dates), t.Rows())
	}
	t.dates = dates
	return t, nil
}

// Columns returns the column names in declaration order.
func (t *Table) Columns() []string { return append([]string(nil), t.names...) }

// Rows reports the number of observations.
func (t *Table) Rows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0])
}

// Dates returns the attached date vector, nil when the source had none.
func (t *Table) Dates() []time.Time { return t.dates }

// Column returns the data for a named column. The slice is shared with the
// table, not copied.
func (t *Table) Column(name string) ([]float64, error) {
	for i, n := range t.names {
		if n == name {
			return t.cols[i], nil
		}
	}
	return nil, fmt.Errorf("no column %q in table", name)
}

// ColumnAt returns the i-th column without copying.
func (t *Table) ColumnAt(i int) []float64 { return t.cols[i] }

// WriteCSV emits the table with a header row. Dates, when attached, lead
// each row in ISO form; NaN cells render as "NaN" and load back as missing.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := t.names
	if t.dates != nil {
		header = append([]string{"date"}, t.names...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for r := 0; r < t.Rows(); r++ {
		row := make([]string, 0, len(header))
		if t.dates != nil {
			row = append(row, t.dates[r].Format("2006-01-02"))
		}
		for _, col := range t.cols {
			row = append(row, formatCell(col[r]))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", r+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the table to a file, creating or truncating it.
func (t *Table) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := t.WriteCSV(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
