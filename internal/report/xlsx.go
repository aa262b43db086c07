// Package report renders design-event estimates to XLSX workbooks.
//
// A workbook carries a summary sheet of the selected events plus, per
// return period, one sheet for the composite isoline and one for the
// sampled ensemble. Synthetic closure anchors are omitted from the
// isoline sheet; they bound the exceedance region but are not part of
// the traced boundary.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/driftline/compex/internal/design"
	"github.com/driftline/compex/internal/isoline"
)

// SummarySheet is the name of the workbook's leading sheet.
const SummarySheet = "Design Events"

// Run is one design-event estimate to be rendered, labeled with the
// physical variable names and the return period it was traced for.
type Run struct {
	XName        string
	YName        string
	ReturnPeriod float64
	Result       design.Result
}

// Workbook builds an XLSX workbook from one or more design runs. The
// caller owns the returned file and should Close it when done.
func Workbook(runs []Run) (*excelize.File, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("report: no design runs to render")
	}
	xName, yName := axisNames(runs[0])

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return nil, fmt.Errorf("name summary sheet: %w", err)
	}

	summary := [][]any{{"Return period (years)", "Event", xName, yName, "Density"}}
	seen := make(map[string]bool, len(runs))
	for _, run := range runs {
		label := formatRP(run.ReturnPeriod)
		if seen[label] {
			return nil, fmt.Errorf("report: duplicate return period %s", label)
		}
		seen[label] = true

		ml, fd := run.Result.MostLikely, run.Result.FullDependence
		summary = append(summary,
			[]any{run.ReturnPeriod, "most likely", ml.X, ml.Y, ml.Density},
			[]any{run.ReturnPeriod, "full dependence", fd.X, fd.Y, fd.Density},
		)

		if err := addIsolineSheet(f, run, label); err != nil {
			return nil, err
		}
		if err := addEnsembleSheet(f, run, label); err != nil {
			return nil, err
		}
	}
	if err := writeRows(f, SummarySheet, summary); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteXLSX renders the runs and saves the workbook at path.
func WriteXLSX(path string, runs []Run) error {
	f, err := Workbook(runs)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save design report: %w", err)
	}
	return nil
}

// Write renders the runs and streams the workbook to w.
func Write(w io.Writer, runs []Run) error {
	f, err := Workbook(runs)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("stream design report: %w", err)
	}
	return nil
}

func addIsolineSheet(f *excelize.File, run Run, label string) error {
	xName, yName := axisNames(run)
	sheet := "Isoline T" + label
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}
	rows := [][]any{{xName, yName, "Source"}}
	iso := run.Result.Isoline
	for i := 0; i < iso.Len(); i++ {
		if iso.Source[i] == isoline.SourceSynthetic {
			continue
		}
		rows = append(rows, []any{iso.X[i], iso.Y[i], iso.Source[i].String()})
	}
	return writeRows(f, sheet, rows)
}

func addEnsembleSheet(f *excelize.File, run Run, label string) error {
	xName, yName := axisNames(run)
	sheet := "Ensemble T" + label
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}
	rows := [][]any{{xName, yName, "Density"}}
	for _, ev := range run.Result.Ensemble {
		rows = append(rows, []any{ev.X, ev.Y, ev.Density})
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("address %s row %d: %w", sheet, i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func axisNames(run Run) (string, string) {
	x, y := run.XName, run.YName
	if x == "" {
		x = "x"
	}
	if y == "" {
		y = "y"
	}
	return x, y
}

func formatRP(rp float64) string {
	return strconv.FormatFloat(rp, 'g', -1, 64)
}
