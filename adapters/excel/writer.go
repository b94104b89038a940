package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"gopade/domain/run"
	"gopade/internal/errors"
)

const resultsSheet = "Results"

// ReportRows renders the per-feature results as a header row followed by
// one row per feature, in matrix order.
func ReportRows(report *run.Report) [][]string {
	header := []string{"feature_id", "statistic", "nominal_p_value", "q_value", "confidence", "level", "reason"}
	for _, lvl := range report.Design.Levels {
		header = append(header, "mean_"+lvl)
	}
	rows := [][]string{header}
	for _, f := range report.Features {
		level := ""
		if f.Bin > 0 {
			level = formatFloat(f.Level)
		}
		row := []string{
			f.FeatureID,
			formatFloat(f.Statistic),
			formatFloat(f.PValue),
			formatFloat(f.QValue),
			formatFloat(f.Confidence),
			level,
			string(f.Reason),
		}
		for i := range report.Design.Levels {
			m := math.NaN()
			if i < len(f.GroupMeans) {
				m = f.GroupMeans[i]
			}
			row = append(row, formatFloat(m))
		}
		rows = append(rows, row)
	}
	return rows
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 8, 64)
}

// WriteReport writes the results table to path as xlsx, csv or
// tab-separated text depending on the extension.
func WriteReport(path string, report *run.Report) error {
	rows := ReportRows(report)
	switch DetectFileType(path) {
	case FileTypeXLSX:
		return writeExcel(path, rows)
	case FileTypeCSV:
		return writeDelimited(path, rows, ',')
	}
	return writeDelimited(path, rows, '\t')
}

func writeExcel(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return errors.Wrap(err, "failed to name results sheet")
	}
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, c := range row {
			if v, err := strconv.ParseFloat(c, 64); err == nil && i > 0 && j > 0 {
				cells[j] = v
			} else {
				cells[j] = c
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &cells); err != nil {
			return errors.Wrapf(err, "failed to write row %d", i+1)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, "failed to save results workbook")
	}
	return nil
}

func writeDelimited(path string, rows [][]string, comma rune) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create results file")
	}
	w := csv.NewWriter(file)
	w.Comma = comma
	if err := w.WriteAll(rows); err != nil {
		file.Close()
		return errors.Wrap(err, "failed to write results")
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
