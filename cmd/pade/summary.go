package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"gopade/domain/run"
	"gopade/domain/stats"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// topFeatures returns up to n valid features, most confident first.
func topFeatures(report *run.Report, n int) []stats.FeatureResult {
	var valid []stats.FeatureResult
	for _, f := range report.Features {
		if f.Valid {
			valid = append(valid, f)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].QValue != valid[j].QValue {
			return valid[i].QValue < valid[j].QValue
		}
		return valid[i].Magnitude > valid[j].Magnitude
	})
	if len(valid) > n {
		valid = valid[:n]
	}
	return valid
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

// renderSummary prints the run header, the per-level counts and the top
// features. Terminals get styled tables; pipes get tab-separated text.
func renderSummary(w io.Writer, report *run.Report, top int) error {
	var b strings.Builder
	exact := "sampled"
	if report.Resampling.Exact {
		exact = "exact"
	}
	fmt.Fprintf(&b, "run %s: %s, %s %s, %d iterations (%s), %d features, %d excluded\n",
		report.Manifest.RunID, report.Config.Statistic, exact, report.Resampling.Mode,
		report.Resampling.Iterations, report.Resampling.Retention, len(report.Features), report.Excluded)
	for _, warn := range report.Warnings {
		fmt.Fprintf(&b, "warning: %s: %s\n", warn.Kind, warn.Message)
	}

	levelRows := make([][]string, 0, len(report.LevelCounts))
	for _, lc := range report.LevelCounts {
		levelRows = append(levelRows, []string{fmtFloat(lc.Level), strconv.Itoa(lc.Count)})
	}
	var featureRows [][]string
	for _, f := range topFeatures(report, top) {
		featureRows = append(featureRows, []string{
			f.FeatureID, fmtFloat(f.Statistic), fmtFloat(f.QValue), fmtFloat(f.Confidence), fmtFloat(f.PValue),
		})
	}
	levelHeaders := []string{"confidence", "features"}
	featureHeaders := []string{"feature", "statistic", "q", "confidence", "nominal p"}

	if !isTerminal(w) {
		writeTSV(&b, levelHeaders, levelRows)
		if len(featureRows) > 0 {
			b.WriteString("\n")
			writeTSV(&b, featureHeaders, featureRows)
		}
		_, err := io.WriteString(w, b.String())
		return err
	}

	r := lipgloss.NewRenderer(w)
	headerStyle := r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := r.NewStyle().Padding(0, 1)
	style := func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return cellStyle
	}
	b.WriteString(table.New().Border(lipgloss.RoundedBorder()).StyleFunc(style).
		Headers(levelHeaders...).Rows(levelRows...).String())
	b.WriteString("\n")
	if len(featureRows) > 0 {
		b.WriteString(table.New().Border(lipgloss.RoundedBorder()).StyleFunc(style).
			Headers(featureHeaders...).Rows(featureRows...).String())
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeTSV(b *strings.Builder, headers []string, rows [][]string) {
	b.WriteString(strings.Join(headers, "\t"))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
}
