package excel

import (
	"context"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gopade/domain/core"
	"gopade/domain/run"
	"gopade/domain/stats"
	"gopade/internal/errors"
	"gopade/ports"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectFileType(t *testing.T) {
	assert.Equal(t, FileTypeXLSX, DetectFileType("data.XLSX"))
	assert.Equal(t, FileTypeTSV, DetectFileType("data.tsv"))
	assert.Equal(t, FileTypeTSV, DetectFileType("data.txt"))
	assert.Equal(t, FileTypeCSV, DetectFileType("data.csv"))
	assert.Equal(t, FileTypeCSV, DetectFileType("data"))
}

func TestReadMatrix_CSV(t *testing.T) {
	path := writeFile(t, "m.csv", "gene,desc,c1,c2,t1,t2\n"+
		"g1,first,1,2,3,4\n"+
		"g2,second,5,NA,7,\"1,000\"\n"+
		",,,,,\n")
	r := NewDataReader(path)
	ctx := context.Background()

	headers, err := r.Headers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gene", "desc", "c1", "c2", "t1", "t2"}, headers)

	m, err := r.ReadMatrix(ctx, ports.ColumnLayout{
		FeatureIDColumn: "gene",
		SampleColumns:   []string{"t1", "c1", "t2", "c2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, m.FeatureIDs)
	assert.Equal(t, []string{"t1", "c1", "t2", "c2"}, m.SampleNames)
	assert.Equal(t, []float64{3, 1, 4, 2}, m.Rows[0])
	assert.Equal(t, 1000.0, m.Rows[1][2])
	assert.True(t, math.IsNaN(m.Rows[1][3]))
}

func TestReadMatrix_TSVWithoutIDColumn(t *testing.T) {
	path := writeFile(t, "m.tsv", "a\tb\n1.5\t2\n# comment\n3\t-4e-1\n")
	m, err := NewDataReader(path).ReadMatrix(context.Background(), ports.ColumnLayout{SampleColumns: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, m.FeatureIDs)
	assert.Equal(t, [][]float64{{1.5, 2}, {3, -0.4}}, m.Rows)
}

func TestReadMatrix_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]interface{}{
		{"id", "s1", "s2"},
		{"f1", 1.25, 2},
		{"f2", 3, 4},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	r := NewDataReader(path)
	assert.Equal(t, FileTypeXLSX, r.FileType())
	m, err := r.ReadMatrix(context.Background(), ports.ColumnLayout{FeatureIDColumn: "id", SampleColumns: []string{"s1", "s2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, m.FeatureIDs)
	assert.Equal(t, [][]float64{{1.25, 2}, {3, 4}}, m.Rows)
}

func TestReadMatrix_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := NewDataReader(filepath.Join(t.TempDir(), "nope.csv")).Headers(ctx)
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	})

	t.Run("header only", func(t *testing.T) {
		_, err := NewDataReader(writeFile(t, "h.csv", "a,b\n")).Headers(ctx)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	})

	path := writeFile(t, "m.csv", "id,a,b\nx,1,2\nx,3,oops\n")
	r := NewDataReader(path)

	t.Run("missing column", func(t *testing.T) {
		_, err := r.ReadMatrix(ctx, ports.ColumnLayout{SampleColumns: []string{"a", "c"}})
		assert.True(t, stderrors.Is(err, core.ErrDimensionMismatch))
	})

	t.Run("duplicate feature id", func(t *testing.T) {
		_, err := r.ReadMatrix(ctx, ports.ColumnLayout{FeatureIDColumn: "id", SampleColumns: []string{"a"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"x" repeated`)
	})

	t.Run("bad number", func(t *testing.T) {
		_, err := r.ReadMatrix(ctx, ports.ColumnLayout{SampleColumns: []string{"b"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oops")
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := r.Headers(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func testReport() *run.Report {
	return &run.Report{
		Features: []stats.FeatureResult{
			{FeatureID: "g1", Valid: true, Statistic: 12.5, PValue: 0.001, QValue: 0.02, Confidence: 0.98, Bin: 6, Level: 0.95, GroupMeans: []float64{1, 4}},
			{FeatureID: "g2", Reason: stats.ReasonZeroVariance, Statistic: math.NaN(), PValue: math.NaN(), QValue: math.NaN(), Confidence: math.NaN(), Bin: stats.NoResult, GroupMeans: []float64{2, 2}},
		},
	}
}

func TestReportRows(t *testing.T) {
	report := testReport()
	report.Design.Levels = []string{"control", "treated"}
	rows := ReportRows(report)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"feature_id", "statistic", "nominal_p_value", "q_value", "confidence", "level", "reason", "mean_control", "mean_treated"}, rows[0])
	assert.Equal(t, []string{"g1", "12.5", "0.001", "0.02", "0.98", "0.95", "", "1", "4"}, rows[1])
	assert.Equal(t, []string{"g2", "NA", "NA", "NA", "NA", "", "zero_variance", "2", "2"}, rows[2])
}

func TestWriteReport_ReadsBack(t *testing.T) {
	report := testReport()
	report.Design.Levels = []string{"control", "treated"}
	dir := t.TempDir()

	for _, name := range []string{"out.xlsx", "out.tsv", "out.csv"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteReport(path, report))

			m, err := NewDataReader(path).ReadMatrix(context.Background(), ports.ColumnLayout{
				FeatureIDColumn: "feature_id",
				SampleColumns:   []string{"q_value", "mean_treated"},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"g1", "g2"}, m.FeatureIDs)
			assert.Equal(t, []float64{0.02, 4}, m.Rows[0])
			assert.True(t, math.IsNaN(m.Rows[1][0]))
		})
	}
}
