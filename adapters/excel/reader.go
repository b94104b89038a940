package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"gopade/domain/core"
	"gopade/domain/matrix"
	"gopade/internal"
	"gopade/internal/errors"
	"gopade/ports"
)

// missing cell spellings read as NaN; the engine excludes such features.
var missingValues = map[string]bool{
	"": true, "na": true, "nan": true, "null": true, "n/a": true, "#n/a": true,
}

// DataReader reads a feature-by-sample table from .xlsx, .csv or .tsv.
// The file is read once and cached.
type DataReader struct {
	filePath string
	fileType FileType
	sheet    string
	logger   *internal.Logger

	once  sync.Once
	table *Table
	err   error
}

var _ ports.MatrixReader = (*DataReader)(nil)

// Option configures a DataReader.
type Option func(*DataReader)

// WithSheet reads the named worksheet instead of the first one.
func WithSheet(name string) Option { return func(r *DataReader) { r.sheet = name } }

// WithLogger sets the logger.
func WithLogger(l *internal.Logger) Option { return func(r *DataReader) { r.logger = l } }

// NewDataReader creates a reader, choosing the format from the extension.
// Unknown extensions are read as csv.
func NewDataReader(filePath string, opts ...Option) *DataReader {
	r := &DataReader{filePath: filePath, fileType: DetectFileType(filePath), logger: internal.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DetectFileType maps a file extension to its format.
func DetectFileType(path string) FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FileTypeXLSX
	case ".tsv", ".tab", ".txt":
		return FileTypeTSV
	}
	return FileTypeCSV
}

// FileType returns the detected input format.
func (r *DataReader) FileType() FileType { return r.fileType }

// ReadData returns the raw table.
func (r *DataReader) ReadData(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.once.Do(func() {
		r.table, r.err = r.read()
	})
	return r.table, r.err
}

func (r *DataReader) read() (*Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("%s file %s", strings.ToUpper(string(r.fileType)), r.filePath))
	}
	start := time.Now()
	var (
		rows [][]string
		err  error
	)
	switch r.fileType {
	case FileTypeXLSX:
		rows, err = r.readExcelRows()
	case FileTypeTSV:
		rows, err = r.readDelimitedRows('\t')
	default:
		rows, err = r.readDelimitedRows(',')
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s must have a header row and at least one data row", r.filePath))
	}
	t := processRows(rows)
	r.logger.Debug("[excel] read %s in %.2fms (%d columns, %d rows)",
		r.filePath, float64(time.Since(start).Nanoseconds())/1e6, len(t.Headers), len(t.Rows))
	return t, nil
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Excel file")
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %q", sheet)
	}
	return rows, nil
}

func (r *DataReader) readDelimitedRows(comma rune) ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse input file")
	}
	return rows, nil
}

// processRows trims cells and drops blank trailing rows.
func processRows(rows [][]string) *Table {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	t := &Table{Headers: headers}
	for _, row := range rows[1:] {
		cells := make([]string, len(headers))
		blank := true
		for j := range headers {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
			if cells[j] != "" {
				blank = false
			}
		}
		if !blank {
			t.Rows = append(t.Rows, cells)
		}
	}
	return t
}

// Headers returns the column names.
func (r *DataReader) Headers(ctx context.Context) ([]string, error) {
	t, err := r.ReadData(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.Headers...), nil
}

// ReadMatrix builds the matrix for layout. Columns outside the layout are
// ignored; missing cells become NaN.
func (r *DataReader) ReadMatrix(ctx context.Context, layout ports.ColumnLayout) (*matrix.Matrix, error) {
	t, err := r.ReadData(ctx)
	if err != nil {
		return nil, err
	}
	return TableMatrix(t, layout)
}

// TableMatrix converts a raw table into a matrix.
func TableMatrix(t *Table, layout ports.ColumnLayout) (*matrix.Matrix, error) {
	index := make(map[string]int, len(t.Headers))
	for i, h := range t.Headers {
		if _, dup := index[h]; dup {
			return nil, errors.InvalidInput(fmt.Sprintf("duplicate column header %q", h))
		}
		index[h] = i
	}

	idCol := -1
	if layout.FeatureIDColumn != "" {
		i, ok := index[layout.FeatureIDColumn]
		if !ok {
			return nil, fmt.Errorf("%w: feature id column %q not in input", core.ErrDimensionMismatch, layout.FeatureIDColumn)
		}
		idCol = i
	}
	if len(layout.SampleColumns) == 0 {
		return nil, errors.InvalidInput("no sample columns selected")
	}
	cols := make([]int, len(layout.SampleColumns))
	for j, name := range layout.SampleColumns {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: sample column %q not in input", core.ErrDimensionMismatch, name)
		}
		cols[j] = i
	}

	ids := make([]string, len(t.Rows))
	rows := make([][]float64, len(t.Rows))
	seen := make(map[string]int, len(t.Rows))
	for f, cells := range t.Rows {
		id := strconv.Itoa(f + 1)
		if idCol >= 0 {
			id = cells[idCol]
		}
		if prev, dup := seen[id]; dup {
			return nil, errors.InvalidInput(fmt.Sprintf("feature id %q repeated on rows %d and %d", id, prev+2, f+2))
		}
		seen[id] = f
		ids[f] = id

		row := make([]float64, len(cols))
		for j, c := range cols {
			v, err := parseValue(cells[c])
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("row %d column %q: %v", f+2, layout.SampleColumns[j], err))
			}
			row[j] = v
		}
		rows[f] = row
	}
	return matrix.New(ids, layout.SampleColumns, rows)
}

func parseValue(s string) (float64, error) {
	if missingValues[strings.ToLower(s)] {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}
