package excel

// Table is the raw content of an input file: trimmed headers and the
// string cells of every data row.
type Table struct {
	Headers []string
	Rows    [][]string
}

// FileType is the detected input format.
type FileType string

const (
	FileTypeXLSX FileType = "xlsx"
	FileTypeCSV  FileType = "csv"
	FileTypeTSV  FileType = "tsv"
)
