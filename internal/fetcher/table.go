package fetcher

import (
	"path/filepath"
	"strings"
)

// Table is a parsed snapshot: a header and positional rows. CSV cells are
// strings; XLSX and JSON cells may also be float64, bool or nil.
type Table struct {
	Header []string
	Rows   [][]any
}

// Cell returns row i, column j, or nil when the row is short.
func (t *Table) Cell(i, j int) any {
	row := t.Rows[i]
	if j < 0 || j >= len(row) {
		return nil
	}
	return row[j]
}

// Format names a snapshot file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DetectFormat returns the explicit format when set, else infers it from
// the file extension. Unrecognized extensions read as CSV.
func DetectFormat(explicit, path string) Format {
	if explicit != "" {
		return Format(strings.ToLower(explicit))
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return FormatTSV
	case ".xlsx":
		return FormatXLSX
	case ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}
