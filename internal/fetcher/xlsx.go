package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures ReadXLSX.
type XLSXOptions struct {
	SheetName string // default: first sheet
	SkipRows  int    // rows above the header
}

// ReadXLSX reads one sheet. The first row after SkipRows is the header;
// numeric cells come back as float64 and blank cells as nil.
func ReadXLSX(path string, opts XLSXOptions) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	sheet, err := pickSheet(f, opts.SheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) <= opts.SkipRows {
		return nil, eris.Errorf("xlsx: sheet %q has no header row", sheet.Name)
	}

	hdr := sheet.Rows[opts.SkipRows]
	t := &Table{Header: make([]string, len(hdr.Cells))}
	for i, c := range hdr.Cells {
		t.Header[i] = strings.TrimSpace(c.String())
	}

	for _, row := range sheet.Rows[opts.SkipRows+1:] {
		if row == nil {
			continue
		}
		cells := make([]any, len(row.Cells))
		blank := true
		for j, c := range row.Cells {
			cells[j] = cellValue(c)
			if cells[j] != nil {
				blank = false
			}
		}
		if !blank {
			t.Rows = append(t.Rows, cells)
		}
	}
	return t, nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func cellValue(c *xlsx.Cell) any {
	if c == nil {
		return nil
	}
	if c.Type() == xlsx.CellTypeNumeric {
		if v, err := c.Float(); err == nil {
			return v
		}
	}
	s := strings.TrimSpace(c.String())
	if s == "" {
		return nil
	}
	return s
}
