package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
}

const utf8BOM = "\ufeff"

// ReadCSV parses a delimited file whose first row is the header. A leading
// UTF-8 byte order mark is dropped, header names are trimmed and rows may
// be ragged. Cells are kept as raw strings.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) (*Table, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	t := &Table{Header: header}
	for line := 2; ; line++ {
		if line%4096 == 0 && ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row %d", line)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = cell
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
