package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array element by element. Both channels
// are closed when decoding ends.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		dec := json.NewDecoder(r)
		dec.UseNumber()

		tok, err := dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			errCh <- eris.Errorf("json: expected array, got %v", tok)
			return
		}

		for dec.More() {
			var item T
			if err := dec.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}
			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// ReadJSONTable reads an array of flat objects. The header is the sorted
// union of object keys; numbers come back as float64 (or as their text when
// they overflow), nested values as JSON text.
func ReadJSONTable(ctx context.Context, r io.Reader) (*Table, error) {
	items, errs := DecodeJSONArray[map[string]any](ctx, r)

	var objects []map[string]any
	seen := make(map[string]bool)
	var header []string
	for obj := range items {
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
		objects = append(objects, obj)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	sort.Strings(header)

	t := &Table{Header: header, Rows: make([][]any, len(objects))}
	for i, obj := range objects {
		row := make([]any, len(header))
		for j, k := range header {
			row[j] = jsonCell(obj[k])
		}
		t.Rows[i] = row
	}
	return t, nil
}

func jsonCell(v any) any {
	switch c := v.(type) {
	case nil, string, bool:
		return c
	case json.Number:
		if f, err := c.Float64(); err == nil {
			return f
		}
		return c.String()
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return nil
		}
		return string(b)
	}
}
