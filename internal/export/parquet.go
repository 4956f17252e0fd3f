// Package export writes stored relations as Parquet files.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/schema"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

// File describes one exported relation.
type File struct {
	Relation string `json:"relation"`
	Path     string `json:"path"`
	Rows     int64  `json:"rows"`
}

// SchemaJSON renders a relation schema as a parquet-go JSON schema. Every
// column is optional so missing values survive as nulls.
func SchemaJSON(s schema.Schema) string {
	fields := make([]map[string]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", f.Name, physicalType(f.Type)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func physicalType(t schema.Type) string {
	switch t {
	case schema.Number:
		return "type=DOUBLE"
	case schema.Bool:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// Write encodes rel as Parquet to w and returns the number of rows written.
func Write(rel *schema.Relation, w io.Writer) (int64, error) {
	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(SchemaJSON(rel.Schema), pfw, 4)
	if err != nil {
		return 0, eris.Wrapf(err, "export: parquet writer for %s", rel.Name())
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	cols := rel.Schema.Columns()
	var rows int64
	for _, rec := range rel.Records() {
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			obj[c] = rec[i]
		}
		line, err := json.Marshal(obj)
		if err != nil {
			_ = pw.WriteStop()
			return rows, eris.Wrapf(err, "export: encode %s row %d", rel.Name(), rows)
		}
		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			return rows, eris.Wrapf(err, "export: write %s row %d", rel.Name(), rows)
		}
		rows++
	}
	if err := pw.WriteStop(); err != nil {
		return rows, eris.Wrapf(err, "export: finish %s", rel.Name())
	}
	return rows, nil
}

// WriteFile writes rel to path, replacing any existing file only once the
// new one is complete.
func WriteFile(rel *schema.Relation, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrapf(err, "export: mkdir %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return 0, eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	rows, err := Write(rel, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = eris.Wrap(cerr, "export: close temp file")
	}
	if err != nil {
		return rows, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return rows, eris.Wrapf(err, "export: rename to %s", path)
	}
	return rows, nil
}

// Relations exports the named relations, or every stored relation when
// names is empty, to <dir>/<relation>.parquet.
func Relations(ctx context.Context, st store.Store, dir string, names []string) ([]File, error) {
	log := zap.L().With(zap.String("component", "export"))

	infos, err := st.ListRelations(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.RelationInfo, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}
	if len(names) == 0 {
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}

	out := make([]File, 0, len(names))
	for _, name := range names {
		info, ok := byName[name]
		if !ok {
			return out, eris.Errorf("export: relation %q not in store", name)
		}
		rel, err := st.ReadRelation(ctx, info.Schema, 0)
		if err != nil {
			return out, err
		}
		path := filepath.Join(dir, name+".parquet")
		rows, err := WriteFile(rel, path)
		if err != nil {
			return out, err
		}
		log.Info("relation exported", zap.String("relation", name), zap.String("path", path), zap.Int64("rows", rows))
		out = append(out, File{Relation: name, Path: path, Rows: rows})
	}
	return out, nil
}
