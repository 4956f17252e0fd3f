// Package schema declares the named relations exchanged with the store and
// validates them at load time and before output.
package schema

import (
	"fmt"
	"strings"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
)

// Type is the semantic type of a field.
type Type string

const (
	String Type = "string"
	Number Type = "number"
	Bool   Type = "bool"
)

// Field is one declared column.
type Field struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Required bool   `json:"required"`
}

// Schema is the declared shape of a relation. Key lists the fields that
// must be unique together; empty means no uniqueness constraint.
type Schema struct {
	Name   string   `json:"name"`
	Fields []Field  `json:"fields"`
	Key    []string `json:"key,omitempty"`
}

// Columns returns the field names in declaration order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Rename returns a copy of s with a new relation name.
func (s Schema) Rename(name string) Schema {
	out := s
	out.Name = name
	out.Fields = append([]Field(nil), s.Fields...)
	out.Key = append([]string(nil), s.Key...)
	return out
}

// Row is one record keyed by field name. Number cells hold model.Value,
// float64, int64, raw strings or nil; String cells hold strings or nil.
type Row map[string]any

// String returns the cell as a trimmed label.
func (r Row) String(field string) string {
	return model.Label(r[field])
}

// Number coerces the cell to a Value. A *model.ParseError is returned
// alongside Missing when the cell holds unparseable text.
func (r Row) Number(field string) (model.Value, error) {
	v, err := model.Coerce(r[field])
	if err != nil {
		if pe, ok := err.(*model.ParseError); ok {
			pe.Field = field
		}
		return model.Missing, err
	}
	return v, nil
}

// Relation is a materialized table.
type Relation struct {
	Schema Schema
	Rows   []Row
}

// NewRelation creates an empty relation with the given schema.
func NewRelation(s Schema) *Relation {
	return &Relation{Schema: s}
}

// Name returns the relation name.
func (r *Relation) Name() string {
	return r.Schema.Name
}

// Len returns the number of rows.
func (r *Relation) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Append adds a row.
func (r *Relation) Append(row Row) {
	r.Rows = append(r.Rows, row)
}

// Records renders rows as positional cells in column order, ready for
// COPY or INSERT. Number cells become float64 or nil.
func (r *Relation) Records() [][]any {
	out := make([][]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make([]any, len(r.Schema.Fields))
		for i, f := range r.Schema.Fields {
			rec[i] = storageCell(f, row[f.Name])
		}
		out = append(out, rec)
	}
	return out
}

func storageCell(f Field, cell any) any {
	switch f.Type {
	case Number:
		v, err := model.Coerce(cell)
		if err != nil {
			return nil
		}
		return v.Any()
	case Bool:
		switch c := cell.(type) {
		case bool:
			return c
		case nil:
			return nil
		default:
			s := strings.ToLower(model.Label(c))
			return s == "1" || s == "true" || s == "t" || s == "y"
		}
	default:
		if cell == nil {
			return nil
		}
		return model.Label(cell)
	}
}

// ValidateHeader checks that every required field is present in the
// header of an incoming relation.
func (s Schema) ValidateHeader(header []string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	var missing []string
	for _, f := range s.Fields {
		if f.Required && !have[f.Name] {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return &model.SchemaViolationError{
			Relation: s.Name,
			Field:    strings.Join(missing, ", "),
			Reason:   "required field absent",
		}
	}
	return nil
}

// Validate enforces the output invariants: required fields hold a value
// in every row and key tuples are unique.
func (r *Relation) Validate() error {
	seen := make(map[string]struct{}, len(r.Rows))
	for i, row := range r.Rows {
		if field, blank := r.Schema.Blank(row); blank {
			return &model.SchemaViolationError{
				Relation: r.Schema.Name,
				Field:    field,
				Reason:   fmt.Sprintf("required field absent in row %d", i),
			}
		}
		if len(r.Schema.Key) == 0 {
			continue
		}
		key := r.Schema.KeyOf(row)
		if _, dup := seen[key]; dup {
			return &model.SchemaViolationError{
				Relation: r.Schema.Name,
				Key:      strings.ReplaceAll(key, keySep, "/"),
				Reason:   "duplicate key",
			}
		}
		seen[key] = struct{}{}
	}
	return nil
}

const keySep = "\x00"

// KeyOf returns the identity of row under the schema key. Parts are joined
// with NUL so values containing separators cannot collide.
func (s Schema) KeyOf(row Row) string {
	parts := make([]string, len(s.Key))
	for i, k := range s.Key {
		parts[i] = model.Label(row[k])
	}
	return strings.Join(parts, keySep)
}

// Blank reports the first required field that holds no value in row.
func (s Schema) Blank(row Row) (string, bool) {
	for _, f := range s.Fields {
		if f.Required && isAbsent(f, row[f.Name]) {
			return f.Name, true
		}
	}
	return "", false
}

func isAbsent(f Field, cell any) bool {
	if cell == nil {
		return true
	}
	switch f.Type {
	case Number:
		v, err := model.Coerce(cell)
		return err != nil || !v.Valid
	case String:
		return model.Label(cell) == ""
	}
	return false
}
