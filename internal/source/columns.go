package source

import (
	"strings"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// normalizeCol folds a header name for matching: lowercase, trimmed,
// parentheses dropped, spaces and hyphens as underscores.
func normalizeCol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("(", "", ")", "", " ", "_", "-", "_").Replace(s)
	return s
}

// columnMap resolves declared fields to header positions. An explicit
// mapping (field -> header name) wins over normalized-name matching.
// Fields with no column are left out.
func columnMap(s schema.Schema, header []string, explicit map[string]string) map[string]int {
	byNorm := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeCol(h)
		if _, dup := byNorm[n]; !dup {
			byNorm[n] = i
		}
	}

	out := make(map[string]int, len(s.Fields))
	for _, f := range s.Fields {
		name := f.Name
		if alias, ok := lookupFold(explicit, f.Name); ok {
			name = alias
		}
		if i, ok := byNorm[normalizeCol(name)]; ok {
			out[f.Name] = i
		}
	}
	return out
}

// lookupFold finds key case-insensitively; viper lowercases map keys.
func lookupFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func presentFields(cols map[string]int) []string {
	out := make([]string, 0, len(cols))
	for f := range cols {
		out = append(out, f)
	}
	return out
}

// textCell renders a cell for a String field; blank is nil.
func textCell(cell any) any {
	s := model.Label(cell)
	if s == "" {
		return nil
	}
	return s
}

// numberCell coerces a cell for a Number field. Unparseable text is
// returned as Missing with the parse error.
func numberCell(field string, cell any) (model.Value, error) {
	v, err := model.Coerce(cell)
	if err != nil {
		if pe, ok := err.(*model.ParseError); ok {
			pe.Field = field
		}
		return model.Missing, err
	}
	return v, nil
}
