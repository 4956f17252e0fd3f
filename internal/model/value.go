package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is a nullable number. The zero Value is missing.
type Value struct {
	V     float64
	Valid bool
}

// Missing is the uniform missing-value sentinel.
var Missing = Value{}

// Num wraps f as a present Value. NaN and infinities are treated as missing.
func Num(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Missing
	}
	return Value{V: f, Valid: true}
}

// Float returns the number and whether it is present.
func (v Value) Float() (float64, bool) {
	return v.V, v.Valid
}

// Any returns nil for a missing value and the float64 otherwise.
func (v Value) Any() any {
	if !v.Valid {
		return nil
	}
	return v.V
}

func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.V, 'f', -1, 64)
}

// MarshalJSON encodes a missing value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// UnmarshalJSON decodes null as missing.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Missing
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Num(f)
	return nil
}

// missingTokens are raw cell contents that mean "no value recorded".
var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
}

// ParseNumber coerces raw cell text to a Value. Blank cells and common
// null tokens are missing without error. A decimal comma is accepted
// ("1234,5", "1.234,5"). Anything else that fails to parse returns a
// *ParseError alongside Missing.
func ParseNumber(raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if missingTokens[strings.ToLower(s)] {
		return Missing, nil
	}

	if strings.Contains(s, ",") {
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Missing, &ParseError{Raw: raw}
	}
	return Num(f), nil
}

// Coerce converts a relation cell to a Value. Cells already typed as
// numbers pass through; strings go through ParseNumber.
func Coerce(cell any) (Value, error) {
	switch c := cell.(type) {
	case nil:
		return Missing, nil
	case Value:
		return c, nil
	case float64:
		return Num(c), nil
	case float32:
		return Num(float64(c)), nil
	case int:
		return Num(float64(c)), nil
	case int32:
		return Num(float64(c)), nil
	case int64:
		return Num(float64(c)), nil
	case string:
		return ParseNumber(c)
	case []byte:
		return ParseNumber(string(c))
	default:
		return Missing, &ParseError{Raw: strings.TrimSpace(toText(c))}
	}
}

// Label renders a cell as a category label. Numeric cells use their
// shortest decimal form, so a sex code stored as 1.0 renders as "1".
func Label(cell any) string {
	switch c := cell.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(c)
	case []byte:
		return strings.TrimSpace(string(c))
	case Value:
		return c.String()
	case float64:
		return Num(c).String()
	case float32:
		return Num(float64(c)).String()
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	default:
		return toText(c)
	}
}

func toText(c any) string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}
