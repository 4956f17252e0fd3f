package indicator

import (
	"fmt"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
)

// Closed says which end of each band includes its bound.
type Closed string

const (
	// ClosedLower bands are [lower, upper): a value equal to a bound
	// belongs to the band that starts there.
	ClosedLower Closed = "lower"
	// ClosedUpper bands are (lower, upper], for rules stated as "> x".
	ClosedUpper Closed = "upper"
)

// Band is one category of a threshold table. A nil Upper is unbounded.
type Band struct {
	Upper *float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
	Label string   `yaml:"label" json:"label"`
}

// Table is an ordered partition of the real line into labeled bands.
// Bands are listed by increasing upper bound; the last band is unbounded,
// so every value falls in exactly one band.
type Table struct {
	Closed Closed `yaml:"closed,omitempty" json:"closed,omitempty"`
	Bands  []Band `yaml:"bands" json:"bands"`
}

// Classify returns the label of the band containing v.
func (t *Table) Classify(v float64) string {
	for _, b := range t.Bands {
		if b.Upper == nil {
			return b.Label
		}
		if t.Closed == ClosedUpper {
			if v <= *b.Upper {
				return b.Label
			}
		} else if v < *b.Upper {
			return b.Label
		}
	}
	return t.Bands[len(t.Bands)-1].Label
}

func (t *Table) validate(where string) []string {
	var errs []string
	if t.Closed != "" && t.Closed != ClosedLower && t.Closed != ClosedUpper {
		errs = append(errs, fmt.Sprintf("%s: unknown closed side %q", where, t.Closed))
	}
	if len(t.Bands) == 0 {
		return append(errs, where+": table has no bands")
	}
	for i, b := range t.Bands {
		last := i == len(t.Bands)-1
		switch {
		case b.Label == "":
			errs = append(errs, fmt.Sprintf("%s: band %d has no label", where, i))
		case b.Label == model.UnknownCategory:
			errs = append(errs, fmt.Sprintf("%s: band %d uses reserved label %q", where, i, model.UnknownCategory))
		}
		if last && b.Upper != nil {
			errs = append(errs, where+": last band must be unbounded")
		}
		if !last && b.Upper == nil {
			errs = append(errs, fmt.Sprintf("%s: band %d is unbounded but not last", where, i))
		}
		if i > 0 && b.Upper != nil && t.Bands[i-1].Upper != nil && *b.Upper <= *t.Bands[i-1].Upper {
			errs = append(errs, fmt.Sprintf("%s: band %d bound %g does not increase", where, i, *b.Upper))
		}
	}
	return errs
}

// bands builds a table from alternating labels and upper bounds:
// bands(ClosedLower, "Low", 40, "Normal", 60, "High").
func bands(closed Closed, labelsAndBounds ...any) *Table {
	t := &Table{Closed: closed}
	for i := 0; i < len(labelsAndBounds); i += 2 {
		b := Band{Label: labelsAndBounds[i].(string)}
		if i+1 < len(labelsAndBounds) {
			u := toFloat(labelsAndBounds[i+1])
			b.Upper = &u
		}
		t.Bands = append(t.Bands, b)
	}
	return t
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		panic(fmt.Sprintf("indicator: bad band bound %v", v))
	}
}
