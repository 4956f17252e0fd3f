package indicator

import (
	"fmt"
	"math"
)

// Formula ops.
const (
	OpValue    = "value"
	OpRatio    = "ratio"
	OpProduct  = "product"
	OpLinear   = "linear"
	OpQuotient = "quotient"
)

// Guard restricts an input to a validity window. The formula is not
// computed when an input is at or above Below, or under AtLeast.
type Guard struct {
	Input   string   `yaml:"input" json:"input"`
	Below   *float64 `yaml:"below,omitempty" json:"below,omitempty"`
	AtLeast *float64 `yaml:"at_least,omitempty" json:"at_least,omitempty"`
}

// Formula derives one number from a rule's inputs:
//
//	value:   x0
//	ratio:   x0 / x1 (zero divisor is missing)
//	product: x0 * x1 * ...
//	linear:   c0*x0 + c1*x1 + ...
//	quotient: (c0*x0 + c1*x1 + ...) / (d0*x0 + d1*x1 + ... + Offset)
//
// A zero quotient denominator is missing. The result is then multiplied by
// Scale and divided by Divisor.
type Formula struct {
	Op           string    `yaml:"op" json:"op"`
	Scale        float64   `yaml:"scale,omitempty" json:"scale,omitempty"`
	Divisor      float64   `yaml:"divisor,omitempty" json:"divisor,omitempty"`
	Coefficients []float64 `yaml:"coefficients,omitempty" json:"coefficients,omitempty"`
	Denominator  []float64 `yaml:"denominator,omitempty" json:"denominator,omitempty"`
	Offset       float64   `yaml:"offset,omitempty" json:"offset,omitempty"`
	Guards       []Guard   `yaml:"guards,omitempty" json:"guards,omitempty"`
}

var identity = Formula{Op: OpValue}

func (f Formula) validate(where string, inputs []string) []string {
	var errs []string
	switch f.Op {
	case OpValue:
		if len(inputs) != 1 {
			errs = append(errs, fmt.Sprintf("%s: op value needs 1 input, got %d", where, len(inputs)))
		}
	case OpRatio:
		if len(inputs) != 2 {
			errs = append(errs, fmt.Sprintf("%s: op ratio needs 2 inputs, got %d", where, len(inputs)))
		}
	case OpProduct:
		if len(inputs) < 2 {
			errs = append(errs, fmt.Sprintf("%s: op product needs at least 2 inputs", where))
		}
	case OpLinear:
		if len(f.Coefficients) != len(inputs) {
			errs = append(errs, fmt.Sprintf("%s: op linear has %d coefficients for %d inputs", where, len(f.Coefficients), len(inputs)))
		}
	case OpQuotient:
		if len(f.Coefficients) != len(inputs) || len(f.Denominator) != len(inputs) {
			errs = append(errs, fmt.Sprintf("%s: op quotient needs %d coefficients and %d denominator terms, got %d and %d",
				where, len(inputs), len(inputs), len(f.Coefficients), len(f.Denominator)))
		}
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown formula op %q", where, f.Op))
	}
	for _, g := range f.Guards {
		if indexOf(inputs, g.Input) < 0 {
			errs = append(errs, fmt.Sprintf("%s: guard on %q which is not an input", where, g.Input))
		}
	}
	return errs
}

// apply evaluates the formula. ok is false when a guard fails, a divisor
// is zero or the result is not finite.
func (f Formula) apply(inputs []string, vals []float64) (float64, bool) {
	for _, g := range f.Guards {
		v := vals[indexOf(inputs, g.Input)]
		if g.Below != nil && v >= *g.Below {
			return 0, false
		}
		if g.AtLeast != nil && v < *g.AtLeast {
			return 0, false
		}
	}

	var out float64
	switch f.Op {
	case OpRatio:
		if vals[1] == 0 {
			return 0, false
		}
		out = vals[0] / vals[1]
	case OpProduct:
		out = 1
		for _, v := range vals {
			out *= v
		}
	case OpLinear:
		out = dot(f.Coefficients, vals)
	case OpQuotient:
		den := dot(f.Denominator, vals) + f.Offset
		if den == 0 {
			return 0, false
		}
		out = dot(f.Coefficients, vals) / den
	default:
		out = vals[0]
	}

	if f.Scale != 0 {
		out *= f.Scale
	}
	if f.Divisor != 0 {
		out /= f.Divisor
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

func dot(coef, vals []float64) float64 {
	var out float64
	for i, v := range vals {
		out += coef[i] * v
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
