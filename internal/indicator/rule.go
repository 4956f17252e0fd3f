// Package indicator evaluates declarative threshold rules and weighted
// composites into derived indicators.
package indicator

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Covariate selects one of a rule's alternate tables by the value of a
// subject field, e.g. sex. Codes map raw values to table keys.
type Covariate struct {
	Field string            `yaml:"field" json:"field"`
	Codes map[string]string `yaml:"codes,omitempty" json:"codes,omitempty"`
}

// Component is one weighted term of a composite. The term is Weight times
// the points of the referenced indicator's category, or times its value
// when UseValue is set. Categories absent from Points score zero.
type Component struct {
	Indicator string             `yaml:"indicator" json:"indicator"`
	Weight    float64            `yaml:"weight,omitempty" json:"weight,omitempty"`
	Points    map[string]float64 `yaml:"points,omitempty" json:"points,omitempty"`
	UseValue  bool               `yaml:"use_value,omitempty" json:"use_value,omitempty"`
}

func (c Component) weight() float64 {
	if c.Weight == 0 {
		return 1
	}
	return c.Weight
}

// Rule is one indicator definition. A rule with Components is a composite
// over earlier indicators; otherwise it computes a value from Inputs and
// classifies it with Table, or with Tables[covariate] when a Covariate is set.
// A rule with no table yields a numeric value and an empty category.
type Rule struct {
	Name       string            `yaml:"name" json:"name"`
	Inputs     []string          `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Formula    *Formula          `yaml:"formula,omitempty" json:"formula,omitempty"`
	Table      *Table            `yaml:"table,omitempty" json:"table,omitempty"`
	Covariate  *Covariate        `yaml:"covariate,omitempty" json:"covariate,omitempty"`
	Tables     map[string]*Table `yaml:"tables,omitempty" json:"tables,omitempty"`
	Components []Component       `yaml:"components,omitempty" json:"components,omitempty"`
}

// IsComposite reports whether the rule combines other indicators.
func (r Rule) IsComposite() bool {
	return len(r.Components) > 0
}

func (r Rule) formula() Formula {
	if r.Formula == nil {
		return identity
	}
	return *r.Formula
}

// RuleSet is an ordered list of rules evaluated together.
type RuleSet struct {
	Name  string `yaml:"name" json:"name"`
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Validate checks the rule set and returns all problems at once.
func (s RuleSet) Validate() error {
	var errs []string
	defined := make(map[string]bool, len(s.Rules))

	for i, r := range s.Rules {
		where := fmt.Sprintf("rule %d", i)
		if r.Name == "" {
			errs = append(errs, where+": missing name")
		} else {
			where = "rule " + r.Name
			if defined[r.Name] {
				errs = append(errs, where+": duplicate name")
			}
		}

		if r.IsComposite() {
			errs = append(errs, r.validateComposite(where, defined)...)
		} else {
			errs = append(errs, r.validateSimple(where)...)
		}
		defined[r.Name] = true
	}

	if len(errs) > 0 {
		return eris.Errorf("indicator: invalid rule set %q: %s", s.Name, strings.Join(errs, "; "))
	}
	return nil
}

func (r Rule) validateSimple(where string) []string {
	var errs []string
	if len(r.Inputs) == 0 {
		errs = append(errs, where+": no inputs")
	}
	errs = append(errs, r.formula().validate(where, r.Inputs)...)

	switch {
	case r.Covariate != nil:
		if r.Covariate.Field == "" {
			errs = append(errs, where+": covariate without field")
		}
		if len(r.Tables) == 0 {
			errs = append(errs, where+": covariate without tables")
		}
		if r.Table != nil {
			errs = append(errs, where+": both table and covariate tables set")
		}
		for key, t := range r.Tables {
			if t == nil {
				errs = append(errs, fmt.Sprintf("%s: nil table for %q", where, key))
				continue
			}
			errs = append(errs, t.validate(fmt.Sprintf("%s[%s]", where, key))...)
		}
	case len(r.Tables) > 0:
		errs = append(errs, where+": tables set without covariate")
	case r.Table != nil:
		errs = append(errs, r.Table.validate(where)...)
	}
	return errs
}

func (r Rule) validateComposite(where string, defined map[string]bool) []string {
	var errs []string
	if len(r.Inputs) > 0 || r.Formula != nil || r.Covariate != nil {
		errs = append(errs, where+": composite cannot declare inputs, formula or covariate")
	}
	for _, c := range r.Components {
		if !defined[c.Indicator] {
			errs = append(errs, fmt.Sprintf("%s: component %q is not defined earlier", where, c.Indicator))
		}
		if c.UseValue && len(c.Points) > 0 {
			errs = append(errs, fmt.Sprintf("%s: component %q sets both points and use_value", where, c.Indicator))
		}
	}
	if r.Table != nil {
		errs = append(errs, r.Table.validate(where)...)
	}
	return errs
}
