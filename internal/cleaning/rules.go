// Package cleaning applies a declarative per-attribute rule table to loaded
// relations: numeric coercion, plausible ranges, survey missing codes,
// label recoding and IQR outlier fences.
package cleaning

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Layout says where a relation keeps its attribute values.
type Layout string

const (
	// Wide relations hold one column per attribute.
	Wide Layout = "wide"
	// Long relations hold (attribute_id, value) pairs.
	Long Layout = "long"
)

// AnyAttribute is the rule key that applies to attributes without their own rule.
const AnyAttribute = "*"

// Rule constrains one attribute. For wide relations Attribute is a column
// name; for long relations it is an attribute id.
type Rule struct {
	Attribute    string            `yaml:"attribute"`
	Min          *float64          `yaml:"min,omitempty"`
	Max          *float64          `yaml:"max,omitempty"`
	MinExclusive bool              `yaml:"min_exclusive,omitempty"`
	MissingCodes []float64         `yaml:"missing_codes,omitempty"`
	Codes        map[string]string `yaml:"codes,omitempty"`
	IQRFactor    float64           `yaml:"iqr_factor,omitempty"`
	GroupBy      string            `yaml:"group_by,omitempty"`
}

func (r Rule) inRange(v float64) bool {
	if r.Min != nil {
		if r.MinExclusive && v <= *r.Min {
			return false
		}
		if !r.MinExclusive && v < *r.Min {
			return false
		}
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r Rule) isMissingCode(v float64) bool {
	for _, c := range r.MissingCodes {
		if v == c {
			return true
		}
	}
	return false
}

// Table is the rule set for one relation.
type Table struct {
	Relation       string `yaml:"relation"`
	Layout         Layout `yaml:"layout"`
	EntityField    string `yaml:"entity_field,omitempty"`
	AttributeField string `yaml:"attribute_field,omitempty"`
	ValueField     string `yaml:"value_field,omitempty"`
	Rules          []Rule `yaml:"rules"`
}

// rulesFile is the on-disk shape of a cleaning rules file.
type rulesFile struct {
	Tables []Table `yaml:"tables"`
}

// LoadTables reads rule tables from a YAML file.
func LoadTables(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cleaning: read rules file %s", path)
	}
	return ParseTables(data)
}

// ParseTables decodes rule tables from YAML.
func ParseTables(data []byte) ([]Table, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "cleaning: parse rules yaml")
	}
	return f.Tables, nil
}

func (t *Table) applyDefaults() {
	if t.Layout == "" {
		t.Layout = Wide
	}
	if t.EntityField == "" {
		t.EntityField = "entity_id"
	}
	if t.Layout == Long {
		if t.AttributeField == "" {
			t.AttributeField = "attribute_id"
		}
		if t.ValueField == "" {
			t.ValueField = "value"
		}
	}
}

func (t Table) validate() []string {
	var errs []string
	if t.Relation == "" {
		errs = append(errs, "table has no relation name")
	}
	if t.Layout != Wide && t.Layout != Long {
		errs = append(errs, "table "+t.Relation+": unknown layout "+string(t.Layout))
	}
	seen := make(map[string]bool, len(t.Rules))
	for _, r := range t.Rules {
		key := ruleKey(t.Layout, r.Attribute)
		if r.Attribute == "" {
			errs = append(errs, "table "+t.Relation+": rule without attribute")
			continue
		}
		if seen[key] {
			errs = append(errs, "table "+t.Relation+": duplicate rule for "+r.Attribute)
		}
		seen[key] = true
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			errs = append(errs, "table "+t.Relation+": rule "+r.Attribute+" has min > max")
		}
		if r.IQRFactor < 0 {
			errs = append(errs, "table "+t.Relation+": rule "+r.Attribute+" has negative iqr_factor")
		}
	}
	return errs
}

// ruleKey folds long-layout attribute ids so "LBXGH" and "lbxgh" match.
func ruleKey(layout Layout, attr string) string {
	if layout == Long {
		return strings.ToLower(strings.TrimSpace(attr))
	}
	return strings.TrimSpace(attr)
}

func ptr(f float64) *float64 { return &f }

// DefaultTables returns the plausibility rules used when no rules file is configured.
func DefaultTables() []Table {
	return []Table{
		{
			Relation: "clinical_measurements",
			Layout:   Long,
			Rules: []Rule{
				{Attribute: "LBXGH", Min: ptr(3), Max: ptr(18)},
				{Attribute: "LBXGLU", Min: ptr(40), Max: ptr(600)},
				{Attribute: "LBXTC", Min: ptr(100), Max: ptr(500)},
				{Attribute: "BMXBMI", Min: ptr(12), Max: ptr(70)},
				{Attribute: "BMXWAIST", Min: ptr(40), Max: ptr(200)},
				{Attribute: "BMXWT", Min: ptr(20), Max: ptr(300)},
				{Attribute: "BMXHT", Min: ptr(100), Max: ptr(230)},
				{Attribute: "RIAGENDR", MissingCodes: []float64{7, 9}},
			},
		},
		{
			Relation: "nutrient_measurements",
			Layout:   Long,
			Rules: []Rule{
				{Attribute: AnyAttribute, Min: ptr(0)},
			},
		},
		{
			Relation: "price_catalog",
			Layout:   Wide,
			Rules: []Rule{
				{Attribute: "price_per_kg", Min: ptr(0), MinExclusive: true},
			},
		},
	}
}
