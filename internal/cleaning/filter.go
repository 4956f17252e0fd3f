package cleaning

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Report counts what the filter did to one relation.
type Report struct {
	Relation        string                  `json:"relation"`
	Checked         int                     `json:"checked"`
	ParseErrors     int                     `json:"parse_errors"`
	MissingCodes    int                     `json:"missing_codes"`
	RangeViolations int                     `json:"range_violations"`
	Outliers        int                     `json:"outliers"`
	Recoded         int                     `json:"recoded"`
	Flagged         map[string]int          `json:"flagged_attributes,omitempty"`
	Flags           []*model.RangeViolation `json:"-"`
}

func (r *Report) flag(v *model.RangeViolation) {
	if r.Flagged == nil {
		r.Flagged = make(map[string]int)
	}
	r.Flagged[v.Attribute]++
	r.Flags = append(r.Flags, v)
}

// Filter interprets rule tables keyed by relation name.
type Filter struct {
	tables map[string]*compiled
}

type compiled struct {
	Table
	rules    map[string]Rule
	fallback *Rule
}

// NewFilter validates the tables and indexes their rules.
func NewFilter(tables []Table) (*Filter, error) {
	f := &Filter{tables: make(map[string]*compiled, len(tables))}
	var errs []string
	for _, t := range tables {
		t.applyDefaults()
		errs = append(errs, t.validate()...)
		if _, dup := f.tables[t.Relation]; dup {
			errs = append(errs, "duplicate table for relation "+t.Relation)
			continue
		}
		c := &compiled{Table: t, rules: make(map[string]Rule, len(t.Rules))}
		for _, r := range t.Rules {
			if r.Attribute == AnyAttribute {
				r := r
				c.fallback = &r
				continue
			}
			c.rules[ruleKey(t.Layout, r.Attribute)] = r
		}
		f.tables[t.Relation] = c
	}
	if len(errs) > 0 {
		return nil, eris.Errorf("cleaning: invalid rules: %s", strings.Join(errs, "; "))
	}
	return f, nil
}

// Has reports whether a rule table exists for the relation.
func (f *Filter) Has(relation string) bool {
	_, ok := f.tables[relation]
	return ok
}

// target is one cell a rule applies to.
type target struct {
	row   int
	field string
	attr  string
	rule  Rule
}

// Apply returns a cleaned copy of rel. Offending cells become missing;
// the input relation is not modified. Relations without a rule table are
// returned unchanged with an empty report.
func (f *Filter) Apply(rel *schema.Relation) (*schema.Relation, *Report) {
	report := &Report{Relation: rel.Name()}
	t, ok := f.tables[rel.Name()]
	if !ok {
		return rel, report
	}

	out := schema.NewRelation(rel.Schema)
	out.Rows = make([]schema.Row, len(rel.Rows))
	for i, row := range rel.Rows {
		cp := make(schema.Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out.Rows[i] = cp
	}

	targets := t.targets(out)
	for _, tg := range targets {
		f.applyCell(out, t, tg, report)
	}
	t.applyIQR(out, targets, report)

	if report.RangeViolations+report.Outliers+report.ParseErrors > 0 {
		zap.L().With(zap.String("component", "cleaning")).Debug("relation cleaned",
			zap.String("relation", rel.Name()),
			zap.Int("parse_errors", report.ParseErrors),
			zap.Int("range_violations", report.RangeViolations),
			zap.Int("outliers", report.Outliers),
		)
	}
	return out, report
}

func (t *compiled) ruleFor(attr string) (Rule, bool) {
	if r, ok := t.rules[ruleKey(t.Layout, attr)]; ok {
		return r, true
	}
	if t.fallback != nil {
		return *t.fallback, true
	}
	return Rule{}, false
}

func (t *compiled) targets(rel *schema.Relation) []target {
	var out []target
	switch t.Layout {
	case Long:
		for i, row := range rel.Rows {
			attr := row.String(t.AttributeField)
			if r, ok := t.ruleFor(attr); ok {
				out = append(out, target{row: i, field: t.ValueField, attr: attr, rule: r})
			}
		}
	default:
		var cols []schema.Field
		for _, fd := range rel.Schema.Fields {
			if _, ok := t.ruleFor(fd.Name); ok && fd.Name != t.EntityField {
				cols = append(cols, fd)
			}
		}
		for i := range rel.Rows {
			for _, fd := range cols {
				r, _ := t.ruleFor(fd.Name)
				if fd.Type != schema.Number && len(r.Codes) == 0 {
					continue
				}
				out = append(out, target{row: i, field: fd.Name, attr: fd.Name, rule: r})
			}
		}
	}
	return out
}

func (f *Filter) applyCell(rel *schema.Relation, t *compiled, tg target, report *Report) {
	row := rel.Rows[tg.row]
	report.Checked++

	if len(tg.rule.Codes) > 0 {
		label := row.String(tg.field)
		if mapped, ok := tg.rule.Codes[label]; ok {
			report.Recoded++
			if mapped == "" {
				row[tg.field] = nil
			} else {
				row[tg.field] = mapped
			}
		}
		return
	}

	v, err := row.Number(tg.field)
	if err != nil {
		report.ParseErrors++
		row[tg.field] = nil
		return
	}
	if !v.Valid {
		row[tg.field] = nil
		return
	}
	if tg.rule.isMissingCode(v.V) {
		report.MissingCodes++
		row[tg.field] = nil
		return
	}
	if !tg.rule.inRange(v.V) {
		report.RangeViolations++
		report.flag(&model.RangeViolation{
			Attribute: tg.attr,
			EntityID:  row.String(t.EntityField),
			Value:     v.V,
			Reason:    model.FlagRange,
			Lower:     bound(tg.rule.Min),
			Upper:     bound(tg.rule.Max),
		})
		row[tg.field] = nil
		return
	}
	row[tg.field] = v
}

// applyIQR drops values outside [Q1-k*IQR, Q3+k*IQR], computed per
// attribute and, when GroupBy is set, per group value.
func (t *compiled) applyIQR(rel *schema.Relation, targets []target, report *Report) {
	type bucketKey struct{ attr, group string }
	buckets := make(map[bucketKey][]target)
	var order []bucketKey
	for _, tg := range targets {
		if tg.rule.IQRFactor <= 0 || len(tg.rule.Codes) > 0 {
			continue
		}
		if _, ok := rel.Rows[tg.row][tg.field].(model.Value); !ok {
			continue
		}
		k := bucketKey{attr: ruleKey(t.Layout, tg.attr)}
		if tg.rule.GroupBy != "" {
			k.group = rel.Rows[tg.row].String(tg.rule.GroupBy)
		}
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], tg)
	}

	for _, k := range order {
		members := buckets[k]
		vals := make([]float64, len(members))
		for i, tg := range members {
			vals[i] = rel.Rows[tg.row][tg.field].(model.Value).V
		}
		lo, hi, ok := fences(vals, members[0].rule.IQRFactor)
		if !ok {
			continue
		}
		for i, tg := range members {
			if vals[i] < lo || vals[i] > hi {
				report.Outliers++
				report.flag(&model.RangeViolation{
					Attribute: tg.attr,
					EntityID:  rel.Rows[tg.row].String(t.EntityField),
					Value:     vals[i],
					Reason:    model.FlagOutlier,
					Lower:     model.Num(lo),
					Upper:     model.Num(hi),
				})
				rel.Rows[tg.row][tg.field] = nil
			}
		}
	}
}

// fences returns the IQR outlier bounds. At least four values are needed.
func fences(vals []float64, k float64) (float64, float64, bool) {
	if len(vals) < 4 {
		return 0, 0, false
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr, true
}

// quantile uses linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	if lo == hi {
		return sorted[int(lo)]
	}
	return sorted[int(lo)] + (pos-lo)*(sorted[int(hi)]-sorted[int(lo)])
}

func bound(p *float64) model.Value {
	if p == nil {
		return model.Missing
	}
	return model.Num(*p)
}

// FlagRelation collects the flags of every report into one relation with
// the QualityFlags schema, in report order.
func FlagRelation(name string, reports []*Report) *schema.Relation {
	rel := schema.NewRelation(schema.QualityFlags(name))
	for _, rep := range reports {
		for _, f := range rep.Flags {
			rel.Append(schema.Row{
				"relation":    rep.Relation,
				"entity_id":   f.EntityID,
				"attribute":   f.Attribute,
				"value":       model.Num(f.Value),
				"reason":      f.Reason,
				"lower_bound": f.Lower,
				"upper_bound": f.Upper,
			})
		}
	}
	return rel
}
