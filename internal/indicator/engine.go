package indicator

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Subject is one entity's input fields. Values may be model.Value,
// numbers, raw strings or nil.
type Subject struct {
	EntityID string
	Fields   map[string]any
}

// SubjectsFromRelation turns each row into a Subject keyed by entity_id.
func SubjectsFromRelation(rel *schema.Relation) []Subject {
	if rel == nil {
		return nil
	}
	out := make([]Subject, 0, rel.Len())
	for _, row := range rel.Rows {
		out = append(out, Subject{EntityID: row.String("entity_id"), Fields: row})
	}
	return out
}

// Stats counts evaluation outcomes.
type Stats struct {
	Subjects    int            `json:"subjects"`
	Indicators  int            `json:"indicators"`
	ParseErrors int            `json:"parse_errors"`
	Partial     int            `json:"partial"`
	Unknown     map[string]int `json:"unknown,omitempty"`
}

// Result is the output of Evaluate, ordered by subject then rule.
type Result struct {
	Indicators []model.DerivedIndicator
	Stats      Stats
}

// Engine evaluates a validated rule set.
type Engine struct {
	set RuleSet
}

// NewEngine validates the rule set.
func NewEngine(set RuleSet) (*Engine, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &Engine{set: set}, nil
}

// Name returns the rule set name.
func (e *Engine) Name() string {
	return e.set.Name
}

// RuleNames lists indicator names in evaluation order.
func (e *Engine) RuleNames() []string {
	out := make([]string, len(e.set.Rules))
	for i, r := range e.set.Rules {
		out[i] = r.Name
	}
	return out
}

// Evaluate computes every rule for every subject. Missing or unparseable
// inputs yield "Unknown", never a default category. Two subjects with the
// same entity id would produce a duplicate (entity, indicator) pair, which
// is reported as a *model.SchemaViolationError.
func (e *Engine) Evaluate(subjects []Subject) (*Result, error) {
	log := zap.L().With(zap.String("component", "indicator"), zap.String("rule_set", e.set.Name))

	res := &Result{Stats: Stats{Subjects: len(subjects), Unknown: make(map[string]int)}}
	res.Indicators = make([]model.DerivedIndicator, 0, len(subjects)*len(e.set.Rules))
	seen := make(map[string]struct{}, len(subjects))

	for _, s := range subjects {
		if _, dup := seen[s.EntityID]; dup {
			return nil, &model.SchemaViolationError{
				Relation: e.set.Name,
				Key:      s.EntityID,
				Reason:   "duplicate (entity_id, indicator_name) output",
			}
		}
		seen[s.EntityID] = struct{}{}

		done := make(map[string]model.DerivedIndicator, len(e.set.Rules))
		for _, r := range e.set.Rules {
			var d model.DerivedIndicator
			if r.IsComposite() {
				d = evaluateComposite(r, s.EntityID, done)
				if d.Known() && !d.Complete {
					res.Stats.Partial++
				}
			} else {
				var parseErrs int
				d, parseErrs = evaluateSimple(r, s)
				res.Stats.ParseErrors += parseErrs
			}
			if !d.Known() {
				res.Stats.Unknown[r.Name]++
			}
			done[r.Name] = d
			res.Indicators = append(res.Indicators, d)
		}
	}
	res.Stats.Indicators = len(res.Indicators)

	log.Info("indicators evaluated",
		zap.Int("subjects", res.Stats.Subjects),
		zap.Int("indicators", res.Stats.Indicators),
		zap.Int("partial", res.Stats.Partial),
		zap.Int("parse_errors", res.Stats.ParseErrors),
	)
	return res, nil
}

func unknown(entityID, name string, raw map[string]model.Value, available, total int) model.DerivedIndicator {
	return model.DerivedIndicator{
		EntityID:            entityID,
		Name:                name,
		RawInputs:           raw,
		Category:            model.UnknownCategory,
		Value:               model.Missing,
		AvailableComponents: available,
		TotalComponents:     total,
	}
}

func evaluateSimple(r Rule, s Subject) (model.DerivedIndicator, int) {
	raw := make(map[string]model.Value, len(r.Inputs))
	vals := make([]float64, len(r.Inputs))
	available, parseErrs := 0, 0
	for i, in := range r.Inputs {
		v, err := model.Coerce(s.Fields[in])
		if err != nil {
			parseErrs++
		}
		raw[in] = v
		if v.Valid {
			vals[i] = v.V
			available++
		}
	}
	total := len(r.Inputs)
	if available < total {
		return unknown(s.EntityID, r.Name, raw, available, total), parseErrs
	}

	value, ok := r.formula().apply(r.Inputs, vals)
	if !ok {
		return unknown(s.EntityID, r.Name, raw, available, total), parseErrs
	}

	table := r.Table
	if r.Covariate != nil {
		key := model.Label(s.Fields[r.Covariate.Field])
		if mapped, ok := r.Covariate.Codes[key]; ok {
			key = mapped
		}
		t, ok := r.Tables[key]
		if key == "" || !ok {
			return unknown(s.EntityID, r.Name, raw, available, total), parseErrs
		}
		table = t
	}

	d := model.DerivedIndicator{
		EntityID:            s.EntityID,
		Name:                r.Name,
		RawInputs:           raw,
		Value:               model.Num(value),
		Complete:            true,
		AvailableComponents: available,
		TotalComponents:     total,
	}
	if table != nil {
		d.Category = table.Classify(value)
	}
	return d, parseErrs
}

// evaluateComposite sums the available weighted components and floors the
// sum at zero. It is Unknown only when no component is available.
func evaluateComposite(r Rule, entityID string, done map[string]model.DerivedIndicator) model.DerivedIndicator {
	raw := make(map[string]model.Value, len(r.Components))
	total := len(r.Components)
	available := 0
	sum := 0.0
	for _, c := range r.Components {
		sub, ok := done[c.Indicator]
		if !ok || !sub.Known() {
			raw[c.Indicator] = model.Missing
			continue
		}
		var pts float64
		if c.UseValue {
			if !sub.Value.Valid {
				raw[c.Indicator] = model.Missing
				continue
			}
			pts = sub.Value.V
		} else {
			pts = c.Points[sub.Category]
		}
		term := c.weight() * pts
		raw[c.Indicator] = model.Num(term)
		sum += term
		available++
	}
	if available == 0 {
		return unknown(entityID, r.Name, raw, 0, total)
	}
	if sum < 0 {
		sum = 0
	}

	d := model.DerivedIndicator{
		EntityID:            entityID,
		Name:                r.Name,
		RawInputs:           raw,
		Value:               model.Num(sum),
		Complete:            available == total,
		AvailableComponents: available,
		TotalComponents:     total,
	}
	if r.Table != nil {
		d.Category = r.Table.Classify(sum)
	}
	return d
}

// ToRelation renders indicators as the named relation.
func ToRelation(name string, indicators []model.DerivedIndicator) *schema.Relation {
	rel := schema.NewRelation(schema.Indicators(name))
	for _, d := range indicators {
		raw, err := json.Marshal(d.RawInputs)
		if err != nil {
			raw = []byte("{}")
		}
		rel.Append(schema.Row{
			"entity_id":            d.EntityID,
			"indicator_name":       d.Name,
			"category_label":       d.Category,
			"composite_value":      d.Value,
			"complete":             d.Complete,
			"available_components": model.Num(float64(d.AvailableComponents)),
			"total_components":     model.Num(float64(d.TotalComponents)),
			"raw_inputs":           string(raw),
		})
	}
	return rel
}
