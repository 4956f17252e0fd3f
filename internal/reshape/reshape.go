// Package reshape pivots long-format measurement records into one feature
// vector per entity over a fixed attribute allow-list.
package reshape

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Aggregation resolves duplicate (entity, attribute) records.
type Aggregation string

const (
	// First keeps the first non-missing value in input order.
	First Aggregation = "first"
	// Mean averages the non-missing values.
	Mean Aggregation = "mean"
)

// ParseAggregation validates an aggregation name.
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(strings.ToLower(strings.TrimSpace(s))) {
	case First, "":
		return First, nil
	case Mean:
		return Mean, nil
	default:
		return "", eris.Errorf("reshape: unknown aggregation %q (valid: first, mean)", s)
	}
}

// UnknownAttributeError is raised in strict mode for an attribute id that
// is neither allowed nor explicitly ignored.
type UnknownAttributeError struct {
	AttributeID string
	EntityID    string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("reshape: unknown attribute %q for entity %q", e.AttributeID, e.EntityID)
}

// Config configures a Reshaper. Attribute ids are matched case-insensitively.
type Config struct {
	Attributes       map[string]string // attribute_id -> attribute_name
	Ignore           []string
	Aggregation      Aggregation
	Strict           bool
	DescriptorFields []string
}

// Stats counts data-quality events of one reshape.
type Stats struct {
	Records     int            `json:"records"`
	Entities    int            `json:"entities"`
	Duplicates  int            `json:"duplicates"`
	Ignored     int            `json:"ignored"`
	Skipped     int            `json:"skipped"`
	ParseErrors int            `json:"parse_errors"`
	Unknown     map[string]int `json:"unknown,omitempty"`
}

// Result is the output of Reshape.
type Result struct {
	Vectors []model.EntityFeatureVector
	Stats   Stats
}

// Reshaper pivots measurement records. It is safe for concurrent use.
type Reshaper struct {
	cfg    Config
	names  map[string]string // folded attribute_id -> name
	ignore map[string]bool
	order  []string // attribute names, sorted
}

// New validates cfg and builds a Reshaper.
func New(cfg Config) (*Reshaper, error) {
	agg, err := ParseAggregation(string(cfg.Aggregation))
	if err != nil {
		return nil, err
	}
	cfg.Aggregation = agg

	if len(cfg.Attributes) == 0 {
		return nil, eris.New("reshape: attribute allow-list is empty")
	}

	r := &Reshaper{
		cfg:    cfg,
		names:  make(map[string]string, len(cfg.Attributes)),
		ignore: make(map[string]bool, len(cfg.Ignore)),
	}
	used := make(map[string]string, len(cfg.Attributes))
	for id, name := range cfg.Attributes {
		key := foldID(id)
		name = strings.TrimSpace(name)
		if key == "" || name == "" {
			return nil, eris.Errorf("reshape: empty attribute mapping %q -> %q", id, name)
		}
		if other, dup := used[name]; dup {
			return nil, eris.Errorf("reshape: attribute name %q mapped from both %q and %q", name, other, id)
		}
		used[name] = id
		r.names[key] = name
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)

	for _, id := range cfg.Ignore {
		r.ignore[foldID(id)] = true
	}
	return r, nil
}

func foldID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// AttributeNames returns the output attribute columns in stable order.
func (r *Reshaper) AttributeNames() []string {
	return append([]string(nil), r.order...)
}

// Schema returns the output relation schema.
func (r *Reshaper) Schema(name string) schema.Schema {
	return schema.Features(name, r.cfg.DescriptorFields, r.order)
}

type cell struct {
	value model.Value
	sum   float64
	n     int
	seen  int
}

// Reshape pivots records into vectors, one per entity that has at least
// one allowed attribute record. Vectors keep the order in which entities
// first appear. descriptors supplies optional descriptive fields per entity.
func (r *Reshaper) Reshape(records []model.MeasurementRecord, descriptors map[string]map[string]string) (*Result, error) {
	log := zap.L().With(zap.String("component", "reshape"))

	stats := Stats{Records: len(records)}
	cells := make(map[string]map[string]*cell)
	var entities []string

	for _, rec := range records {
		key := foldID(rec.AttributeID)
		name, allowed := r.names[key]
		if !allowed {
			if r.ignore[key] {
				stats.Ignored++
				continue
			}
			if r.cfg.Strict {
				return nil, &UnknownAttributeError{AttributeID: rec.AttributeID, EntityID: rec.EntityID}
			}
			stats.Skipped++
			if stats.Unknown == nil {
				stats.Unknown = make(map[string]int)
			}
			stats.Unknown[rec.AttributeID]++
			continue
		}

		byAttr, ok := cells[rec.EntityID]
		if !ok {
			byAttr = make(map[string]*cell, len(r.order))
			cells[rec.EntityID] = byAttr
			entities = append(entities, rec.EntityID)
		}
		c, ok := byAttr[name]
		if !ok {
			c = &cell{}
			byAttr[name] = c
		}
		c.seen++
		if c.seen > 1 {
			stats.Duplicates++
		}
		if !rec.Value.Valid {
			continue
		}
		switch r.cfg.Aggregation {
		case Mean:
			c.sum += rec.Value.V
			c.n++
		default:
			if !c.value.Valid {
				c.value = rec.Value
			}
		}
	}

	vectors := make([]model.EntityFeatureVector, 0, len(entities))
	for _, id := range entities {
		v := model.EntityFeatureVector{
			EntityID:   id,
			Attributes: make(map[string]model.Value, len(r.order)),
		}
		for _, name := range r.order {
			c, ok := cells[id][name]
			switch {
			case !ok:
				v.Attributes[name] = model.Missing
			case r.cfg.Aggregation == Mean && c.n > 0:
				v.Attributes[name] = model.Num(c.sum / float64(c.n))
			case r.cfg.Aggregation == Mean:
				v.Attributes[name] = model.Missing
			default:
				v.Attributes[name] = c.value
			}
		}
		if len(r.cfg.DescriptorFields) > 0 {
			v.Descriptors = make(map[string]string, len(r.cfg.DescriptorFields))
			for _, f := range r.cfg.DescriptorFields {
				v.Descriptors[f] = descriptors[id][f]
			}
		}
		vectors = append(vectors, v)
	}
	stats.Entities = len(vectors)

	if stats.Skipped > 0 {
		log.Warn("skipped records with unknown attributes",
			zap.Int("skipped", stats.Skipped),
			zap.Int("distinct", len(stats.Unknown)),
		)
	}
	log.Debug("reshape complete",
		zap.Int("records", stats.Records),
		zap.Int("entities", stats.Entities),
		zap.Int("duplicates", stats.Duplicates),
	)

	return &Result{Vectors: vectors, Stats: stats}, nil
}
