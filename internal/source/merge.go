package source

import (
	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Duplicate-key policies.
const (
	DuplicatesMean  = "mean"
	DuplicatesFirst = "first"
	DuplicatesLast  = "last"
)

// merger accumulates the rows of one relation, collapsing rows that repeat
// the schema key. Under the mean policy each numeric field becomes the mean
// of the known observations and blank text cells are filled from later
// rows; first keeps the earliest row and last the latest.
type merger struct {
	rel    *schema.Relation
	policy string
	index  map[string]int
	sums   []map[string]float64
	counts []map[string]int
}

func newMerger(sch schema.Schema, policy string) *merger {
	if policy == "" {
		policy = DuplicatesMean
	}
	return &merger{
		rel:    schema.NewRelation(sch),
		policy: policy,
		index:  make(map[string]int),
	}
}

// add appends rows and returns how many were folded into an earlier row.
func (m *merger) add(rows []schema.Row) int {
	sch := m.rel.Schema
	if len(sch.Key) == 0 {
		m.rel.Rows = append(m.rel.Rows, rows...)
		return 0
	}

	merged := 0
	for _, row := range rows {
		key := sch.KeyOf(row)
		j, seen := m.index[key]
		if !seen {
			m.index[key] = len(m.rel.Rows)
			m.rel.Append(row)
			m.sums = append(m.sums, map[string]float64{})
			m.counts = append(m.counts, map[string]int{})
			m.observe(len(m.rel.Rows)-1, row)
			continue
		}
		merged++
		switch m.policy {
		case DuplicatesFirst:
		case DuplicatesLast:
			m.rel.Rows[j] = row
		default:
			m.observe(j, row)
			m.fill(j, row)
		}
	}
	return merged
}

func (m *merger) observe(j int, row schema.Row) {
	if m.policy != DuplicatesMean {
		return
	}
	for _, f := range m.rel.Schema.Fields {
		if f.Type != schema.Number {
			continue
		}
		v, err := model.Coerce(row[f.Name])
		if err != nil || !v.Valid {
			continue
		}
		m.sums[j][f.Name] += v.V
		m.counts[j][f.Name]++
		m.rel.Rows[j][f.Name] = model.Num(m.sums[j][f.Name] / float64(m.counts[j][f.Name]))
	}
}

func (m *merger) fill(j int, row schema.Row) {
	target := m.rel.Rows[j]
	for _, f := range m.rel.Schema.Fields {
		if f.Type == schema.Number {
			continue
		}
		if target[f.Name] == nil && row[f.Name] != nil {
			target[f.Name] = row[f.Name]
		}
	}
}
