package reshape

import (
	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// DecodeRecords reads measurement rows. Values that fail numeric coercion
// are stored as missing and counted.
func DecodeRecords(rel *schema.Relation) ([]model.MeasurementRecord, int) {
	out := make([]model.MeasurementRecord, 0, rel.Len())
	var parseErrors int
	for _, row := range rel.Rows {
		v, err := row.Number("value")
		if err != nil {
			parseErrors++
		}
		out = append(out, model.MeasurementRecord{
			SourceID:    row.String("source_id"),
			EntityID:    row.String("entity_id"),
			AttributeID: row.String("attribute_id"),
			Value:       v,
		})
	}
	return out, parseErrors
}

// DecodeDescriptors indexes the named string fields of rel by entity_id.
// A nil relation yields an empty index.
func DecodeDescriptors(rel *schema.Relation, fields []string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	if rel == nil || len(fields) == 0 {
		return out
	}
	for _, row := range rel.Rows {
		id := row.String("entity_id")
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		d := make(map[string]string, len(fields))
		for _, f := range fields {
			d[f] = row.String(f)
		}
		out[id] = d
	}
	return out
}

// ReshapeRelation decodes a measurement relation, reshapes it and renders
// the vectors as the named output relation.
func (r *Reshaper) ReshapeRelation(in, descriptors *schema.Relation, output string) (*schema.Relation, *Stats, error) {
	records, parseErrors := DecodeRecords(in)
	res, err := r.Reshape(records, DecodeDescriptors(descriptors, r.cfg.DescriptorFields))
	if err != nil {
		return nil, nil, err
	}
	res.Stats.ParseErrors = parseErrors
	return r.ToRelation(output, res.Vectors), &res.Stats, nil
}

// ToRelation renders vectors with the stable column set of Schema.
func (r *Reshaper) ToRelation(name string, vectors []model.EntityFeatureVector) *schema.Relation {
	rel := schema.NewRelation(r.Schema(name))
	for _, v := range vectors {
		row := make(schema.Row, 1+len(r.cfg.DescriptorFields)+len(r.order))
		row["entity_id"] = v.EntityID
		for _, f := range r.cfg.DescriptorFields {
			row[f] = v.Descriptors[f]
		}
		for _, name := range r.order {
			row[name] = v.Attributes[name]
		}
		rel.Append(row)
	}
	return rel
}
