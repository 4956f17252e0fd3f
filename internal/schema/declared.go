package schema

// Measurements declares a long-format measurement relation.
func Measurements(name string) Schema {
	return Schema{
		Name: name,
		Fields: []Field{
			{Name: "source_id", Type: String},
			{Name: "entity_id", Type: String, Required: true},
			{Name: "attribute_id", Type: String, Required: true},
			{Name: "value", Type: Number},
		},
	}
}

// Catalog declares a named-entity catalog. Extra numeric attributes
// (e.g. price_per_kg) are optional columns.
func Catalog(name string, numeric ...string) Schema {
	s := Schema{
		Name: name,
		Fields: []Field{
			{Name: "entity_id", Type: String, Required: true},
			{Name: "name", Type: String, Required: true},
			{Name: "group_label", Type: String},
		},
		Key: []string{"entity_id"},
	}
	for _, n := range numeric {
		s.Fields = append(s.Fields, Field{Name: n, Type: Number})
	}
	return s
}

// Features declares a wide feature-vector relation with a stable column
// set: entity_id, the descriptor fields, then every allowed attribute.
func Features(name string, descriptors, attributes []string) Schema {
	s := Schema{
		Name:   name,
		Fields: []Field{{Name: "entity_id", Type: String, Required: true}},
		Key:    []string{"entity_id"},
	}
	for _, d := range descriptors {
		s.Fields = append(s.Fields, Field{Name: d, Type: String})
	}
	for _, a := range attributes {
		s.Fields = append(s.Fields, Field{Name: a, Type: Number})
	}
	return s
}

// MatchLinks declares the resolver output.
func MatchLinks(name string) Schema {
	return Schema{
		Name: name,
		Fields: []Field{
			{Name: "entity_id_a", Type: String, Required: true},
			{Name: "entity_id_b", Type: String},
			{Name: "normalized_name_a", Type: String, Required: true},
			{Name: "normalized_name_b", Type: String},
			{Name: "similarity_score", Type: Number, Required: true},
			{Name: "status", Type: String, Required: true},
			{Name: "tied_candidates", Type: Number},
		},
		Key: []string{"entity_id_a"},
	}
}

// Indicators declares a derived-indicator relation. raw_inputs holds the
// JSON-encoded input values; category_label is empty for uncategorized
// numeric indicators.
func Indicators(name string) Schema {
	return Schema{
		Name: name,
		Fields: []Field{
			{Name: "entity_id", Type: String, Required: true},
			{Name: "indicator_name", Type: String, Required: true},
			{Name: "category_label", Type: String},
			{Name: "composite_value", Type: Number},
			{Name: "complete", Type: Bool},
			{Name: "available_components", Type: Number},
			{Name: "total_components", Type: Number},
			{Name: "raw_inputs", Type: String},
		},
		Key: []string{"entity_id", "indicator_name"},
	}
}

// QualityFlags declares the cleaning flag log: one row per value the
// cleaning filter set to missing, with the bounds it failed.
func QualityFlags(name string) Schema {
	return Schema{
		Name: name,
		Fields: []Field{
			{Name: "relation", Type: String, Required: true},
			{Name: "entity_id", Type: String},
			{Name: "attribute", Type: String, Required: true},
			{Name: "value", Type: Number},
			{Name: "reason", Type: String, Required: true},
			{Name: "lower_bound", Type: Number},
			{Name: "upper_bound", Type: Number},
		},
	}
}
