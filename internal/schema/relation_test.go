package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
)

func TestValidateHeader(t *testing.T) {
	s := Measurements("nutrient_measurements")

	require.NoError(t, s.ValidateHeader([]string{"entity_id", "attribute_id", "value"}))

	err := s.ValidateHeader([]string{"entity_id", "value"})
	require.Error(t, err)
	assert.True(t, model.IsSchemaViolation(err))
	assert.Contains(t, err.Error(), "attribute_id")
}

func TestRelation_ValidateDuplicateKey(t *testing.T) {
	rel := NewRelation(Indicators("clinical_indicators"))
	rel.Append(Row{"entity_id": "p1", "indicator_name": "bmi_category", "category_label": "Normal"})
	rel.Append(Row{"entity_id": "p1", "indicator_name": "hba1c_status", "category_label": "Unknown"})
	require.NoError(t, rel.Validate())

	rel.Append(Row{"entity_id": "p1", "indicator_name": "bmi_category", "category_label": "Obese"})
	err := rel.Validate()
	require.Error(t, err)

	var sv *model.SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "p1/bmi_category", sv.Key)
}

func TestRelation_ValidateRequiredAbsent(t *testing.T) {
	rel := NewRelation(MatchLinks("catalog_links"))
	rel.Append(Row{"entity_id_a": "a1", "normalized_name_a": "red apple", "status": "Matched"})

	err := rel.Validate()
	require.Error(t, err)
	var sv *model.SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "similarity_score", sv.Field)
}

func TestRelation_Records(t *testing.T) {
	rel := NewRelation(Features("nutrient_features", []string{"description"}, []string{"fiber", "protein"}))
	rel.Append(Row{"entity_id": "171688", "description": "Apples, raw", "fiber": model.Num(2.4), "protein": model.Missing})

	recs := rel.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []any{"171688", "Apples, raw", 2.4, nil}, recs[0])
	assert.Equal(t, []string{"entity_id", "description", "fiber", "protein"}, rel.Schema.Columns())
}

func TestRow_Number(t *testing.T) {
	row := Row{"value": ".", "other": "3,5"}

	v, err := row.Number("value")
	require.Error(t, err)
	assert.False(t, v.Valid)
	var pe *model.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "value", pe.Field)

	v, err = row.Number("other")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v.V)

	v, err = row.Number("absent")
	require.NoError(t, err)
	assert.False(t, v.Valid)
}

func TestSchema_Rename(t *testing.T) {
	s := Catalog("price_catalog", "price_per_kg")
	r := s.Rename("price_snapshot")
	assert.Equal(t, "price_snapshot", r.Name)
	assert.Equal(t, "price_catalog", s.Name)
	f, ok := r.Field("price_per_kg")
	require.True(t, ok)
	assert.Equal(t, Number, f.Type)
}

func TestSchema_KeyOfSeparatorInValues(t *testing.T) {
	s := Indicators("clinical_indicators")
	a := s.KeyOf(Row{"entity_id": "p1/bmi", "indicator_name": "category"})
	b := s.KeyOf(Row{"entity_id": "p1", "indicator_name": "bmi/category"})
	assert.NotEqual(t, a, b)

	rel := NewRelation(s)
	rel.Append(Row{"entity_id": "p1/bmi", "indicator_name": "category"})
	rel.Append(Row{"entity_id": "p1", "indicator_name": "bmi/category"})
	assert.NoError(t, rel.Validate())
}

func TestSchema_Blank(t *testing.T) {
	s := Catalog("price_catalog", "price_per_kg")

	field, blank := s.Blank(Row{"entity_id": "P1", "name": "Red Apple"})
	assert.False(t, blank)
	assert.Empty(t, field)

	field, blank = s.Blank(Row{"entity_id": "  ", "name": "Red Apple"})
	assert.True(t, blank)
	assert.Equal(t, "entity_id", field)

	_, blank = Measurements("m").Blank(Row{"entity_id": "p1", "attribute_id": "fiber", "value": model.Missing})
	assert.False(t, blank, "value is optional")
}
