package cleaning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

func clinicalRelation(rows ...schema.Row) *schema.Relation {
	rel := schema.NewRelation(schema.Measurements("clinical_measurements"))
	for _, r := range rows {
		rel.Append(r)
	}
	return rel
}

func TestFilter_LongRanges(t *testing.T) {
	f, err := NewFilter(DefaultTables())
	require.NoError(t, err)

	rel := clinicalRelation(
		schema.Row{"entity_id": "p1", "attribute_id": "LBXGH", "value": "5.4"},
		schema.Row{"entity_id": "p2", "attribute_id": "LBXGH", "value": 25.0},
		schema.Row{"entity_id": "p3", "attribute_id": "lbxglu", "value": "."},
		schema.Row{"entity_id": "p4", "attribute_id": "RIAGENDR", "value": 9.0},
		schema.Row{"entity_id": "p5", "attribute_id": "LBXIN", "value": 1e6},
	)

	out, report := f.Apply(rel)

	assert.Equal(t, model.Num(5.4), out.Rows[0]["value"])
	assert.Nil(t, out.Rows[1]["value"])
	assert.Nil(t, out.Rows[2]["value"])
	assert.Nil(t, out.Rows[3]["value"])
	// no rule for LBXIN: untouched
	assert.Equal(t, 1e6, out.Rows[4]["value"])

	assert.Equal(t, 1, report.RangeViolations)
	assert.Equal(t, 1, report.ParseErrors)
	assert.Equal(t, 1, report.MissingCodes)
	require.Len(t, report.Flags, 1)
	assert.Equal(t, "p2", report.Flags[0].EntityID)
	assert.Equal(t, "LBXGH", report.Flags[0].Attribute)
	assert.Equal(t, model.FlagRange, report.Flags[0].Reason)
	assert.Equal(t, model.Num(3), report.Flags[0].Lower)
	assert.Equal(t, model.Num(18), report.Flags[0].Upper)
	assert.Equal(t, map[string]int{"LBXGH": 1}, report.Flagged)

	// input untouched
	assert.Equal(t, 25.0, rel.Rows[1]["value"])
}

func TestFilter_WideExclusiveMin(t *testing.T) {
	f, err := NewFilter(DefaultTables())
	require.NoError(t, err)

	rel := schema.NewRelation(schema.Catalog("price_catalog", "price_per_kg"))
	rel.Append(schema.Row{"entity_id": "a1", "name": "Manzana", "price_per_kg": "1200"})
	rel.Append(schema.Row{"entity_id": "a2", "name": "Pera", "price_per_kg": 0.0})

	out, report := f.Apply(rel)
	assert.Equal(t, model.Num(1200), out.Rows[0]["price_per_kg"])
	assert.Nil(t, out.Rows[1]["price_per_kg"])
	assert.Equal(t, 1, report.RangeViolations)
	assert.Equal(t, "Manzana", out.Rows[0]["name"])
}

func TestFilter_FallbackRule(t *testing.T) {
	f, err := NewFilter(DefaultTables())
	require.NoError(t, err)

	rel := schema.NewRelation(schema.Measurements("nutrient_measurements"))
	rel.Append(schema.Row{"entity_id": "1", "attribute_id": "1079", "value": -1.0})
	rel.Append(schema.Row{"entity_id": "1", "attribute_id": "1003", "value": 0.3})

	out, report := f.Apply(rel)
	assert.Nil(t, out.Rows[0]["value"])
	assert.Equal(t, model.Num(0.3), out.Rows[1]["value"])
	assert.Equal(t, 1, report.RangeViolations)
}

func TestFilter_Recode(t *testing.T) {
	f, err := NewFilter([]Table{{
		Relation: "demographics",
		Rules: []Rule{
			{Attribute: "sex", Codes: map[string]string{"1": "male", "2": "female", "9": ""}},
		},
	}})
	require.NoError(t, err)

	rel := schema.NewRelation(schema.Schema{Name: "demographics", Fields: []schema.Field{
		{Name: "entity_id", Type: schema.String},
		{Name: "sex", Type: schema.String},
	}})
	rel.Append(schema.Row{"entity_id": "p1", "sex": "1"})
	rel.Append(schema.Row{"entity_id": "p2", "sex": "9"})

	out, report := f.Apply(rel)
	assert.Equal(t, "male", out.Rows[0]["sex"])
	assert.Nil(t, out.Rows[1]["sex"])
	assert.Equal(t, 2, report.Recoded)
}

func TestFilter_IQRByGroup(t *testing.T) {
	f, err := NewFilter([]Table{{
		Relation: "price_observations",
		Rules:    []Rule{{Attribute: "price", IQRFactor: 3, GroupBy: "product"}},
	}})
	require.NoError(t, err)

	rel := schema.NewRelation(schema.Schema{Name: "price_observations", Fields: []schema.Field{
		{Name: "entity_id", Type: schema.String},
		{Name: "product", Type: schema.String},
		{Name: "price", Type: schema.Number},
	}})
	for _, p := range []float64{1000, 1010, 990, 1005, 995, 90000} {
		rel.Append(schema.Row{"entity_id": "obs", "product": "manzana", "price": p})
	}
	// a different product is fenced separately
	for _, p := range []float64{90000, 91000, 89000, 90500} {
		rel.Append(schema.Row{"entity_id": "obs", "product": "carne", "price": p})
	}

	out, report := f.Apply(rel)
	assert.Equal(t, 1, report.Outliers)
	assert.Nil(t, out.Rows[5]["price"])
	assert.Equal(t, model.Num(90000), out.Rows[6]["price"])

	require.Len(t, report.Flags, 1)
	flag := report.Flags[0]
	assert.Equal(t, model.FlagOutlier, flag.Reason)
	assert.Equal(t, 90000.0, flag.Value)
	assert.True(t, flag.Upper.Valid)
	assert.Less(t, flag.Upper.V, 90000.0)
}

func TestFlagRelation(t *testing.T) {
	f, err := NewFilter(DefaultTables())
	require.NoError(t, err)

	_, clinical := f.Apply(clinicalRelation(
		schema.Row{"entity_id": "p2", "attribute_id": "LBXGH", "value": 25.0},
	))
	prices := schema.NewRelation(schema.Catalog("price_catalog", "price_per_kg"))
	prices.Append(schema.Row{"entity_id": "P2", "name": "Beef Ground", "price_per_kg": -5.0})
	_, priced := f.Apply(prices)

	rel := FlagRelation("quality_flags", []*Report{clinical, priced})
	require.NoError(t, rel.Validate())
	require.Equal(t, 2, rel.Len())

	assert.Equal(t, "clinical_measurements", rel.Rows[0]["relation"])
	assert.Equal(t, "p2", rel.Rows[0]["entity_id"])
	assert.Equal(t, model.Num(25), rel.Rows[0]["value"])
	assert.Equal(t, model.Num(18), rel.Rows[0]["upper_bound"])

	assert.Equal(t, "price_catalog", rel.Rows[1]["relation"])
	assert.Equal(t, "price_per_kg", rel.Rows[1]["attribute"])
	assert.Equal(t, model.FlagRange, rel.Rows[1]["reason"])
	assert.Equal(t, model.Missing, rel.Rows[1]["upper_bound"], "open side")
}

func TestFilter_NoTable(t *testing.T) {
	f, err := NewFilter(nil)
	require.NoError(t, err)

	rel := clinicalRelation(schema.Row{"entity_id": "p1", "attribute_id": "LBXGH", "value": 99.0})
	out, report := f.Apply(rel)
	assert.Same(t, rel, out)
	assert.Zero(t, report.Checked)
	assert.False(t, f.Has("clinical_measurements"))
}

func TestNewFilter_Invalid(t *testing.T) {
	_, err := NewFilter([]Table{
		{Relation: "x", Rules: []Rule{{Attribute: "a", Min: ptr(5), Max: ptr(1)}}},
		{Relation: "x"},
		{Relation: "y", Layout: "diagonal"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min > max")
	assert.Contains(t, err.Error(), "duplicate table")
	assert.Contains(t, err.Error(), "unknown layout")
}

func TestParseTables(t *testing.T) {
	data := []byte(`
tables:
  - relation: clinical_measurements
    layout: long
    rules:
      - attribute: LBXGH
        min: 3
        max: 18
      - attribute: RIAGENDR
        missing_codes: [7, 9]
`)
	tables, err := ParseTables(data)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, Long, tables[0].Layout)
	require.Len(t, tables[0].Rules, 2)
	assert.InDelta(t, 18, *tables[0].Rules[0].Max, 0.0001)
	assert.Equal(t, []float64{7, 9}, tables[0].Rules[1].MissingCodes)
}

func TestQuantile(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, quantile(vals, 0.25), 1e-9)
	assert.InDelta(t, 3.25, quantile(vals, 0.75), 1e-9)
}
