package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/resolve"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

func priceRelation() *schema.Relation {
	rel := schema.NewRelation(schema.Catalog("price_catalog", "price_per_kg"))
	rel.Append(schema.Row{"entity_id": "P1", "name": "Red Apple", "group_label": "Fruits", "price_per_kg": model.Num(1200)})
	rel.Append(schema.Row{"entity_id": "P2", "name": "Plantain", "group_label": "Fruits", "price_per_kg": model.Num(900)})
	rel.Append(schema.Row{"entity_id": "P3", "name": "Guava", "group_label": "Fruits", "price_per_kg": "twelve"})
	return rel
}

func linkRelation() *schema.Relation {
	return resolve.LinksRelation(CatalogLinks, []model.MatchLink{
		{EntityIDA: "P1", EntityIDB: "1102644", NormalizedNameA: "red apple", NormalizedNameB: "apples raw", Score: 71.4, Status: model.Matched},
		{EntityIDA: "P2", EntityIDB: "1102653", NormalizedNameA: "plantain", NormalizedNameB: "bananas raw", Score: 55, Status: model.Ambiguous, TiedCandidates: 2},
		{EntityIDA: "P3", NormalizedNameA: "guava", Score: 20, Status: model.Unmatched},
	})
}

func nutrientFeatures() *schema.Relation {
	rel := schema.NewRelation(schema.Features("nutrient_features", []string{"name"}, []string{"energy", "fiber", "protein"}))
	rel.Append(schema.Row{"entity_id": "1102644", "name": "Apples, raw", "energy": model.Num(52), "fiber": model.Num(2.4), "protein": model.Num(0.3)})
	rel.Append(schema.Row{"entity_id": "1102653", "name": "Bananas, raw", "energy": model.Num(89), "fiber": model.Num(2.6), "protein": model.Num(1.1)})
	return rel
}

func joinStage(allowAmbiguous bool) *JoinStage {
	return &JoinStage{
		Prices:         "price_catalog",
		Links:          CatalogLinks,
		Features:       "nutrient_features",
		Attributes:     []string{"energy", "fiber", "protein"},
		AllowAmbiguous: allowAmbiguous,
		Output:         FoodCostInputs,
	}
}

func TestJoinStage_FollowsUsableLinks(t *testing.T) {
	res, err := joinStage(true).Run(context.Background(), Inputs{
		"price_catalog":     priceRelation(),
		CatalogLinks:        linkRelation(),
		"nutrient_features": nutrientFeatures(),
	})
	require.NoError(t, err)
	require.Len(t, res.Relations, 1)

	out := res.Relations[0]
	require.NoError(t, out.Validate())
	require.Equal(t, 3, out.Len())

	apple := out.Rows[0]
	assert.Equal(t, "P1", apple["entity_id"])
	assert.Equal(t, "1102644", apple["matched_entity_id"])
	assert.Equal(t, "Matched", apple["match_status"])
	assert.Equal(t, model.Num(1200), apple["price_per_kg"])
	assert.Equal(t, model.Num(2.4), apple["fiber"])

	plantain := out.Rows[1]
	assert.Equal(t, "1102653", plantain["matched_entity_id"])
	assert.Equal(t, model.Num(1.1), plantain["protein"])

	guava := out.Rows[2]
	assert.Nil(t, guava["matched_entity_id"])
	assert.Equal(t, "Unmatched", guava["match_status"])
	assert.Equal(t, model.Missing, guava["price_per_kg"])
	assert.Equal(t, model.Missing, guava["fiber"])

	assert.Equal(t, 2, res.Metrics["joined"])
	assert.Equal(t, 1, res.Metrics["unlinked"])
	assert.Equal(t, 1, res.Metrics["parse_errors"])
}

func TestJoinStage_AmbiguousNotFollowed(t *testing.T) {
	res, err := joinStage(false).Run(context.Background(), Inputs{
		"price_catalog":     priceRelation(),
		CatalogLinks:        linkRelation(),
		"nutrient_features": nutrientFeatures(),
	})
	require.NoError(t, err)

	plantain := res.Relations[0].Rows[1]
	assert.Equal(t, "Ambiguous", plantain["match_status"])
	assert.Nil(t, plantain["matched_entity_id"])
	assert.Equal(t, model.Missing, plantain["protein"])
}

func TestJoinStage_WithoutOptionalInputs(t *testing.T) {
	res, err := joinStage(true).Run(context.Background(), Inputs{
		"price_catalog": priceRelation(),
	})
	require.NoError(t, err)

	out := res.Relations[0]
	require.Equal(t, 3, out.Len())
	for _, row := range out.Rows {
		assert.Equal(t, model.Missing, row["fiber"])
		assert.Equal(t, model.Missing, row["similarity_score"])
	}
	assert.Equal(t, model.Num(1200), out.Rows[0]["price_per_kg"])
	assert.Equal(t, 3, res.Metrics["unlinked"])
}

func TestJoinStage_LinkedEntityWithoutFeatures(t *testing.T) {
	features := schema.NewRelation(nutrientFeatures().Schema)
	res, err := joinStage(true).Run(context.Background(), Inputs{
		"price_catalog":     priceRelation(),
		CatalogLinks:        linkRelation(),
		"nutrient_features": features,
	})
	require.NoError(t, err)

	apple := res.Relations[0].Rows[0]
	assert.Equal(t, "1102644", apple["matched_entity_id"])
	assert.Equal(t, model.Missing, apple["energy"])
	assert.Equal(t, 2, res.Metrics["no_features"])
}

func TestFoodCostSchema(t *testing.T) {
	s := FoodCostSchema("food_cost_inputs", []string{"fiber", "price_per_kg", "energy"})
	assert.Equal(t, []string{
		"entity_id", "name", "group_label", "matched_entity_id", "match_status",
		"similarity_score", "price_per_kg", "fiber", "energy",
	}, s.Columns())
	assert.Equal(t, []string{"entity_id"}, s.Key)
}
