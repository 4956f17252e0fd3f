package pipeline

import (
	"context"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/resolve"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// FoodCostSchema declares the joined price and nutrient relation fed to
// the food-cost rule set.
func FoodCostSchema(name string, attributes []string) schema.Schema {
	s := schema.Schema{
		Name: name,
		Fields: []schema.Field{
			{Name: "entity_id", Type: schema.String, Required: true},
			{Name: "name", Type: schema.String},
			{Name: "group_label", Type: schema.String},
			{Name: "matched_entity_id", Type: schema.String},
			{Name: "match_status", Type: schema.String},
			{Name: "similarity_score", Type: schema.Number},
			{Name: "price_per_kg", Type: schema.Number},
		},
		Key: []string{"entity_id"},
	}
	for _, a := range attributes {
		if _, taken := s.Field(a); taken {
			continue
		}
		s.Fields = append(s.Fields, schema.Field{Name: a, Type: schema.Number})
	}
	return s
}

// JoinStage follows usable catalog links from each priced entity to its
// nutrient feature row. Entities without a usable link, or whose matched
// entity has no feature row, keep their price and carry missing nutrients.
type JoinStage struct {
	Prices         string
	Links          string
	Features       string
	Attributes     []string
	AllowAmbiguous bool
	Output         string
}

func (s *JoinStage) Name() string       { return "join_food_costs" }
func (s *JoinStage) Requires() []string { return []string{s.Prices} }
func (s *JoinStage) Optional() []string { return []string{s.Links, s.Features} }
func (s *JoinStage) Produces() []string { return []string{s.Output} }

func (s *JoinStage) Run(_ context.Context, in Inputs) (*StageResult, error) {
	links := make(map[string]model.MatchLink)
	for _, l := range resolve.DecodeLinks(in.Get(s.Links)) {
		links[l.EntityIDA] = l
	}
	features := make(map[string]schema.Row)
	if rel := in.Get(s.Features); rel != nil {
		for _, row := range rel.Rows {
			features[row.String("entity_id")] = row
		}
	}

	out := schema.NewRelation(FoodCostSchema(s.Output, s.Attributes))
	var joined, unlinked, noFeatures, parseErrors int
	for _, price := range in.Get(s.Prices).Rows {
		id := price.String("entity_id")
		perKg, err := price.Number("price_per_kg")
		if err != nil {
			parseErrors++
		}
		row := schema.Row{
			"entity_id":    id,
			"name":         price.String("name"),
			"group_label":  price.String("group_label"),
			"price_per_kg": perKg,
		}

		link, linked := links[id]
		if linked {
			row["match_status"] = string(link.Status)
			row["similarity_score"] = model.Num(link.Score)
		} else {
			row["similarity_score"] = model.Missing
		}

		var feat schema.Row
		switch {
		case !linked || !link.Usable(s.AllowAmbiguous):
			unlinked++
		default:
			row["matched_entity_id"] = link.EntityIDB
			feat = features[link.EntityIDB]
			if feat == nil {
				noFeatures++
			}
		}

		for _, a := range s.Attributes {
			if _, base := row[a]; base {
				continue
			}
			if feat == nil {
				row[a] = model.Missing
				continue
			}
			v, err := feat.Number(a)
			if err != nil {
				parseErrors++
			}
			row[a] = v
		}
		if feat != nil {
			joined++
		}
		out.Append(row)
	}

	return &StageResult{
		Relations: []*schema.Relation{out},
		Metrics: map[string]any{
			"rows":         out.Len(),
			"joined":       joined,
			"unlinked":     unlinked,
			"no_features":  noFeatures,
			"parse_errors": parseErrors,
		},
	}, nil
}
