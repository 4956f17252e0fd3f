package resolve

import (
	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// DecodeCatalog reads catalog rows in relation order. Numeric fields are
// copied into the entry attributes; unparseable cells become missing.
func DecodeCatalog(rel *schema.Relation, catalogID string, numeric ...string) []model.CatalogEntry {
	if rel == nil {
		return nil
	}
	out := make([]model.CatalogEntry, 0, rel.Len())
	for _, row := range rel.Rows {
		e := model.CatalogEntry{
			CatalogID:     catalogID,
			EntityID:      row.String("entity_id"),
			CanonicalName: row.String("name"),
			GroupLabel:    row.String("group_label"),
		}
		if len(numeric) > 0 {
			e.Attributes = make(map[string]model.Value, len(numeric))
			for _, f := range numeric {
				v, _ := row.Number(f)
				e.Attributes[f] = v
			}
		}
		out = append(out, e)
	}
	return out
}

// LinksRelation renders links as the named relation.
func LinksRelation(name string, links []model.MatchLink) *schema.Relation {
	rel := schema.NewRelation(schema.MatchLinks(name))
	for _, l := range links {
		rel.Append(schema.Row{
			"entity_id_a":       l.EntityIDA,
			"entity_id_b":       l.EntityIDB,
			"normalized_name_a": l.NormalizedNameA,
			"normalized_name_b": l.NormalizedNameB,
			"similarity_score":  model.Num(l.Score),
			"status":            string(l.Status),
			"tied_candidates":   model.Num(float64(l.TiedCandidates)),
		})
	}
	return rel
}

// DecodeLinks reads a link relation back into MatchLinks.
func DecodeLinks(rel *schema.Relation) []model.MatchLink {
	if rel == nil {
		return nil
	}
	out := make([]model.MatchLink, 0, rel.Len())
	for _, row := range rel.Rows {
		score, _ := row.Number("similarity_score")
		ties, _ := row.Number("tied_candidates")
		out = append(out, model.MatchLink{
			EntityIDA:       row.String("entity_id_a"),
			EntityIDB:       row.String("entity_id_b"),
			NormalizedNameA: row.String("normalized_name_a"),
			NormalizedNameB: row.String("normalized_name_b"),
			Score:           score.V,
			Status:          model.MatchStatus(row.String("status")),
			TiedCandidates:  int(ties.V),
		})
	}
	return out
}
