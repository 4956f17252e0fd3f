// Package model defines the entities exchanged between the reshaper,
// resolver and indicator engine.
package model

// UnknownCategory is the label of an indicator whose inputs were unusable.
const UnknownCategory = "Unknown"

// MeasurementRecord is one long-format observation.
type MeasurementRecord struct {
	SourceID    string `json:"source_id"`
	EntityID    string `json:"entity_id"`
	AttributeID string `json:"attribute_id"`
	Value       Value  `json:"value"`
}

// EntityFeatureVector is the wide-format view of one entity. Every allowed
// attribute name is present in Attributes; absent ones hold Missing.
type EntityFeatureVector struct {
	EntityID    string            `json:"entity_id"`
	Descriptors map[string]string `json:"descriptors,omitempty"`
	Attributes  map[string]Value  `json:"attributes"`
}

// CatalogEntry is a named entity from one catalog. NormalizedName is
// derived from CanonicalName by the resolver and never read back from storage.
type CatalogEntry struct {
	CatalogID      string           `json:"catalog_id"`
	EntityID       string           `json:"entity_id"`
	CanonicalName  string           `json:"canonical_name"`
	NormalizedName string           `json:"normalized_name"`
	GroupLabel     string           `json:"group_label,omitempty"`
	Attributes     map[string]Value `json:"attributes,omitempty"`
}

// MatchStatus classifies a MatchLink.
type MatchStatus string

const (
	Matched   MatchStatus = "Matched"
	Ambiguous MatchStatus = "Ambiguous"
	Unmatched MatchStatus = "Unmatched"
)

// MatchLink records the resolver's decision for one entity of catalog A.
type MatchLink struct {
	EntityIDA       string      `json:"entity_id_a"`
	EntityIDB       string      `json:"entity_id_b"`
	NormalizedNameA string      `json:"normalized_name_a"`
	NormalizedNameB string      `json:"normalized_name_b"`
	Score           float64     `json:"similarity_score"`
	Status          MatchStatus `json:"status"`
	TiedCandidates  int         `json:"tied_candidates"`
}

// Usable reports whether downstream joins may follow the link.
func (l MatchLink) Usable(allowAmbiguous bool) bool {
	switch l.Status {
	case Matched:
		return l.EntityIDB != ""
	case Ambiguous:
		return allowAmbiguous && l.EntityIDB != ""
	default:
		return false
	}
}

// DerivedIndicator is one rule evaluated for one entity.
type DerivedIndicator struct {
	EntityID            string           `json:"entity_id"`
	Name                string           `json:"indicator_name"`
	RawInputs           map[string]Value `json:"raw_inputs"`
	Category            string           `json:"category_label"`
	Value               Value            `json:"composite_value"`
	Complete            bool             `json:"complete"`
	AvailableComponents int              `json:"available_components"`
	TotalComponents     int              `json:"total_components"`
}

// Known reports whether the indicator resolved to a category or value.
func (d DerivedIndicator) Known() bool {
	return d.Category != UnknownCategory
}
