package source

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Input relation names.
const (
	NutrientMeasurements = "nutrient_measurements"
	ClinicalMeasurements = "clinical_measurements"
	NutritionCatalog     = "nutrition_catalog"
	PriceCatalog         = "price_catalog"
)

// Declared returns the input schema of a relation. Names ending in
// _measurements are long-format tables and names ending in _catalog are
// entity catalogs; the price catalog also carries price_per_kg.
func Declared(relation string) (schema.Schema, error) {
	switch {
	case relation == PriceCatalog:
		return schema.Catalog(relation, "price_per_kg"), nil
	case strings.HasSuffix(relation, "_measurements"):
		return schema.Measurements(relation), nil
	case strings.HasSuffix(relation, "_catalog"):
		return schema.Catalog(relation), nil
	default:
		return schema.Schema{}, eris.Errorf("source: no declared schema for relation %q", relation)
	}
}
