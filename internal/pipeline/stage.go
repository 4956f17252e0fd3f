// Package pipeline orders the integration stages by their declared inputs
// and outputs and runs them over relations held in a store.
package pipeline

import (
	"context"

	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Relation names produced and consumed by the built-in stages.
const (
	CatalogLinks       = "catalog_links"
	FoodCostInputs     = "food_cost_inputs"
	ClinicalIndicators = "clinical_indicators"
	FoodCostIndicators = "food_cost_indicators"
	QualityFlags       = "quality_flags"
)

// Inputs holds the relations handed to a stage. An optional input that was
// unavailable is absent.
type Inputs map[string]*schema.Relation

// Get returns the named relation or nil.
func (in Inputs) Get(name string) *schema.Relation {
	return in[name]
}

// StageResult is what a stage hands back to the engine.
type StageResult struct {
	Relations []*schema.Relation
	Metrics   map[string]any
	Warnings  int
}

// Stage is one unit of the pipeline. Requires lists inputs without which
// the stage is skipped; Optional lists inputs it degrades without.
type Stage interface {
	// Name returns the unique stage name (e.g., "reshape_nutrients").
	Name() string

	// Requires returns the relations the stage cannot run without.
	Requires() []string

	// Optional returns the relations the stage uses when available.
	Optional() []string

	// Produces returns the relations the stage writes.
	Produces() []string

	// Run computes the stage outputs from fully materialized inputs.
	Run(ctx context.Context, in Inputs) (*StageResult, error)
}
