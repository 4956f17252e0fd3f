package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/vaaleriarv/proyecto-salud/internal/config"
	"github.com/vaaleriarv/proyecto-salud/internal/indicator"
	"github.com/vaaleriarv/proyecto-salud/internal/reshape"
	"github.com/vaaleriarv/proyecto-salud/internal/resolve"
	"github.com/vaaleriarv/proyecto-salud/internal/source"
)

// Registry maps stage names to stages.
type Registry struct {
	stages map[string]Stage
	order  []string // insertion order for deterministic planning
}

// NewEmptyRegistry creates a registry with no stages.
func NewEmptyRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// NewRegistry builds the standard stages from configuration: the two
// reshapes, catalog resolution, the food-cost join and one indicator stage
// per rule set.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := NewEmptyRegistry()

	nutrients, err := newReshaper(cfg.Reshape.Nutrients)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: nutrients reshaper")
	}
	clinical, err := newReshaper(cfg.Reshape.Clinical)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: clinical reshaper")
	}

	sim, err := resolve.LookupSimilarity(cfg.Resolve.Similarity)
	if err != nil {
		return nil, err
	}
	resolver, err := resolve.New(resolve.Options{
		Similarity:   sim,
		Threshold:    cfg.Resolve.Threshold,
		Blocking:     cfg.Resolve.Blocking,
		GroupAliases: cfg.Resolve.GroupAliases,
		Vocabulary:   cfg.Resolve.Vocabulary,
		Workers:      cfg.Resolve.Workers,
	})
	if err != nil {
		return nil, err
	}

	sets, err := indicator.LoadRuleSets(cfg.Indicators.RulesFile)
	if err != nil {
		return nil, err
	}
	clinicalRules, err := indicator.NewEngine(sets[indicator.ClinicalSet])
	if err != nil {
		return nil, err
	}
	costRules, err := indicator.NewEngine(sets[indicator.FoodCostSet])
	if err != nil {
		return nil, err
	}

	r.Register(&ReshapeStage{
		StageName:   "reshape_nutrients",
		Source:      cfg.Reshape.Nutrients.Source,
		Descriptors: cfg.Reshape.Nutrients.Descriptors,
		Output:      cfg.Reshape.Nutrients.Output,
		Reshaper:    nutrients,
	})
	r.Register(&ReshapeStage{
		StageName:   "reshape_clinical",
		Source:      cfg.Reshape.Clinical.Source,
		Descriptors: cfg.Reshape.Clinical.Descriptors,
		Output:      cfg.Reshape.Clinical.Output,
		Reshaper:    clinical,
	})
	r.Register(&ResolveStage{
		CatalogA: source.PriceCatalog,
		CatalogB: source.NutritionCatalog,
		Numeric:  []string{"price_per_kg"},
		Output:   CatalogLinks,
		Resolver: resolver,
	})
	r.Register(&JoinStage{
		Prices:         source.PriceCatalog,
		Links:          CatalogLinks,
		Features:       cfg.Reshape.Nutrients.Output,
		Attributes:     nutrients.AttributeNames(),
		AllowAmbiguous: cfg.Resolve.UseAmbiguous,
		Output:         FoodCostInputs,
	})
	r.Register(&IndicatorStage{
		StageName: "clinical_indicators",
		Input:     cfg.Reshape.Clinical.Output,
		Output:    ClinicalIndicators,
		Engine:    clinicalRules,
	})
	r.Register(&IndicatorStage{
		StageName: "food_cost_indicators",
		Input:     FoodCostInputs,
		Output:    FoodCostIndicators,
		Engine:    costRules,
	})
	return r, nil
}

func newReshaper(sec config.ReshapeSection) (*reshape.Reshaper, error) {
	agg, err := reshape.ParseAggregation(sec.Aggregation)
	if err != nil {
		return nil, err
	}
	return reshape.New(reshape.Config{
		Attributes:       sec.Attributes,
		Ignore:           sec.Ignore,
		Aggregation:      agg,
		Strict:           sec.Strict,
		DescriptorFields: sec.Fields,
	})
}

// Register adds a stage to the registry.
func (r *Registry) Register(s Stage) {
	name := s.Name()
	if _, dup := r.stages[name]; !dup {
		r.order = append(r.order, name)
	}
	r.stages[name] = s
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown stage %q", name)
	}
	return s, nil
}

// Select returns the named stages, or every stage when names is empty,
// in registration order.
func (r *Registry) Select(names []string) ([]Stage, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, err := r.Get(n); err != nil {
			return nil, err
		}
		want[n] = true
	}
	var out []Stage
	for _, n := range r.order {
		if want[n] {
			out = append(out, r.stages[n])
		}
	}
	return out, nil
}

// All returns all stages in registration order.
func (r *Registry) All() []Stage {
	out := make([]Stage, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.stages[n])
	}
	return out
}
