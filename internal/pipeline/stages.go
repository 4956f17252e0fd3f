package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/indicator"
	"github.com/vaaleriarv/proyecto-salud/internal/reshape"
	"github.com/vaaleriarv/proyecto-salud/internal/resolve"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// ReshapeStage pivots a measurement relation into feature vectors.
type ReshapeStage struct {
	StageName   string
	Source      string
	Descriptors string
	Output      string
	Reshaper    *reshape.Reshaper
}

func (s *ReshapeStage) Name() string       { return s.StageName }
func (s *ReshapeStage) Requires() []string { return []string{s.Source} }
func (s *ReshapeStage) Produces() []string { return []string{s.Output} }

func (s *ReshapeStage) Optional() []string {
	if s.Descriptors == "" {
		return nil
	}
	return []string{s.Descriptors}
}

func (s *ReshapeStage) Run(_ context.Context, in Inputs) (*StageResult, error) {
	rel, stats, err := s.Reshaper.ReshapeRelation(in.Get(s.Source), in.Get(s.Descriptors), s.Output)
	if err != nil {
		return nil, err
	}
	return &StageResult{
		Relations: []*schema.Relation{rel},
		Metrics: map[string]any{
			"records":      stats.Records,
			"entities":     stats.Entities,
			"duplicates":   stats.Duplicates,
			"ignored":      stats.Ignored,
			"skipped":      stats.Skipped,
			"parse_errors": stats.ParseErrors,
			"unknown":      stats.Unknown,
		},
	}, nil
}

// ResolveStage links catalog A entities to catalog B. Catalog B is
// optional; without it every link list is empty.
type ResolveStage struct {
	CatalogA string
	CatalogB string
	Numeric  []string // numeric catalog A fields carried on each entry
	Output   string
	Resolver *resolve.Resolver
}

func (s *ResolveStage) Name() string       { return "resolve_catalogs" }
func (s *ResolveStage) Requires() []string { return []string{s.CatalogA} }
func (s *ResolveStage) Optional() []string { return []string{s.CatalogB} }
func (s *ResolveStage) Produces() []string { return []string{s.Output} }

func (s *ResolveStage) Run(ctx context.Context, in Inputs) (*StageResult, error) {
	a := resolve.DecodeCatalog(in.Get(s.CatalogA), s.CatalogA, s.Numeric...)
	b := resolve.DecodeCatalog(in.Get(s.CatalogB), s.CatalogB)

	res, err := s.Resolver.Resolve(ctx, a, b)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve catalogs")
	}

	log := zap.L().With(zap.String("component", "pipeline.resolve"))
	for _, w := range res.Warnings {
		log.Debug("match warning", zap.Error(w))
	}
	return &StageResult{
		Relations: []*schema.Relation{resolve.LinksRelation(s.Output, res.Links)},
		Metrics: map[string]any{
			"matched":     res.Stats.Matched,
			"ambiguous":   res.Stats.Ambiguous,
			"unmatched":   res.Stats.Unmatched,
			"comparisons": res.Stats.Comparisons,
		},
		Warnings: len(res.Warnings),
	}, nil
}

// IndicatorStage evaluates one rule set over a relation of subjects.
type IndicatorStage struct {
	StageName string
	Input     string
	Output    string
	Engine    *indicator.Engine
}

func (s *IndicatorStage) Name() string       { return s.StageName }
func (s *IndicatorStage) Requires() []string { return []string{s.Input} }
func (s *IndicatorStage) Optional() []string { return nil }
func (s *IndicatorStage) Produces() []string { return []string{s.Output} }

func (s *IndicatorStage) Run(_ context.Context, in Inputs) (*StageResult, error) {
	res, err := s.Engine.Evaluate(indicator.SubjectsFromRelation(in.Get(s.Input)))
	if err != nil {
		return nil, err
	}
	return &StageResult{
		Relations: []*schema.Relation{indicator.ToRelation(s.Output, res.Indicators)},
		Metrics: map[string]any{
			"subjects":     res.Stats.Subjects,
			"indicators":   res.Stats.Indicators,
			"partial":      res.Stats.Partial,
			"parse_errors": res.Stats.ParseErrors,
			"unknown":      res.Stats.Unknown,
		},
	}, nil
}
