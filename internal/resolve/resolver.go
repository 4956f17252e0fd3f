// Package resolve links entities across catalogs with different naming
// vocabularies by fuzzy name similarity.
package resolve

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
)

// tieEpsilon is the score difference below which two candidates tie.
const tieEpsilon = 1e-9

// InvalidEntityNameError is an entity whose name normalizes to nothing.
type InvalidEntityNameError struct {
	CatalogID string
	EntityID  string
	Name      string
}

func (e *InvalidEntityNameError) Error() string {
	return fmt.Sprintf("resolve: entity %q in catalog %q has an empty normalized name (raw %q)",
		e.EntityID, e.CatalogID, e.Name)
}

// Options configures a Resolver.
type Options struct {
	Similarity   Similarity
	Threshold    float64
	Blocking     bool
	GroupAliases map[string]string // catalog A group -> catalog B group, normalized
	Vocabulary   map[string]string
	Workers      int
}

// Stats counts resolver outcomes.
type Stats struct {
	Matched     int   `json:"matched"`
	Ambiguous   int   `json:"ambiguous"`
	Unmatched   int   `json:"unmatched"`
	Comparisons int64 `json:"comparisons"`
}

// Result is the output of Resolve. Warnings hold one entry per ambiguous
// or unmatched link, in catalog A order.
type Result struct {
	Links    []model.MatchLink
	Warnings []error
	Stats    Stats
}

// Resolver matches catalog A entities to catalog B candidates.
type Resolver struct {
	sim     Similarity
	norm    *Normalizer
	opts    Options
	aliases map[string]string
}

// New validates opts and builds a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Similarity == nil {
		s, err := LookupSimilarity(DefaultSimilarity)
		if err != nil {
			return nil, err
		}
		opts.Similarity = s
	}
	if opts.Threshold < 0 || opts.Threshold > 100 {
		return nil, eris.Errorf("resolve: threshold %.2f outside [0, 100]", opts.Threshold)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	r := &Resolver{
		sim:     opts.Similarity,
		norm:    NewNormalizer(opts.Vocabulary),
		opts:    opts,
		aliases: make(map[string]string, len(opts.GroupAliases)),
	}
	for k, v := range opts.GroupAliases {
		r.aliases[NormalizeName(k)] = NormalizeName(v)
	}
	return r, nil
}

// prepare recomputes normalized names and rejects empty ones.
func (r *Resolver) prepare(entries []model.CatalogEntry) ([]model.CatalogEntry, error) {
	out := make([]model.CatalogEntry, len(entries))
	for i, e := range entries {
		e.NormalizedName = r.norm.Normalize(e.CanonicalName)
		if e.NormalizedName == "" {
			return nil, &InvalidEntityNameError{CatalogID: e.CatalogID, EntityID: e.EntityID, Name: e.CanonicalName}
		}
		out[i] = e
	}
	return out, nil
}

// Resolve produces exactly one MatchLink per catalog A entity, in catalog
// A order. Ties at the best score go to the earliest catalog B candidate.
// An empty catalog on either side yields no links.
func (r *Resolver) Resolve(ctx context.Context, catalogA, catalogB []model.CatalogEntry) (*Result, error) {
	log := zap.L().With(zap.String("component", "resolve"), zap.String("similarity", r.sim.Name()))

	a, err := r.prepare(catalogA)
	if err != nil {
		return nil, err
	}
	b, err := r.prepare(catalogB)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if len(a) == 0 || len(b) == 0 {
		log.Info("empty catalog, no links produced", zap.Int("catalog_a", len(a)), zap.Int("catalog_b", len(b)))
		return res, nil
	}

	candidates := r.index(b)
	links := make([]model.MatchLink, len(a))
	comparisons := make([]int64, r.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(a) + r.opts.Workers - 1) / r.opts.Workers
	for w := 0; w < r.opts.Workers; w++ {
		lo := w * chunk
		if lo >= len(a) {
			break
		}
		hi := lo + chunk
		if hi > len(a) {
			hi = len(a)
		}
		w := w
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return eris.Wrap(err, "resolve: cancelled")
				}
				pool := candidates(a[i])
				links[i] = r.best(a[i], b, pool)
				comparisons[w] += int64(len(pool))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Links = links
	for _, c := range comparisons {
		res.Stats.Comparisons += c
	}
	for _, l := range links {
		switch l.Status {
		case model.Matched:
			res.Stats.Matched++
		case model.Ambiguous:
			res.Stats.Ambiguous++
			res.Warnings = append(res.Warnings, &model.AmbiguousMatchWarning{
				EntityID: l.EntityIDA, ChosenID: l.EntityIDB, Score: l.Score, Candidates: l.TiedCandidates,
			})
		case model.Unmatched:
			res.Stats.Unmatched++
			res.Warnings = append(res.Warnings, &model.UnmatchedEntityWarning{
				EntityID: l.EntityIDA, BestScore: l.Score, Threshold: r.opts.Threshold,
			})
		}
	}
	for _, w := range res.Warnings {
		log.Debug("match warning", zap.String("detail", w.Error()))
	}

	log.Info("resolve complete",
		zap.Int("matched", res.Stats.Matched),
		zap.Int("ambiguous", res.Stats.Ambiguous),
		zap.Int("unmatched", res.Stats.Unmatched),
		zap.Int64("comparisons", res.Stats.Comparisons),
	)
	return res, nil
}

// index returns a function yielding the catalog B positions an A entity
// is compared against, in catalog B order.
func (r *Resolver) index(b []model.CatalogEntry) func(model.CatalogEntry) []int {
	all := make([]int, len(b))
	for i := range b {
		all[i] = i
	}
	if !r.opts.Blocking {
		return func(model.CatalogEntry) []int { return all }
	}

	groups := make(map[string][]int)
	for i, e := range b {
		g := NormalizeName(e.GroupLabel)
		groups[g] = append(groups[g], i)
	}
	return func(e model.CatalogEntry) []int {
		g := NormalizeName(e.GroupLabel)
		if alias, ok := r.aliases[g]; ok {
			g = alias
		}
		return groups[g]
	}
}

func (r *Resolver) best(a model.CatalogEntry, b []model.CatalogEntry, pool []int) model.MatchLink {
	link := model.MatchLink{
		EntityIDA:       a.EntityID,
		NormalizedNameA: a.NormalizedName,
		Status:          model.Unmatched,
	}
	bestIdx := -1
	bestScore := 0.0
	ties := 0
	for _, j := range pool {
		s := clamp(r.sim.Score(a.NormalizedName, b[j].NormalizedName))
		switch {
		case bestIdx < 0 || s > bestScore+tieEpsilon:
			bestIdx, bestScore, ties = j, s, 1
		case s >= bestScore-tieEpsilon:
			ties++
		}
	}
	if bestIdx < 0 {
		return link
	}

	link.EntityIDB = b[bestIdx].EntityID
	link.NormalizedNameB = b[bestIdx].NormalizedName
	link.Score = bestScore
	link.TiedCandidates = ties
	switch {
	case bestScore < r.opts.Threshold:
		link.Status = model.Unmatched
	case ties > 1:
		link.Status = model.Ambiguous
	default:
		link.Status = model.Matched
	}
	return link
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
