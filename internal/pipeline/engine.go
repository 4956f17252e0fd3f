package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/cleaning"
	"github.com/vaaleriarv/proyecto-salud/internal/config"
	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
	"github.com/vaaleriarv/proyecto-salud/internal/source"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

// Engine orchestrates pipeline runs over a store.
type Engine struct {
	store  store.Store
	loader *source.Loader
	filter *cleaning.Filter
	reg    *Registry
}

// RunOpts configures which stages run and whether sources are reloaded.
type RunOpts struct {
	Stages  []string              // restrict to named stages
	Sources []config.SourceConfig // loaded into the store before planning
}

// NewEngine creates a pipeline engine. A nil filter disables cleaning; a
// nil loader means sources are read from the store only.
func NewEngine(st store.Store, loader *source.Loader, filter *cleaning.Filter, reg *Registry) *Engine {
	return &Engine{store: st, loader: loader, filter: filter, reg: reg}
}

// NewFilter builds the cleaning filter from configuration, returning nil
// when cleaning is disabled.
func NewFilter(cfg config.CleaningConfig) (*cleaning.Filter, error) {
	if cfg.Disabled {
		return nil, nil
	}
	tables := cleaning.DefaultTables()
	if cfg.RulesFile != "" {
		loaded, err := cleaning.LoadTables(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		tables = loaded
	}
	return cleaning.NewFilter(tables)
}

// Load reads the sources and writes every loaded relation to the store.
// It returns the load result and the relations whose every source failed.
// A relation the store rejects counts as failed; its source reports carry
// the write error.
func (e *Engine) Load(ctx context.Context, sources []config.SourceConfig) (*source.Result, map[string]bool, error) {
	if e.loader == nil {
		return nil, nil, eris.New("pipeline: no loader configured")
	}
	res, err := e.loader.Load(ctx, sources)
	if err != nil {
		return nil, nil, err
	}

	failed := make(map[string]bool)
	for name, rel := range res.Relations {
		err := e.store.WriteRelation(ctx, rel)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		zap.L().Error("source relation rejected by store",
			zap.String("component", "pipeline.engine"),
			zap.String("relation", name),
			zap.Error(err),
		)
		failed[name] = true
		for i := range res.Reports {
			rep := &res.Reports[i]
			if rep.Relation == name && rep.Err == nil {
				rep.Err = &model.MissingSourceError{Source: rep.Source, Err: eris.Wrapf(err, "pipeline: write source relation %s", name)}
				rep.Error = rep.Err.Error()
			}
		}
	}
	for name := range failed {
		delete(res.Relations, name)
	}
	for _, rep := range res.Reports {
		if _, ok := res.Relations[rep.Relation]; !ok && rep.Err != nil {
			failed[rep.Relation] = true
		}
	}
	return res, failed, nil
}

// Run loads the configured sources, plans the selected stages and runs
// them in order. A stage missing a required input is skipped and its
// outputs count as unavailable for the rest of the run; a missing optional
// input is passed as absent. A schema violation halts the run. The run is
// recorded in the store and its summary returned.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Summary, error) {
	log := zap.L().With(zap.String("component", "pipeline.engine"))
	start := time.Now().UTC()
	sum := &Summary{}

	unavailable := make(map[string]bool)
	if len(opts.Sources) > 0 {
		res, failed, err := e.Load(ctx, opts.Sources)
		if err != nil {
			return sum, e.abort(ctx, sum, start, err)
		}
		sum.Sources = res.Reports
		for rel := range failed {
			unavailable[rel] = true
		}
	}

	selected, err := e.reg.Select(opts.Stages)
	if err != nil {
		return sum, e.abort(ctx, sum, start, err)
	}
	stages, err := Plan(selected)
	if err != nil {
		return sum, e.abort(ctx, sum, start, err)
	}
	log.Info("planned stages", zap.Int("count", len(stages)))

	produced := make(map[string]*schema.Relation)
	cleaned := make(map[string]*schema.Relation)
	var halt error

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return sum, e.abort(ctx, sum, start, err)
		}
		stLog := log.With(zap.String("stage", st.Name()))
		ss := StageSummary{Name: st.Name()}
		stageStart := time.Now()

		in := make(Inputs)
		for _, name := range st.Requires() {
			rel, err := e.input(ctx, name, produced, cleaned, unavailable, sum)
			if err != nil {
				if !model.IsMissingSource(err) {
					halt = err
					break
				}
				ss.MissingRequired = append(ss.MissingRequired, name)
				continue
			}
			in[name] = rel
		}
		if halt != nil {
			ss.Status = StageFailed
			ss.Error = halt.Error()
			sum.Stages = append(sum.Stages, ss)
			stLog.Error("input rejected", zap.Error(halt))
			break
		}
		if len(ss.MissingRequired) > 0 {
			ss.Status = StageSkipped
			for _, out := range st.Produces() {
				unavailable[out] = true
			}
			stLog.Warn("stage skipped", zap.Strings("missing", ss.MissingRequired))
			sum.Stages = append(sum.Stages, ss)
			continue
		}

		for _, name := range st.Optional() {
			if name == "" {
				continue
			}
			rel, err := e.input(ctx, name, produced, cleaned, unavailable, sum)
			if err != nil {
				if !model.IsMissingSource(err) {
					halt = err
					break
				}
				ss.MissingOptional = append(ss.MissingOptional, name)
				stLog.Warn("optional input unavailable", zap.String("relation", name))
				continue
			}
			in[name] = rel
		}
		if halt != nil {
			ss.Status = StageFailed
			ss.Error = halt.Error()
			sum.Stages = append(sum.Stages, ss)
			stLog.Error("input rejected", zap.Error(halt))
			break
		}

		stLog.Info("starting stage")
		res, err := st.Run(ctx, in)
		if err == nil {
			err = e.writeOutputs(ctx, st, res, produced)
		}
		ss.Elapsed = time.Since(stageStart)
		if err != nil {
			if ctx.Err() != nil {
				return sum, e.abort(ctx, sum, start, ctx.Err())
			}
			ss.Status = StageFailed
			ss.Error = err.Error()
			sum.Stages = append(sum.Stages, ss)
			for _, out := range st.Produces() {
				unavailable[out] = true
			}
			stLog.Error("stage failed", zap.Error(err), zap.Duration("elapsed", ss.Elapsed))
			if model.IsSchemaViolation(err) {
				halt = err
				break
			}
			continue
		}

		ss.Status = StageOK
		ss.Metrics = res.Metrics
		ss.Warnings = res.Warnings
		ss.Rows = make(map[string]int, len(res.Relations))
		for _, rel := range res.Relations {
			ss.Rows[rel.Name()] = rel.Len()
		}
		sum.Stages = append(sum.Stages, ss)
		stLog.Info("stage complete",
			zap.Any("rows", ss.Rows),
			zap.Int("warnings", ss.Warnings),
			zap.Duration("elapsed", ss.Elapsed),
		)
	}

	e.writeFlags(ctx, sum)

	sum.Elapsed = time.Since(start)
	sum.Status = sum.status(halt != nil)
	ok, skipped, failed := sum.Counts()
	log.Info("pipeline run complete",
		zap.String("status", string(sum.Status)),
		zap.Int("ok", ok),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	e.record(ctx, sum, start, halt)
	if halt != nil {
		return sum, halt
	}
	return sum, nil
}

// abort records a run that stopped outside any stage outcome: a load or
// planning error, or cancellation.
func (e *Engine) abort(ctx context.Context, sum *Summary, start time.Time, err error) error {
	sum.Elapsed = time.Since(start)
	sum.Status = store.RunFailed
	e.record(ctx, sum, start, err)
	return err
}

func (e *Engine) record(ctx context.Context, sum *Summary, start time.Time, runErr error) {
	log := zap.L().With(zap.String("component", "pipeline.engine"))
	body, err := json.Marshal(sum)
	if err != nil {
		log.Error("failed to encode run summary", zap.Error(err))
		body = nil
	}
	run := &store.Run{
		Status:      sum.Status,
		StartedAt:   start,
		CompletedAt: time.Now().UTC(),
		Summary:     body,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// A cancelled run is still recorded.
	if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("failed to record run", zap.Error(err))
	}
}

// writeFlags stores the values the cleaning filter rejected during this run
// as the quality_flags relation. Runs that cleaned nothing leave the
// previous flags in place.
func (e *Engine) writeFlags(ctx context.Context, sum *Summary) {
	if len(sum.Cleaning) == 0 {
		return
	}
	rel := cleaning.FlagRelation(QualityFlags, sum.Cleaning)
	if err := e.store.WriteRelation(ctx, rel); err != nil {
		zap.L().Error("failed to store quality flags",
			zap.String("component", "pipeline.engine"),
			zap.Error(err),
		)
		return
	}
	sum.Flagged = rel.Len()
}

// input returns a relation produced earlier in the run, or reads it from
// the store and applies the cleaning filter. Relations marked unavailable
// are reported missing without touching the store.
func (e *Engine) input(ctx context.Context, name string, produced, cleaned map[string]*schema.Relation, unavailable map[string]bool, sum *Summary) (*schema.Relation, error) {
	if rel, ok := produced[name]; ok {
		return rel, nil
	}
	if rel, ok := cleaned[name]; ok {
		return rel, nil
	}
	if unavailable[name] {
		return nil, &model.MissingSourceError{Source: name, Err: eris.New("pipeline: not available in this run")}
	}

	sch, err := source.Declared(name)
	if err != nil {
		sch, err = e.store.RelationSchema(ctx, name)
		if err != nil {
			return nil, err
		}
	}
	rel, err := e.store.ReadRelation(ctx, sch, 0)
	if err != nil {
		var sv *model.SchemaViolationError
		if errors.As(err, &sv) {
			// A stored input with the wrong shape is treated as absent.
			return nil, &model.MissingSourceError{Source: name, Err: err}
		}
		return nil, err
	}

	if e.filter != nil && e.filter.Has(name) {
		var report *cleaning.Report
		rel, report = e.filter.Apply(rel)
		sum.Cleaning = append(sum.Cleaning, report)
	}
	cleaned[name] = rel
	return rel, nil
}

func (e *Engine) writeOutputs(ctx context.Context, st Stage, res *StageResult, produced map[string]*schema.Relation) error {
	for _, rel := range res.Relations {
		if err := rel.Validate(); err != nil {
			return eris.Wrapf(err, "pipeline: %s output %s", st.Name(), rel.Name())
		}
	}
	for _, rel := range res.Relations {
		if err := e.store.WriteRelation(ctx, rel); err != nil {
			return eris.Wrapf(err, "pipeline: write %s", rel.Name())
		}
		produced[rel.Name()] = rel
	}
	return nil
}
