package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MirrorResult counts what Mirror copied.
type MirrorResult struct {
	Relations int   `json:"relations"`
	Rows      int64 `json:"rows"`
	Runs      int   `json:"runs"`
}

// Mirror copies every relation and the run log from one store to another,
// replacing relations of the same name in the destination.
func Mirror(ctx context.Context, from, to Store) (*MirrorResult, error) {
	log := zap.L().With(zap.String("component", "store.mirror"))

	infos, err := from.ListRelations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "store: mirror list relations")
	}

	res := &MirrorResult{}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := from.ReadRelation(ctx, info.Schema, 0)
		if err != nil {
			return nil, eris.Wrapf(err, "store: mirror read %s", info.Name)
		}
		if err := to.WriteRelation(ctx, rel); err != nil {
			return nil, eris.Wrapf(err, "store: mirror write %s", info.Name)
		}
		log.Debug("relation mirrored", zap.String("relation", info.Name), zap.Int("rows", rel.Len()))
		res.Relations++
		res.Rows += int64(rel.Len())
	}

	runs, err := from.ListRuns(ctx, RunFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "store: mirror list runs")
	}
	for i := range runs {
		if err := to.SaveRun(ctx, &runs[i]); err != nil {
			return nil, eris.Wrapf(err, "store: mirror run %s", runs[i].ID)
		}
		res.Runs++
	}

	log.Info("mirror complete",
		zap.Int("relations", res.Relations),
		zap.Int64("rows", res.Rows),
		zap.Int("runs", res.Runs),
	)
	return res, nil
}
