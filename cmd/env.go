package main

import (
	"context"

	"github.com/vaaleriarv/proyecto-salud/internal/pipeline"
	"github.com/vaaleriarv/proyecto-salud/internal/source"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initEngine validates the config for mode and builds the store, stage
// registry, cleaning filter and loader. Callers should close the store.
func initEngine(ctx context.Context, mode string) (*pipeline.Engine, store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, nil, err
	}

	reg, err := pipeline.NewRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	filter, err := pipeline.NewFilter(cfg.Cleaning)
	if err != nil {
		return nil, nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	loader := source.NewLoader(source.OptionsFromConfig(cfg.Fetch))
	return pipeline.NewEngine(st, loader, filter, reg), st, nil
}
