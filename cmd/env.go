package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-summary/internal/factscache"
	"github.com/sells-group/filing-summary/internal/pipeline"
	"github.com/sells-group/filing-summary/internal/store"
	anthropicpkg "github.com/sells-group/filing-summary/pkg/anthropic"
	"github.com/sells-group/filing-summary/pkg/facts"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "filing-summary.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv bundles the initialized subsystems a command needs.
type pipelineEnv struct {
	Store    store.Store
	Cache    *factscache.Cache
	Pipeline *pipeline.Pipeline
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	factsClient := facts.NewClient(
		facts.WithBaseURL(cfg.Facts.BaseURL),
		facts.WithUserAgent(cfg.Facts.UserAgent),
		facts.WithRateLimit(cfg.Facts.RatePerSec),
	)

	cache := factscache.New(factsClient, st, factscache.Options{
		TTL:               cfg.Cache.TTL(),
		InvalidateScanCap: cfg.Cache.InvalidateScanCap,
		InvalidateTimeout: time.Duration(cfg.Cache.InvalidateTimeoutSecs) * time.Second,
	})
	cache.StartSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalMins)*time.Minute)

	return &pipelineEnv{
		Store:    st,
		Cache:    cache,
		Pipeline: pipeline.New(cfg, st, aiClient, cache),
	}, nil
}
