package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakif/berri-graph/internal/cache"
	"github.com/sakif/berri-graph/internal/config"
	"github.com/sakif/berri-graph/internal/handler"
	"github.com/sakif/berri-graph/internal/metrics"
	"github.com/sakif/berri-graph/internal/repository"
	neo4jRepo "github.com/sakif/berri-graph/internal/repository/neo4j"
	sqliteRepo "github.com/sakif/berri-graph/internal/repository/sqlite"
	"github.com/sakif/berri-graph/internal/service"
	"github.com/sakif/berri-graph/internal/socialapi"
)

// App is the composition root shared by the HTTP server and berrictl:
//
//	config → GraphStore, socialapi.Client, MutualCache
//	       → ConnectionService → MutualService
type App struct {
	Config      *config.Config
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Store       repository.GraphStore
	API         *socialapi.Client
	Cache       cache.MutualCache
	Connections *service.ConnectionService
	Mutuals     *service.MutualService

	// dependencies reported by /healthz
	Checks map[string]handler.Pinger

	closers []func() error
}

// NewApp opens every backend named in cfg and wires the services.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	app := &App{
		Config:   cfg,
		Registry: reg,
		Metrics:  m,
		Checks:   map[string]handler.Pinger{},
	}

	store, err := openStore(ctx, cfg.Graph)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.Checks["graph"] = store
	app.closers = append(app.closers, store.Close)

	mutualCache, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Cache = mutualCache
	if rc, ok := mutualCache.(*cache.Redis); ok {
		app.Checks["cache"] = rc
		app.closers = append(app.closers, rc.Close)
	}

	ranking, err := service.ParseRanking(cfg.Mutuals.Ranking)
	if err != nil {
		app.Close()
		return nil, err
	}

	if cfg.SocialAPI.APIKey == "" {
		logger.Warn("SOCIALAPI_KEY not set, find-mutuals requests will fail")
	}
	app.API = socialapi.New(socialapi.Config{
		BaseURL:           cfg.SocialAPI.BaseURL,
		APIKey:            cfg.SocialAPI.APIKey,
		Timeout:           cfg.SocialAPI.TimeoutDuration(),
		PageSize:          cfg.SocialAPI.PageSize,
		RequestsPerSecond: cfg.SocialAPI.RequestsPerSecond,
		Burst:             cfg.SocialAPI.Burst,
	}, m, logger)

	policy := service.DefaultPolicy()
	policy.MaxAge = cfg.Staleness.MaxAgeDuration()
	policy.DriftThreshold = cfg.Staleness.DriftThreshold

	app.Connections = service.NewConnectionService(store, app.API, policy, m, logger)
	app.Mutuals = service.NewMutualService(app.Connections, store, mutualCache, ranking, m, logger)

	logger.Info("app initialised",
		slog.String("graph_backend", cfg.Graph.Backend),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("ranking", string(ranking)),
		slog.Duration("max_age", policy.MaxAge),
	)
	return app, nil
}

func openStore(ctx context.Context, cfg config.GraphConfig) (repository.GraphStore, error) {
	switch cfg.Backend {
	case "neo4j":
		store, err := neo4jRepo.New(ctx, neo4jRepo.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("opening neo4j: %w", err)
		}
		return store, nil
	default:
		if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}
}

func openCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (cache.MutualCache, error) {
	if cfg.Backend != "redis" {
		return cache.NewMemory(cfg.Capacity, cfg.TTLDuration()), nil
	}

	rc, err := cache.NewRedis(cache.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		TTL:       cfg.TTLDuration(),
		KeyPrefix: cfg.Redis.KeyPrefix,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return rc, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
