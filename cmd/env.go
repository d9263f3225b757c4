package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/extract"
	"github.com/sells-group/compliance-cli/internal/fetcher"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/resilience"
	"github.com/sells-group/compliance-cli/internal/rules"
	"github.com/sells-group/compliance-cli/internal/scanner"
	"github.com/sells-group/compliance-cli/internal/sources"
	"github.com/sells-group/compliance-cli/internal/store"
)

// scanEnv holds the store and the scan pipeline shared by the scan, batch
// and serve commands.
type scanEnv struct {
	Store       store.Store
	Resolver    *sources.Resolver
	Engine      *rules.Engine
	Scanner     *scanner.Scanner
	Coordinator *scanner.Coordinator

	closers []func() error
}

// Close releases the browser (if started) and the store.
func (e *scanEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// newScanEnv wires the pipeline over already-built collaborators. A nil
// rendered fetcher makes rendered sources fetch statically.
func newScanEnv(st store.Store, static, rendered fetcher.Fetcher, extra []model.SourceConfig, concurrency int) *scanEnv {
	resolver := sources.NewResolver(extra...)
	engine := rules.NewEngine(rules.DefaultTable())
	sc := scanner.New(resolver, fetcher.NewDispatcher(static, rendered), extract.New(), engine, st)
	return &scanEnv{
		Store:       st,
		Resolver:    resolver,
		Engine:      engine,
		Scanner:     sc,
		Coordinator: scanner.NewCoordinator(sc, st, concurrency),
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the fetchers. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*scanEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	var extra []model.SourceConfig
	if cfg.Sources.File != "" {
		loaded, err := sources.LoadFile(cfg.Sources.File)
		if err != nil {
			return nil, err
		}
		extra = loaded
		zap.L().Info("loaded source configs",
			zap.String("file", cfg.Sources.File),
			zap.Int("count", len(loaded)),
		)
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	static := fetcher.NewStaticFetcher(staticOptions(cfg.Fetch))

	var rendered fetcher.Fetcher
	var launcher *fetcher.PlaywrightLauncher
	if cfg.Render.Enabled {
		launcher = fetcher.NewPlaywrightLauncher(fetcher.PlaywrightOptions{
			Browser:   cfg.Render.Browser,
			Headless:  cfg.Render.Headless,
			UserAgent: cfg.Fetch.UserAgent,
		})
		rendered = fetcher.NewRenderedFetcher(launcher, renderOptions(cfg.Render))
	} else {
		zap.L().Debug("rendering disabled, rendered sources fetch statically")
	}

	env := newScanEnv(st, static, rendered, extra, cfg.Batch.Concurrency)
	if launcher != nil {
		env.closers = append(env.closers, launcher.Close)
	}
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "compliance.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
			ConnectRetry: resilience.FromRetryConfig(
				cfg.Store.Retry.MaxAttempts,
				cfg.Store.Retry.InitialBackoffMs,
				cfg.Store.Retry.MaxBackoffMs,
			),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func staticOptions(fc config.FetchConfig) fetcher.StaticOptions {
	return fetcher.StaticOptions{
		UserAgent:    fc.UserAgent,
		Timeout:      time.Duration(fc.StaticTimeoutSecs) * time.Second,
		MaxBodyBytes: fc.MaxBodyBytes,
		RatePerSec:   fc.RatePerSec,
		Burst:        fc.Burst,
		Circuit:      resilience.FromCircuitConfig(fc.FailureThreshold, fc.ResetTimeoutSecs),
	}
}

func renderOptions(rc config.RenderConfig) fetcher.RenderOptions {
	return fetcher.RenderOptions{
		MaxSessions:  rc.MaxSessions,
		NavTimeout:   time.Duration(rc.NavTimeoutSecs) * time.Second,
		ReadyTimeout: time.Duration(rc.ReadyTimeoutSecs) * time.Second,
		SettleDelay:  time.Duration(rc.SettleDelayMs) * time.Millisecond,
	}
}
