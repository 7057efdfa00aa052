// Package app assembles relaymesh components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/relaymesh/internal/config"
	"github.com/rickgao/relaymesh/internal/connection"
	"github.com/rickgao/relaymesh/internal/database"
	"github.com/rickgao/relaymesh/internal/dispatch"
	"github.com/rickgao/relaymesh/internal/health"
	"github.com/rickgao/relaymesh/internal/orchestrator"
	"github.com/rickgao/relaymesh/internal/poller"
	"github.com/rickgao/relaymesh/internal/queue"
	"github.com/rickgao/relaymesh/internal/relayinfo"
	"github.com/rickgao/relaymesh/internal/router"
	"github.com/rickgao/relaymesh/internal/strategy"
)

// ErrUnknownRelay is returned for relays outside the active set.
var ErrUnknownRelay = errors.New("relay is not active")

// App holds a fully wired relaymesh instance.
type App struct {
	Monitor      *health.Monitor
	Orchestrator *orchestrator.Orchestrator
	Service      *dispatch.Service
	General      *connection.Pool
	Isolated     *connection.Pool

	generalQueues  *queue.Manager
	isolatedQueues *queue.Manager
	prober         *poller.Poller
	info           *relayinfo.Client
	store          *database.RelayStore
	logger         *slog.Logger
}

// New builds every component. The preferences database is connected when
// configured; nothing else touches the network until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := orchestrator.ParseMode(cfg.Relays.Mode)
	if err != nil {
		return nil, err
	}

	a := &App{
		logger: logger,
		info: relayinfo.NewClient(
			relayinfo.WithTimeout(cfg.Connection.HandshakeTimeout),
			relayinfo.WithLogger(logger),
		),
	}

	a.Monitor = health.NewMonitor(healthConfig(cfg.Health), logger)

	dial := connection.NewDialer(clientConfig(cfg.Connection), logger)
	a.General = connection.NewPool(poolConfig(router.PoolGeneral, cfg.Connection), dial, logger)
	a.Isolated = connection.NewPool(poolConfig(router.PoolIsolated, cfg.Connection), dial, logger)

	defaults, overrides := queueConfigs(cfg.Queue)
	a.generalQueues = queue.NewManager(defaults, overrides, logger.With("pool", router.PoolGeneral))
	a.isolatedQueues = queue.NewManager(defaults, overrides, logger.With("pool", router.PoolIsolated))

	strat := strategy.NewManager(a.Monitor, strategy.DefaultProfiles(), logger)

	generalPipeline := dispatch.NewPipeline(pipelineConfig(router.PoolGeneral, cfg.Query), a.General, strat, a.generalQueues, a.Monitor, logger)
	isolatedPipeline := dispatch.NewPipeline(pipelineConfig(router.PoolIsolated, cfg.Query), a.Isolated, strat, a.isolatedQueues, a.Monitor, logger)

	var source orchestrator.EndpointSource
	if cfg.Database.Enabled() {
		store, err := database.NewRelayStore(ctx, cfg.Database)
		if err != nil {
			a.teardown()
			return nil, fmt.Errorf("connect preferences database: %w", err)
		}
		a.store = store
		source = store
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.General = cfg.Relays.General
	orchCfg.Search = cfg.Relays.Search
	orchCfg.Isolated = cfg.Relays.Isolated
	orchCfg.InitialMode = mode
	orchCfg.ConnectTimeout = cfg.Connection.ConnectTimeout
	a.Orchestrator = orchestrator.New(orchCfg, a.General, a.Isolated, a.Monitor, source, logger)
	a.Monitor.SetActiveRelaysProvider(a.Orchestrator.ActiveEndpoints)

	a.Service, err = dispatch.NewService(router.New(cfg.Relays.Isolated), a.Orchestrator, generalPipeline, isolatedPipeline, logger)
	if err != nil {
		a.teardown()
		return nil, err
	}

	if cfg.Poller.Enabled {
		a.prober = poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
			Timeout:     cfg.Poller.Timeout,
		}, a.Orchestrator, a.Service, logger)
	}

	return a, nil
}

// Start begins health pruning, connects the initial mode and starts the
// prober.
func (a *App) Start(ctx context.Context) error {
	a.Monitor.Start()

	if err := a.Orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	if a.prober != nil {
		if err := a.prober.Start(ctx); err != nil {
			return fmt.Errorf("start prober: %w", err)
		}
	}
	return nil
}

// Stop shuts components down in reverse dependency order.
func (a *App) Stop(ctx context.Context) error {
	if a.prober != nil {
		if err := a.prober.Stop(ctx); err != nil {
			a.logger.Warn("prober shutdown incomplete", "error", err)
		}
	}
	if err := a.Orchestrator.Stop(ctx); err != nil {
		a.logger.Warn("orchestrator shutdown incomplete", "error", err)
	}
	a.teardown()
	return nil
}

// SetMode switches the operating mode by name.
func (a *App) SetMode(ctx context.Context, name string) (orchestrator.Mode, error) {
	mode, err := orchestrator.ParseMode(name)
	if err != nil {
		return mode, err
	}
	a.Orchestrator.OnContextChange(ctx, mode)
	return mode, nil
}

// QueueStats returns queue statistics keyed by pool, then queue name.
func (a *App) QueueStats() map[string]map[string]queue.Stats {
	return map[string]map[string]queue.Stats{
		string(router.PoolGeneral):  a.generalQueues.Stats(),
		string(router.PoolIsolated): a.isolatedQueues.Stats(),
	}
}

// RelayInfo fetches the information document of an active relay.
func (a *App) RelayInfo(ctx context.Context, url string) (*relayinfo.Document, error) {
	key := router.NormalizeURL(url)
	for _, active := range a.Orchestrator.ActiveEndpoints() {
		if router.NormalizeURL(active) == key {
			return a.info.Fetch(ctx, active)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRelay, url)
}

// Ping checks the preferences database, if one is configured.
func (a *App) Ping(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.Ping(ctx)
}

// DatabaseEnabled reports whether preferred relays come from Postgres.
func (a *App) DatabaseEnabled() bool {
	return a.store != nil
}

func (a *App) teardown() {
	a.generalQueues.Close()
	a.isolatedQueues.Close()
	a.General.Destroy()
	a.Isolated.Destroy()
	a.Monitor.Destroy()
	if a.store != nil {
		a.store.Close()
	}
}

func healthConfig(c config.HealthConfig) health.Config {
	return health.Config{
		Alpha:             c.Alpha,
		InitialScore:      c.InitialScore,
		HealthyThreshold:  c.HealthyThreshold,
		DegradedThreshold: c.DegradedThreshold,
		PruneInterval:     c.PruneInterval,
		Retention:         c.Retention,
	}
}

func clientConfig(c config.ConnectionConfig) connection.ClientConfig {
	cfg := connection.DefaultClientConfig()
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.PingInterval = c.PingInterval
	cfg.PingTimeout = c.PingTimeout
	return cfg
}

func poolConfig(kind router.PoolKind, c config.ConnectionConfig) connection.PoolConfig {
	cfg := connection.DefaultPoolConfig(string(kind))
	cfg.MaxConnsPerRelay = c.MaxConnsPerRelay
	cfg.IdleTimeout = c.IdleTimeout
	if c.IdleTimeout > 0 && c.IdleTimeout < cfg.ReapInterval {
		cfg.ReapInterval = c.IdleTimeout
	}
	return cfg
}

// queueConfigs resolves the base queue settings and per-queue overrides.
// Zero override fields inherit the base value.
func queueConfigs(c config.QueueConfig) (queue.Config, map[string]queue.Config) {
	base := queue.Config{
		Concurrency: c.Concurrency,
		Rate:        c.Rate,
		Burst:       c.Burst,
		Capacity:    c.Capacity,
		MaxWait:     c.MaxWait,
		HighBurst:   c.HighBurst,
	}

	overrides := make(map[string]queue.Config, len(c.Overrides))
	for name, o := range c.Overrides {
		cfg := base
		if o.Concurrency > 0 {
			cfg.Concurrency = o.Concurrency
		}
		if o.Rate > 0 {
			cfg.Rate = o.Rate
		}
		if o.Burst > 0 {
			cfg.Burst = o.Burst
		}
		if o.Capacity > 0 {
			cfg.Capacity = o.Capacity
		}
		overrides[name] = cfg
	}
	return base, overrides
}

func pipelineConfig(kind router.PoolKind, c config.QueryConfig) dispatch.PipelineConfig {
	cfg := dispatch.DefaultPipelineConfig(string(kind))
	cfg.QueryTimeout = c.Timeout
	cfg.PublishTimeout = c.PublishTimeout
	for name, n := range c.Fanout {
		intent, err := strategy.ParseIntent(name)
		if err != nil {
			continue
		}
		cfg.Fanout[intent] = n
	}
	return cfg
}

// shutdownTimeout bounds Stop when callers have no deadline of their own.
const shutdownTimeout = 30 * time.Second

// Shutdown stops the app with a fresh bounded context.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Stop(ctx)
}
