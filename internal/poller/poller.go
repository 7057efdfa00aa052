package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RelaySource provides the relays to probe.
type RelaySource interface {
	ConnectedEndpoints() []string
}

// Prober checks one relay. Implementations record the outcome as health
// signal themselves.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// ProberFunc is a function adapter for Prober.
type ProberFunc func(ctx context.Context, url string) error

func (f ProberFunc) Probe(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Probe interval (default: 2m)
	Concurrency int           // Max concurrent probes (default: 8)
	Timeout     time.Duration // Per-probe timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Minute,
		Concurrency: 8,
		Timeout:     5 * time.Second,
	}
}

// CycleStats summarizes one probe cycle.
type CycleStats struct {
	Relays   int
	Healthy  int64
	Failed   int64
	Duration time.Duration
}

// Poller periodically probes connected relays.
type Poller struct {
	cfg    Config
	relays RelaySource
	prober Prober
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, relays RelaySource, prober Prober, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:    cfg,
		relays: relays,
		prober: prober,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start begins the probe loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("health prober started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("health prober stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main probe loop. The first cycle waits one interval so it does
// not race the orchestrator's initial connects.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.probeAll()
		}
	}
}

// probeAll probes every connected relay concurrently.
func (p *Poller) probeAll() CycleStats {
	start := time.Now()

	relays := p.relays.ConnectedEndpoints()
	if len(relays) == 0 {
		p.logger.Debug("no connected relays to probe")
		return CycleStats{}
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var healthy, failed atomic.Int64

	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.probeRelay(url); err != nil {
				p.logger.Debug("relay probe failed",
					"relay", url,
					"err", err,
				)
				failed.Add(1)
				return
			}

			healthy.Add(1)
		}(url)
	}

	wg.Wait()

	stats := CycleStats{
		Relays:   len(relays),
		Healthy:  healthy.Load(),
		Failed:   failed.Load(),
		Duration: time.Since(start),
	}

	p.logger.Info("probe cycle complete",
		"relays", stats.Relays,
		"healthy", stats.Healthy,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)
	return stats
}

// probeRelay probes a single relay.
func (p *Poller) probeRelay(url string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	return p.prober.Probe(ctx, url)
}
