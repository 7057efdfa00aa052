package connection

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/relaymesh/internal/metrics"
)

// DialFunc opens a connected Client to url.
type DialFunc func(ctx context.Context, url string) (Client, error)

// Pool keeps a bounded set of Clients per relay URL.
type Pool struct {
	cfg    PoolConfig
	dial   DialFunc
	logger *slog.Logger

	mu        sync.Mutex
	endpoints map[string]*puddle.Pool[Client]
	closed    bool

	opened atomic.Int64
	warm   singleflight.Group

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates a pool and starts its idle reaper.
func NewPool(cfg PoolConfig, dial DialFunc, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnsPerRelay < 1 {
		cfg.MaxConnsPerRelay = 1
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultPoolConfig(cfg.Name).ReapInterval
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = DefaultPoolConfig(cfg.Name).WarmTimeout
	}

	p := &Pool{
		cfg:       cfg,
		dial:      dial,
		logger:    logger.With("pool", cfg.Name),
		endpoints: make(map[string]*puddle.Pool[Client]),
		done:      make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reapLoop()

	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Do runs fn with a live Client for url. A Client whose connection ended
// while fn ran is discarded instead of returned to the pool.
func (p *Pool) Do(ctx context.Context, url string, fn func(Client) error) error {
	res, err := p.acquire(ctx, url)
	if err != nil {
		return err
	}

	err = fn(res.Value())

	if res.Value().IsConnected() {
		res.Release()
	} else {
		res.Destroy()
	}
	return err
}

// Warm makes sure at least one Client to url is connected. Concurrent calls
// for the same url share one dial. The shared dial is not tied to any single
// caller: a caller whose ctx ends returns early while the dial goes on for
// the others, bounded by WarmTimeout and the pool's lifetime.
func (p *Pool) Warm(ctx context.Context, url string) error {
	ch := p.warm.DoChan(url, func() (any, error) {
		dialCtx, cancel := p.warmContext(ctx)
		defer cancel()

		res, err := p.acquire(dialCtx, url)
		if err != nil {
			return nil, err
		}
		res.Release()
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		return r.Err
	}
}

// warmContext keeps ctx's values but not its cancellation.
func (p *Pool) warmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WarmTimeout)
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-dialCtx.Done():
		}
	}()
	return dialCtx, cancel
}

// Connected reports whether url has at least one live Client. Clients held
// by a request count as live; dead idle Clients found on the way are closed.
func (p *Pool) Connected(url string) bool {
	p.mu.Lock()
	pp, ok := p.endpoints[url]
	p.mu.Unlock()
	if !ok {
		return false
	}

	inUse := pp.Stat().AcquiredResources()

	alive := false
	for _, res := range pp.AcquireAllIdle() {
		if res.Value().IsConnected() {
			alive = true
			res.ReleaseUnused()
			continue
		}
		res.Destroy()
	}
	return alive || inUse > 0
}

// Evict closes every Client to url. In-flight requests finish first.
func (p *Pool) Evict(url string) {
	p.mu.Lock()
	pp, ok := p.endpoints[url]
	delete(p.endpoints, url)
	p.mu.Unlock()

	// A Warm still dialing the evicted pool must not be joined by later calls.
	p.warm.Forget(url)

	if !ok {
		return
	}

	p.logger.Debug("evicting relay", "relay", url)
	go pp.Close()
}

// Endpoints returns the relay URLs with a resource pool, sorted.
func (p *Pool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	urls := make([]string, 0, len(p.endpoints))
	for url := range p.endpoints {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Stats returns a point-in-time view of the pool. It never blocks on I/O.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	pools := make([]*puddle.Pool[Client], 0, len(p.endpoints))
	for _, pp := range p.endpoints {
		pools = append(pools, pp)
	}
	p.mu.Unlock()

	s := PoolStats{
		Endpoints: len(pools),
		Opened:    p.opened.Load(),
	}
	for _, pp := range pools {
		st := pp.Stat()
		s.Total += int(st.TotalResources())
		s.Active += int(st.AcquiredResources())
		s.Idle += int(st.IdleResources())
	}
	return s
}

// Destroy closes every Client. The pool cannot be used afterwards.
// Idempotent.
func (p *Pool) Destroy() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		pools := p.endpoints
		p.endpoints = make(map[string]*puddle.Pool[Client])
		p.mu.Unlock()

		close(p.done)
		p.wg.Wait()

		for _, pp := range pools {
			pp.Close()
		}
		metrics.SetPoolConnections(p.cfg.Name, 0, 0, 0)

		p.logger.Info("connection pool destroyed", "relays", len(pools))
	})
}

// acquire returns a connected Client for url, dropping dead ones.
func (p *Pool) acquire(ctx context.Context, url string) (*puddle.Resource[Client], error) {
	pp, err := p.endpointPool(url)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= p.cfg.MaxConnsPerRelay; attempt++ {
		res, err := pp.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, ErrPoolClosed
			}
			return nil, err
		}
		if res.Value().IsConnected() {
			return res, nil
		}
		res.Destroy()
	}
	return nil, &RelayError{URL: url, Op: "dial", Err: ErrNotConnected}
}

func (p *Pool) endpointPool(url string) (*puddle.Pool[Client], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if pp, ok := p.endpoints[url]; ok {
		return pp, nil
	}

	pp, err := puddle.NewPool(&puddle.Config[Client]{
		Constructor: func(ctx context.Context) (Client, error) {
			c, err := p.dial(ctx, url)
			if err != nil {
				p.logger.Debug("dial failed", "relay", url, "error", err)
				return nil, err
			}
			p.opened.Add(1)
			return c, nil
		},
		Destructor: func(c Client) {
			c.Close()
		},
		MaxSize: int32(p.cfg.MaxConnsPerRelay),
	})
	if err != nil {
		return nil, err
	}

	p.endpoints[url] = pp
	return pp, nil
}

// reapLoop closes dead and long-idle Clients and publishes pool gauges.
func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

func (p *Pool) reap() {
	p.mu.Lock()
	pools := make([]*puddle.Pool[Client], 0, len(p.endpoints))
	for _, pp := range p.endpoints {
		pools = append(pools, pp)
	}
	p.mu.Unlock()

	reaped := 0
	for _, pp := range pools {
		for _, res := range pp.AcquireAllIdle() {
			expired := p.cfg.IdleTimeout > 0 && res.IdleDuration() > p.cfg.IdleTimeout
			if expired || !res.Value().IsConnected() {
				res.Destroy()
				reaped++
				continue
			}
			res.ReleaseUnused()
		}
	}

	if reaped > 0 {
		p.logger.Debug("reaped idle clients", "count", reaped)
	}

	s := p.Stats()
	metrics.SetPoolConnections(p.cfg.Name, s.Total, s.Idle, s.Active)
}
