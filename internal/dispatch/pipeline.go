package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/relaymesh/internal/connection"
	"github.com/rickgao/relaymesh/internal/model"
	"github.com/rickgao/relaymesh/internal/queue"
	"github.com/rickgao/relaymesh/internal/strategy"
)

const probeQueue = "probe"

// Pipeline executes queries and publishes over one connection pool. The
// general and isolated traffic classes each get their own Pipeline with its
// own pool and queues.
type Pipeline struct {
	cfg      PipelineConfig
	pool     Pool
	strategy *strategy.Manager
	queues   *queue.Manager
	health   HealthRecorder
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. health may be nil.
func NewPipeline(cfg PipelineConfig, pool Pool, strat *strategy.Manager, queues *queue.Manager, health HealthRecorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultPipelineConfig(cfg.Name)
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.Fanout == nil {
		cfg.Fanout = defaults.Fanout
	}

	return &Pipeline{
		cfg:      cfg,
		pool:     pool,
		strategy: strat,
		queues:   queues,
		health:   health,
		logger:   logger.With("pool", cfg.Name),
	}
}

// Name returns the pipeline's pool name.
func (p *Pipeline) Name() string {
	return p.cfg.Name
}

type queryResult struct {
	events  []model.Event
	elapsed time.Duration
}

// Query runs f against endpoints for intent.
//
// The strategy picks how many relays should answer and in which order.
// Relays are tried in waves of the intent's fanout width; each failure is
// replaced by the next relay in order until enough have answered or the list
// runs out. Results are deduplicated and ordered newest first. If no relay
// answers the error wraps ErrNoEndpoints and every per-relay cause.
func (p *Pipeline) Query(ctx context.Context, endpoints []string, f model.Filter, intent strategy.Intent, priority queue.Priority) ([]model.Event, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	primary := p.strategy.SelectRelays(endpoints, intent)
	ordered := p.strategy.SelectRelays(endpoints, intent, strategy.WithCount(len(endpoints)))
	need := len(primary)
	width := p.fanout(intent)

	var (
		batches  [][]model.Event
		failures []error
		answered int
		next     int
	)

	for answered < need && next < len(ordered) && ctx.Err() == nil {
		n := min(width, need-answered, len(ordered)-next)
		wave := ordered[next : next+n]
		next += n

		results := make([][]model.Event, n)
		errs := make([]error, n)

		var g errgroup.Group
		for i, url := range wave {
			g.Go(func() error {
				results[i], errs[i] = p.queryOne(ctx, url, f, intent, priority)
				return nil
			})
		}
		g.Wait()

		for i := range wave {
			if errs[i] != nil {
				failures = append(failures, errs[i])
				continue
			}
			answered++
			batches = append(batches, results[i])
		}
	}

	if answered == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNoEndpoints, errors.Join(failures...))
	}

	if len(failures) > 0 {
		p.logger.Debug("query absorbed relay failures",
			"intent", intent,
			"answered", answered,
			"failed", len(failures),
		)
	}

	return model.MergeEvents(f.Limit, batches...), nil
}

// Publish sends ev to every relay the publish strategy selects from
// endpoints. It succeeds when at least one relay accepts.
func (p *Pipeline) Publish(ctx context.Context, endpoints []string, ev model.Event, priority queue.Priority) (PublishResult, error) {
	targets := p.strategy.SelectRelays(endpoints, strategy.IntentPublish)
	if len(targets) == 0 {
		return PublishResult{}, ErrNoEndpoints
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, url := range targets {
		g.Go(func() error {
			errs[i] = p.publishOne(ctx, url, ev, priority)
			return nil
		})
	}
	g.Wait()

	res := PublishResult{Failed: make(map[string]error)}
	for i, url := range targets {
		if errs[i] != nil {
			res.Failed[url] = errs[i]
			continue
		}
		res.Accepted = append(res.Accepted, url)
	}

	if len(res.Accepted) == 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, fmt.Errorf("%w: %w", ErrNoEndpoints, errors.Join(errs...))
	}
	return res, nil
}

// Probe issues a one-event query to url and records the outcome.
func (p *Pipeline) Probe(ctx context.Context, url string) error {
	_, err := p.queryOne(ctx, url, model.Filter{Limit: 1}, probeQueue, queue.PriorityLow)
	return err
}

func (p *Pipeline) queryOne(ctx context.Context, url string, f model.Filter, intent strategy.Intent, priority queue.Priority) ([]model.Event, error) {
	res, err := queue.Do(ctx, p.queues, string(intent), priority, func(qctx context.Context) (queryResult, error) {
		callCtx, cancel := context.WithTimeout(qctx, p.cfg.QueryTimeout)
		defer cancel()

		var events []model.Event
		start := time.Now()
		err := p.pool.Do(callCtx, url, func(c connection.Client) error {
			var err error
			events, err = c.Query(callCtx, f)
			return err
		})
		return queryResult{events: events, elapsed: time.Since(start)}, err
	})

	p.record(ctx, url, res.elapsed, err)
	return res.events, err
}

func (p *Pipeline) publishOne(ctx context.Context, url string, ev model.Event, priority queue.Priority) error {
	elapsed, err := queue.Do(ctx, p.queues, string(strategy.IntentPublish), priority, func(qctx context.Context) (time.Duration, error) {
		callCtx, cancel := context.WithTimeout(qctx, p.cfg.PublishTimeout)
		defer cancel()

		start := time.Now()
		err := p.pool.Do(callCtx, url, func(c connection.Client) error {
			return c.Publish(callCtx, ev)
		})
		return time.Since(start), err
	})

	p.record(ctx, url, elapsed, err)
	return err
}

// record turns an outcome into health signal. Failures caused by the caller
// giving up or by local queue/pool state say nothing about the relay.
func (p *Pipeline) record(ctx context.Context, url string, elapsed time.Duration, err error) {
	if p.health == nil {
		return
	}
	if err == nil {
		p.health.OnSuccess(url, elapsed)
		return
	}
	if ctx.Err() != nil ||
		errors.Is(err, queue.ErrQueueFull) ||
		errors.Is(err, queue.ErrDropped) ||
		errors.Is(err, queue.ErrQueueClosed) ||
		errors.Is(err, connection.ErrPoolClosed) {
		return
	}

	p.logger.Debug("relay request failed", "relay", url, "error", err)
	p.health.OnFailure(url, err)
}

func (p *Pipeline) fanout(intent strategy.Intent) int {
	if n := p.cfg.Fanout[intent]; n > 0 {
		return n
	}
	return 1
}
