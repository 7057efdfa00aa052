package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/relaymesh/internal/metrics"
	"github.com/rickgao/relaymesh/internal/model"
	"github.com/rickgao/relaymesh/internal/queue"
	"github.com/rickgao/relaymesh/internal/router"
	"github.com/rickgao/relaymesh/internal/strategy"
)

// QueryOption adjusts a single RunQuery call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	priority    queue.Priority
	hasPriority bool
}

// WithPriority overrides the intent's default queue priority.
func WithPriority(p queue.Priority) QueryOption {
	return func(o *queryOptions) {
		o.priority = p
		o.hasPriority = true
	}
}

// Service routes queries and publishes to the general or isolated pipeline.
type Service struct {
	router   router.Router
	active   ActiveSet
	general  *Pipeline
	isolated *Pipeline
	logger   *slog.Logger
}

// NewService creates a Service. general and isolated must be distinct
// pipelines over distinct pools.
func NewService(r router.Router, active ActiveSet, general, isolated *Pipeline, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if general == nil || isolated == nil || general == isolated {
		return nil, ErrPipelineMisassigned
	}
	if general.Name() != string(router.PoolGeneral) || isolated.Name() != string(router.PoolIsolated) {
		return nil, fmt.Errorf("%w: general=%q isolated=%q", ErrPipelineMisassigned, general.Name(), isolated.Name())
	}

	return &Service{
		router:   r,
		active:   active,
		general:  general,
		isolated: isolated,
		logger:   logger,
	}, nil
}

// RunQuery runs f for intent. Filters whose kinds are all wallet kinds, and
// every wallet-intent query, go to the isolated relay; everything else goes
// to the active general relays.
func (s *Service) RunQuery(ctx context.Context, f model.Filter, intent strategy.Intent, opts ...QueryOption) ([]model.Event, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	o := queryOptions{priority: defaultPriority(intent)}
	for _, opt := range opts {
		opt(&o)
	}

	decision, err := s.router.RouteFilter(f, s.active.ActiveEndpoints())
	if err != nil {
		return nil, err
	}
	if intent == strategy.IntentWallet && decision.Pool != router.PoolIsolated {
		decision = router.Decision{Pool: router.PoolIsolated, Endpoints: []string{s.router.Isolated()}}
	}

	pipeline, err := s.pipelineFor(decision)
	if err != nil {
		return nil, err
	}

	events, err := pipeline.Query(ctx, decision.Endpoints, f, intent, o.priority)
	metrics.RecordRequest(pipeline.Name(), "query", string(intent), err)
	return events, err
}

// Publish sends ev to the relays its kind routes to.
func (s *Service) Publish(ctx context.Context, ev model.Event) (PublishResult, error) {
	if err := ev.Validate(); err != nil {
		return PublishResult{}, err
	}

	decision := s.router.Route(ev, s.active.ActiveEndpoints())
	pipeline, err := s.pipelineFor(decision)
	if err != nil {
		return PublishResult{}, err
	}

	res, err := pipeline.Publish(ctx, decision.Endpoints, ev, queue.PriorityHigh)
	metrics.RecordRequest(pipeline.Name(), "publish", string(strategy.IntentPublish), err)

	if err == nil && len(res.Failed) > 0 {
		s.logger.Debug("publish partially accepted",
			"event", ev.ID,
			"accepted", len(res.Accepted),
			"failed", len(res.Failed),
		)
	}
	return res, err
}

// Probe checks one relay through the pipeline of the pool that owns it.
func (s *Service) Probe(ctx context.Context, url string) error {
	if s.router.IsIsolated(url) {
		return s.isolated.Probe(ctx, url)
	}
	return s.general.Probe(ctx, url)
}

// pipelineFor picks the pipeline of a routing decision and checks that
// general traffic never names the isolated relay.
func (s *Service) pipelineFor(d router.Decision) (*Pipeline, error) {
	if d.Pool == router.PoolIsolated {
		return s.isolated, nil
	}
	for _, url := range d.Endpoints {
		if s.router.IsIsolated(url) {
			s.logger.Error("isolated relay in general decision", "relay", url)
			return nil, ErrIsolationViolation
		}
	}
	return s.general, nil
}

func defaultPriority(intent strategy.Intent) queue.Priority {
	switch intent {
	case strategy.IntentFeed, strategy.IntentWallet, strategy.IntentPublish:
		return queue.PriorityHigh
	}
	return queue.PriorityLow
}
