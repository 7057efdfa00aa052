// Package orchestrator owns the active relay set and each relay's
// connection state.
//
// Each active endpoint moves connecting -> connected or connecting -> failed
// and then stays put. Context changes keep the state of endpoints that remain
// active; newly active endpoints start at connecting. Failed endpoints are
// not retried on a timer; Refresh or removing and re-adding them retries.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/relaymesh/internal/metrics"
	"github.com/rickgao/relaymesh/internal/router"
)

// endpoint is the live record for one active relay.
type endpoint struct {
	state   State
	attempt uint64             // Identifies the current connect attempt
	cancel  context.CancelFunc // Cancels the current attempt, nil when idle
	lastErr error
}

// Orchestrator tracks the active relay set.
type Orchestrator struct {
	cfg      Config
	general  Connector
	isolated Connector
	health   HealthRecorder
	source   EndpointSource
	router   router.Router
	logger   *slog.Logger

	mu        sync.Mutex
	mode      Mode
	active    []string
	endpoints map[string]*endpoint
	attempts  uint64
	changed   chan struct{} // Closed and replaced on every state change
	subs      []chan Summary
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator. general and isolated are the connectors of
// the two pools; health and source may be nil.
func New(cfg Config, general, isolated Connector, health HealthRecorder, source EndpointSource, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultConfig().SourceTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		general:   general,
		isolated:  isolated,
		health:    health,
		source:    source,
		router:    router.New(cfg.Isolated),
		logger:    logger,
		mode:      ModeNone,
		endpoints: make(map[string]*endpoint),
		changed:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start applies the initial mode.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("connection orchestrator starting", "mode", o.cfg.InitialMode)
	o.OnContextChange(ctx, o.cfg.InitialMode)
	return nil
}

// Stop cancels in-flight connect attempts and waits for them to finish.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.logger.Info("stopping connection orchestrator")

	o.mu.Lock()
	o.stopped = true
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("shutdown timeout, abandoning connect attempts")
	}

	for _, ch := range subs {
		close(ch)
	}

	o.logger.Info("connection orchestrator stopped")
	return nil
}

// ComputeActiveEndpoints resolves mode to the relays it needs. Relays are
// deduplicated and keep their configured order.
func (o *Orchestrator) ComputeActiveEndpoints(ctx context.Context, mode Mode) []string {
	switch mode {
	case ModeNone:
		return []string{}

	case ModeWalletOnly:
		return []string{o.cfg.Isolated}

	case ModeFeed:
		return o.generalOnly(o.preferred(ctx))

	case ModeSearchOnly:
		if len(o.cfg.Search) > 0 {
			if search := o.generalOnly(o.cfg.Search); len(search) > 0 {
				return search
			}
		}
		return o.generalOnly(o.cfg.General)

	case ModeAll:
		return append(o.generalOnly(o.cfg.General), o.cfg.Isolated)
	}

	o.logger.Error("unhandled mode", "mode", mode)
	return []string{}
}

// OnContextChange switches to mode. Endpoints that stay active keep their
// state and connections; endpoints that leave have their connect attempt
// canceled and their connections dropped; new endpoints start connecting.
func (o *Orchestrator) OnContextChange(ctx context.Context, mode Mode) {
	next := o.ComputeActiveEndpoints(ctx, mode)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}

	keep := make(map[string]struct{}, len(next))
	for _, url := range next {
		keep[url] = struct{}{}
	}

	var removed []string
	for url, ep := range o.endpoints {
		if _, ok := keep[url]; ok {
			continue
		}
		if ep.cancel != nil {
			ep.cancel()
		}
		delete(o.endpoints, url)
		removed = append(removed, url)
	}

	added := 0
	for _, url := range next {
		if _, ok := o.endpoints[url]; ok {
			continue
		}
		ep := &endpoint{state: StateConnecting}
		o.endpoints[url] = ep
		o.startAttempt(url, ep)
		added++
	}

	prev := o.mode
	o.mode = mode
	o.active = next
	o.notifyLocked()
	o.mu.Unlock()

	for _, url := range removed {
		o.connectorFor(url).Evict(url)
	}

	o.logger.Info("context changed",
		"from", prev,
		"to", mode,
		"active", len(next),
		"added", added,
		"removed", len(removed),
	)
}

// Refresh retries failed endpoints and connected endpoints whose pool has
// lost every connection.
func (o *Orchestrator) Refresh(ctx context.Context) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return 0
	}

	retried := 0
	for _, url := range o.active {
		ep := o.endpoints[url]
		switch ep.state {
		case StateFailed:
		case StateConnected:
			if o.connectorFor(url).Connected(url) {
				continue
			}
		default:
			continue
		}
		ep.state = StateConnecting
		o.startAttempt(url, ep)
		retried++
	}

	if retried > 0 {
		o.notifyLocked()
		o.logger.Info("refreshing endpoints", "count", retried)
	}
	return retried
}

// Mode returns the current mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// ActiveEndpoints returns the active relays in order.
func (o *Orchestrator) ActiveEndpoints() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.active...)
}

// ConnectedEndpoints returns the active relays currently connected, in order.
func (o *Orchestrator) ConnectedEndpoints() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []string
	for _, url := range o.active {
		if o.endpoints[url].state == StateConnected {
			out = append(out, url)
		}
	}
	return out
}

// Summary returns counts over the active endpoints only.
func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summaryLocked()
}

// Changes returns a channel receiving the latest Summary after each state
// change. Slow readers only see the most recent one. The channel is closed
// by Stop.
func (o *Orchestrator) Changes() <-chan Summary {
	ch := make(chan Summary, 1)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		close(ch)
		return ch
	}
	o.subs = append(o.subs, ch)
	ch <- o.summaryLocked()
	return ch
}

// Settle waits until no active endpoint is connecting.
func (o *Orchestrator) Settle(ctx context.Context) (Summary, error) {
	for {
		o.mu.Lock()
		s := o.summaryLocked()
		changed := o.changed
		o.mu.Unlock()

		if s.Connecting == 0 {
			return s, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// startAttempt launches a connect attempt for url. Lock must be held.
func (o *Orchestrator) startAttempt(url string, ep *endpoint) {
	if ep.cancel != nil {
		ep.cancel()
	}

	o.attempts++
	attempt := o.attempts
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ConnectTimeout)
	ep.attempt = attempt
	ep.cancel = cancel

	conn := o.connectorFor(url)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		start := time.Now()
		err := conn.Warm(ctx, url)
		o.finishAttempt(url, attempt, err, time.Since(start))
	}()
}

// finishAttempt applies a connect result unless the attempt is stale.
func (o *Orchestrator) finishAttempt(url string, attempt uint64, err error, elapsed time.Duration) {
	o.mu.Lock()
	ep, ok := o.endpoints[url]
	if !ok || ep.attempt != attempt || o.stopped {
		o.mu.Unlock()
		return
	}

	ep.cancel = nil
	ep.lastErr = err
	if err != nil {
		ep.state = StateFailed
	} else {
		ep.state = StateConnected
	}
	o.notifyLocked()
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn("relay connect failed", "relay", url, "error", err)
		if o.health != nil {
			o.health.OnFailure(url, err)
		}
		return
	}

	o.logger.Debug("relay connected", "relay", url, "elapsed", elapsed)
	if o.health != nil {
		o.health.OnSuccess(url, elapsed)
	}
}

// notifyLocked wakes Settle callers and pushes the summary to subscribers.
// Lock must be held.
func (o *Orchestrator) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})

	s := o.summaryLocked()
	metrics.SetEndpointStates(s.Connecting, s.Connected, s.Failed)

	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (o *Orchestrator) summaryLocked() Summary {
	s := Summary{
		Mode:        o.mode,
		Total:       len(o.active),
		PerEndpoint: make(map[string]State, len(o.active)),
	}
	for _, url := range o.active {
		state := o.endpoints[url].state
		s.PerEndpoint[url] = state
		switch state {
		case StateConnected:
			s.Connected++
		case StateFailed:
			s.Failed++
		case StateConnecting:
			s.Connecting++
		}
	}
	return s
}

func (o *Orchestrator) connectorFor(url string) Connector {
	if o.router.IsIsolated(url) {
		return o.isolated
	}
	return o.general
}

// preferred returns the feed relays: the source's list when it yields one,
// otherwise the configured general relays.
func (o *Orchestrator) preferred(ctx context.Context) []string {
	if o.source == nil {
		return o.cfg.General
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout)
	defer cancel()

	urls, err := o.source.PreferredRelays(ctx)
	if err != nil {
		o.logger.Warn("preferred relays unavailable, using general relays", "error", err)
		return o.cfg.General
	}
	if len(urls) == 0 {
		return o.cfg.General
	}
	return urls
}

// generalOnly drops the isolated relay and duplicates, keeping order.
func (o *Orchestrator) generalOnly(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range o.router.General(urls) {
		key := router.NormalizeURL(url)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, url)
	}
	return out
}
