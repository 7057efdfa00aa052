// Package queue paces and orders outbound relay requests per named queue.
package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/relaymesh/internal/metrics"
)

// item is one pending unit of work.
type item struct {
	ctx        context.Context
	work       func(context.Context) error
	priority   Priority
	enqueuedAt time.Time
	done       chan error // buffered(1), receives exactly one result
}

// Queue runs work items with bounded concurrency, pacing and priority.
type Queue struct {
	name    string
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	mu         sync.Mutex
	high       *ring[*item]
	low        *ring[*item]
	highStreak int
	closed     bool
	stats      Stats

	wake chan struct{}
	sem  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newQueue(name string, cfg Config) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.HighBurst < 1 {
		cfg.HighBurst = 1
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultConfig().Capacity
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		high:    newRing[*item](cfg.Capacity),
		low:     newRing[*item](cfg.Capacity),
		wake:    make(chan struct{}, 1),
		sem:     make(chan struct{}, cfg.Concurrency),
		ctx:     ctx,
		cancel:  cancel,
	}

	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Do enqueues work and blocks until it finishes, fails, or ctx is done.
// The work's own error is returned unchanged.
func (q *Queue) Do(ctx context.Context, priority Priority, work func(context.Context) error) error {
	it := &item{
		ctx:      ctx,
		work:     work,
		priority: priority,
		done:     make(chan error, 1),
	}

	if err := q.push(it); err != nil {
		return err
	}

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		q.abandon(it)
		return ctx.Err()
	}
}

// abandon removes a pending item whose caller gave up, so it no longer
// counts toward Capacity. Items already running are left alone.
func (q *Queue) abandon(it *item) {
	q.mu.Lock()
	removed := len(q.high.Filter(func(p *item) bool { return p != it })) +
		len(q.low.Filter(func(p *item) bool { return p != it }))
	q.mu.Unlock()

	if removed > 0 {
		q.publishDepth()
	}
}

// purgeLocked drops pending items whose context is done. Lock must be held.
func (q *Queue) purgeLocked() {
	live := func(p *item) bool { return p.ctx.Err() == nil }
	for _, dead := range append(q.high.Filter(live), q.low.Filter(live)...) {
		dead.done <- dead.ctx.Err()
	}
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.PendingHigh = q.high.Len()
	s.PendingLow = q.low.Len()
	return s
}

// close stops dispatching and fails pending items with ErrQueueClosed.
func (q *Queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := append(q.high.Drain(), q.low.Drain()...)
	q.mu.Unlock()

	q.cancel()
	for _, it := range pending {
		it.done <- ErrQueueClosed
	}
	q.wg.Wait()
	q.publishDepth()
}

func (q *Queue) push(it *item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	it.enqueuedAt = q.now()

	var evicted *item
	if q.high.Len()+q.low.Len() >= q.cfg.Capacity {
		q.purgeLocked()
	}
	if q.high.Len()+q.low.Len() >= q.cfg.Capacity {
		oldest, ok := q.low.Pop()
		if !ok {
			q.stats.Rejected++
			q.mu.Unlock()
			metrics.RecordQueueDrop(q.name, it.priority.String())
			return ErrQueueFull
		}
		evicted = oldest
		q.stats.Dropped++
	}

	if it.priority == PriorityHigh {
		q.high.Push(it)
	} else {
		q.low.Push(it)
	}
	q.mu.Unlock()

	if evicted != nil {
		metrics.RecordQueueDrop(q.name, PriorityLow.String())
		evicted.done <- ErrDropped
	}
	q.publishDepth()
	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch takes a concurrency slot, waits for work and a rate token, then
// picks the best pending item at that moment.
func (q *Queue) dispatch() {
	defer q.wg.Done()

	for {
		select {
		case q.sem <- struct{}{}:
		case <-q.ctx.Done():
			return
		}

		for !q.hasPending() {
			select {
			case <-q.wake:
			case <-q.ctx.Done():
				return
			}
		}

		if err := q.limiter.Wait(q.ctx); err != nil {
			return
		}

		it := q.next()
		if it == nil {
			<-q.sem
			continue
		}

		q.wg.Add(1)
		go q.run(it)
	}
}

func (q *Queue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.high.Len()+q.low.Len() > 0
}

// next pops the item to run next, skipping items whose caller gave up.
func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		it := q.pick()
		if it == nil {
			return nil
		}
		if it.ctx.Err() != nil {
			it.done <- it.ctx.Err()
			continue
		}
		q.stats.Running++
		return it
	}
}

// pick applies the priority policy. Lock must be held.
func (q *Queue) pick() *item {
	oldestLow, hasLow := q.low.Peek()
	if q.high.Len() == 0 {
		if !hasLow {
			return nil
		}
		q.highStreak = 0
		it, _ := q.low.Pop()
		return it
	}
	if !hasLow {
		it, _ := q.high.Pop()
		return it
	}

	promote := q.highStreak >= q.cfg.HighBurst
	if q.cfg.MaxWait > 0 && q.now().Sub(oldestLow.enqueuedAt) >= q.cfg.MaxWait {
		promote = true
	}
	if promote {
		q.highStreak = 0
		it, _ := q.low.Pop()
		return it
	}

	q.highStreak++
	it, _ := q.high.Pop()
	return it
}

func (q *Queue) run(it *item) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	metrics.RecordQueueWait(q.name, it.priority.String(), q.now().Sub(it.enqueuedAt).Seconds())
	q.publishDepth()

	err := it.work(it.ctx)

	q.mu.Lock()
	q.stats.Running--
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Completed++
	}
	q.mu.Unlock()

	it.done <- err
}

func (q *Queue) publishDepth() {
	s := q.Stats()
	metrics.SetQueueDepth(q.name, PriorityHigh.String(), s.PendingHigh)
	metrics.SetQueueDepth(q.name, PriorityLow.String(), s.PendingLow)
}
