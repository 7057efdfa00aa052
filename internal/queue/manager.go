package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Manager owns the named queues of one pipeline. Queues are created on first
// use; items in different queues never wait on each other.
type Manager struct {
	defaults  Config
	overrides map[string]Config
	logger    *slog.Logger

	mu     sync.Mutex
	queues map[string]*Queue
	closed bool
}

// NewManager creates a Manager. overrides replaces the defaults per queue name.
func NewManager(defaults Config, overrides map[string]Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		defaults:  defaults,
		overrides: overrides,
		logger:    logger,
		queues:    make(map[string]*Queue),
	}
}

// Submit runs work on the named queue and waits for its result.
func (m *Manager) Submit(ctx context.Context, name string, priority Priority, work func(context.Context) error) error {
	q, err := m.queue(name)
	if err != nil {
		return err
	}
	return q.Do(ctx, priority, work)
}

// Do runs work on the named queue and returns its value.
func Do[T any](ctx context.Context, m *Manager, name string, priority Priority, work func(context.Context) (T, error)) (T, error) {
	var result T
	err := m.Submit(ctx, name, priority, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		// work may still be running if ctx ended first.
		var zero T
		return zero, err
	}
	return result, nil
}

// Stats returns per-queue snapshots keyed by queue name.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	queues := make(map[string]*Queue, len(m.queues))
	for name, q := range m.queues {
		queues[name] = q
	}
	m.mu.Unlock()

	out := make(map[string]Stats, len(queues))
	for name, q := range queues {
		out[name] = q.Stats()
	}
	return out
}

// Names returns the queue names created so far, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every queue, failing pending items with ErrQueueClosed.
// Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	queues := m.queues
	m.queues = make(map[string]*Queue)
	m.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
}

func (m *Manager) queue(name string) (*Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrQueueClosed
	}
	if q, ok := m.queues[name]; ok {
		return q, nil
	}

	cfg := m.defaults
	if o, ok := m.overrides[name]; ok {
		cfg = o
	}
	q := newQueue(name, cfg)
	m.queues[name] = q

	m.logger.Debug("request queue created",
		"queue", name,
		"concurrency", cfg.Concurrency,
		"rate", cfg.Rate,
		"capacity", cfg.Capacity,
	)
	return q, nil
}
