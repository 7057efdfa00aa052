package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/relaymesh/internal/metrics"
)

// Monitor tracks relay health. All mutation goes through OnSuccess and
// OnFailure, which serialize on a single lock so concurrent samples for the
// same relay are never lost.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	records  map[string]*Metrics
	provider func() []string

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor. Call Start to run the prune loop.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		records: make(map[string]*Metrics),
		done:    make(chan struct{}),
	}
}

// Start launches the periodic prune loop. Safe to call more than once.
func (m *Monitor) Start() {
	if m.cfg.PruneInterval <= 0 {
		return
	}
	m.startOnce.Do(func() {
		select {
		case <-m.done:
			return
		default:
		}
		m.wg.Add(1)
		go m.pruneLoop()
	})
}

// Destroy stops the prune loop and drops all records. Idempotent.
func (m *Monitor) Destroy() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()

	m.mu.Lock()
	for url := range m.records {
		metrics.ForgetRelay(url)
	}
	m.records = make(map[string]*Metrics)
	m.mu.Unlock()
}

// SetActiveRelaysProvider installs the source of currently relevant relays.
// Healthy/unhealthy views and pruning are scoped to its result.
func (m *Monitor) SetActiveRelaysProvider(fn func() []string) {
	m.mu.Lock()
	m.provider = fn
	m.mu.Unlock()
}

// OnSuccess records a successful request with its latency.
func (m *Monitor) OnSuccess(url string, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}

	m.mu.Lock()
	rec := m.record(url)
	now := m.now()

	if rec.LatencySamples == 0 {
		rec.AvgLatency = latency
	} else {
		rec.AvgLatency = time.Duration(ema(float64(rec.AvgLatency), float64(latency), m.cfg.Alpha))
	}
	rec.LatencySamples++
	rec.Successes++
	rec.ConsecutiveFailures = 0
	rec.LastSuccess = now
	rec.LastSeen = now

	rec.Score = clamp(ema(rec.Score, 1, m.cfg.Alpha))
	rec.Status = m.statusFor(rec.Score)
	score, avg := rec.Score, rec.AvgLatency
	m.mu.Unlock()

	metrics.RecordRelayOutcome(url, true)
	metrics.RecordRelayHealth(url, score, avg.Seconds())
}

// OnFailure records a failed request. It never fails itself.
func (m *Monitor) OnFailure(url string, reason error) {
	m.mu.Lock()
	rec := m.record(url)
	now := m.now()

	prev := rec.Status
	rec.Failures++
	rec.ConsecutiveFailures++
	rec.LastFailure = now
	rec.LastSeen = now
	if reason != nil {
		rec.LastError = reason.Error()
	}

	rec.Score = clamp(ema(rec.Score, 0, m.cfg.Alpha))
	rec.Status = m.statusFor(rec.Score)
	score, avg, status := rec.Score, rec.AvgLatency, rec.Status
	m.mu.Unlock()

	if status != prev {
		m.logger.Debug("relay health changed",
			"relay", url,
			"from", prev,
			"to", status,
			"score", score,
			"error", reason,
		)
	}

	metrics.RecordRelayOutcome(url, false)
	metrics.RecordRelayHealth(url, score, avg.Seconds())
}

// GetMetrics returns a copy of the relay's record.
func (m *Monitor) GetMetrics(url string) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[url]
	if !ok {
		return Metrics{}, false
	}
	return *rec, true
}

// Score returns the relay's score, or the initial score if it has no record.
func (m *Monitor) Score(url string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[url]; ok {
		return rec.Score
	}
	return m.cfg.InitialScore
}

// StatusOf returns the relay's status, deriving it from the initial score
// if the relay has no record.
func (m *Monitor) StatusOf(url string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[url]; ok {
		return rec.Status
	}
	return m.statusFor(m.cfg.InitialScore)
}

// HealthyRelays returns active relays whose status is healthy.
func (m *Monitor) HealthyRelays() []string {
	return m.filter(func(s Status) bool { return s == StatusHealthy })
}

// UnhealthyRelays returns active relays whose status is unhealthy.
func (m *Monitor) UnhealthyRelays() []string {
	return m.filter(func(s Status) bool { return s == StatusUnhealthy })
}

// Snapshot returns copies of all active records sorted by URL.
func (m *Monitor) Snapshot() []Metrics {
	active := m.activeSet()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Metrics, 0, len(m.records))
	for url, rec := range m.records {
		if active != nil {
			if _, ok := active[url]; !ok {
				continue
			}
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Prune drops records of relays outside the active set that have not been
// seen within the retention window. Returns the number removed.
func (m *Monitor) Prune() int {
	active := m.activeSet()
	if active == nil {
		return 0
	}

	m.mu.Lock()

	now := m.now()
	var removed []string
	for url, rec := range m.records {
		if _, ok := active[url]; ok {
			rec.LastSeen = now
			continue
		}
		if now.Sub(rec.LastSeen) >= m.cfg.Retention {
			delete(m.records, url)
			removed = append(removed, url)
		}
	}
	m.mu.Unlock()

	for _, url := range removed {
		metrics.ForgetRelay(url)
	}
	if len(removed) > 0 {
		m.logger.Debug("pruned inactive relays", "count", len(removed))
	}
	return len(removed)
}

// pruneLoop runs Prune on a fixed interval until Destroy.
func (m *Monitor) pruneLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}

// filter returns active relays whose status matches. Active relays with no
// record yet are judged by the initial score.
func (m *Monitor) filter(match func(Status) bool) []string {
	m.mu.RLock()
	provider := m.provider
	m.mu.RUnlock()

	var urls []string
	if provider != nil {
		urls = provider()
	} else {
		m.mu.RLock()
		for url := range m.records {
			urls = append(urls, url)
		}
		m.mu.RUnlock()
		sort.Strings(urls)
	}

	var out []string
	for _, url := range urls {
		if match(m.StatusOf(url)) {
			out = append(out, url)
		}
	}
	return out
}

// activeSet must be called without the lock held: providers take their own
// locks. Returns nil without a provider.
func (m *Monitor) activeSet() map[string]struct{} {
	m.mu.RLock()
	provider := m.provider
	m.mu.RUnlock()

	if provider == nil {
		return nil
	}
	urls := provider()
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set
}

// record returns the relay's record, creating it lazily. Lock must be held.
func (m *Monitor) record(url string) *Metrics {
	rec, ok := m.records[url]
	if !ok {
		rec = &Metrics{
			URL:    url,
			Score:  m.cfg.InitialScore,
			Status: m.statusFor(m.cfg.InitialScore),
		}
		m.records[url] = rec
	}
	return rec
}

func (m *Monitor) statusFor(score float64) Status {
	switch {
	case score >= m.cfg.HealthyThreshold:
		return StatusHealthy
	case score >= m.cfg.DegradedThreshold:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

func ema(prev, sample, alpha float64) float64 {
	return prev + alpha*(sample-prev)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
