// Package strategy turns a query intent and a candidate relay list into an
// ordered, possibly truncated list of relays to actually use.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rickgao/relaymesh/internal/health"
)

// Intent is the routing key of a query. It carries no state.
type Intent string

const (
	IntentFeed          Intent = "feed"
	IntentMetadata      Intent = "metadata"
	IntentSearch        Intent = "search"
	IntentNotifications Intent = "notifications"
	IntentWallet        Intent = "wallet"
	IntentPublish       Intent = "publish"
)

// ParseIntent converts a label into an Intent.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentFeed, IntentMetadata, IntentSearch, IntentNotifications, IntentWallet, IntentPublish:
		return i, nil
	}
	return "", fmt.Errorf("unknown query intent %q", s)
}

// Scorer exposes the health data selection depends on.
type Scorer interface {
	Score(url string) float64
	StatusOf(url string) health.Status
	GetMetrics(url string) (health.Metrics, bool)
}

// Profile is the per-intent selection bias.
type Profile struct {
	// DefaultCount caps the result when the caller gives no count. 0 = no cap.
	DefaultCount int
	// LatencyWeight is how much smoothed latency (normalized to LatencyScale)
	// lowers a relay's rank. Low weights tolerate slow relays.
	LatencyWeight float64
}

// DefaultProfiles returns the built-in intent biases.
//
// metadata lookups are small and tolerant of slow relays, so they use few
// relays and barely weigh latency. feed and notifications favor recall and
// fan out across every viable relay. search relays are few and specialized.
func DefaultProfiles() map[Intent]Profile {
	return map[Intent]Profile{
		IntentMetadata:      {DefaultCount: 3, LatencyWeight: 0.05},
		IntentFeed:          {DefaultCount: 0, LatencyWeight: 0.25},
		IntentNotifications: {DefaultCount: 0, LatencyWeight: 0.25},
		IntentSearch:        {DefaultCount: 2, LatencyWeight: 0.15},
		IntentWallet:        {DefaultCount: 1, LatencyWeight: 0},
		IntentPublish:       {DefaultCount: 0, LatencyWeight: 0},
	}
}

// LatencyScale normalizes latency for ranking: a relay at this latency gets
// the full LatencyWeight penalty.
const LatencyScale = 2 * time.Second

// Option configures a single selection.
type Option func(*selectOptions)

type selectOptions struct {
	count    int
	hasCount bool
}

// WithCount caps the result at min(k, number of distinct candidates).
func WithCount(k int) Option {
	return func(o *selectOptions) {
		if k < 0 {
			k = 0
		}
		o.count = k
		o.hasCount = true
	}
}

// Manager selects and orders relays per intent.
type Manager struct {
	scorer   Scorer
	profiles map[Intent]Profile
	logger   *slog.Logger
}

// NewManager creates a Manager. Nil profiles uses DefaultProfiles.
func NewManager(scorer Scorer, profiles map[Intent]Profile, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Manager{
		scorer:   scorer,
		profiles: profiles,
		logger:   logger,
	}
}

// SelectRelays orders candidates best first and truncates the result.
//
// The result only ever contains candidates (duplicates collapsed). Viable
// relays (healthy or degraded) are ranked by health score minus an
// intent-weighted latency penalty; unhealthy relays rank after them, least
// unhealthy first.
//
// With WithCount(k) the result holds the first min(k, distinct candidates)
// of that ordering, unhealthy relays included if needed to fill it. Without a
// count the intent's DefaultCount applies to viable relays only.
//
// Fallback policy: when no candidate is viable, the least-unhealthy relays
// are returned (capped the same way) instead of an empty list, so callers can
// still attempt the request. An empty result therefore only means there were
// no candidates or the count was zero.
func (m *Manager) SelectRelays(candidates []string, intent Intent, opts ...Option) []string {
	var o selectOptions
	for _, opt := range opts {
		opt(&o)
	}

	profile, ok := m.profiles[intent]
	if !ok {
		profile = Profile{}
	}

	viable, unhealthy := m.rank(dedupe(candidates), profile)

	if o.hasCount {
		ordered := append(viable, unhealthy...)
		if o.count < len(ordered) {
			ordered = ordered[:o.count]
		}
		return ordered
	}

	if len(viable) == 0 && len(unhealthy) > 0 {
		m.logger.Debug("no viable relays, falling back to least unhealthy",
			"intent", intent,
			"candidates", len(unhealthy),
		)
		return truncate(unhealthy, profile.DefaultCount)
	}
	return truncate(viable, profile.DefaultCount)
}

type ranked struct {
	url  string
	rank float64
	pos  int
}

// rank splits candidates into viable and unhealthy lists, each sorted by
// rank descending with input order breaking ties.
func (m *Manager) rank(candidates []string, profile Profile) (viable, unhealthy []string) {
	var good, bad []ranked
	for i, url := range candidates {
		r := ranked{url: url, pos: i, rank: m.scorer.Score(url)}
		if metrics, ok := m.scorer.GetMetrics(url); ok && metrics.LatencySamples > 0 {
			norm := float64(metrics.AvgLatency) / float64(LatencyScale)
			if norm > 1 {
				norm = 1
			}
			r.rank -= profile.LatencyWeight * norm
		}

		if m.scorer.StatusOf(url) == health.StatusUnhealthy {
			bad = append(bad, r)
		} else {
			good = append(good, r)
		}
	}
	return sortRanked(good), sortRanked(bad)
}

func sortRanked(rs []ranked) []string {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].rank != rs[j].rank {
			return rs[i].rank > rs[j].rank
		}
		return rs[i].pos < rs[j].pos
	})
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.url
	}
	return out
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// truncate caps urls at n; n <= 0 means no cap.
func truncate(urls []string, n int) []string {
	if n > 0 && len(urls) > n {
		return urls[:n]
	}
	return urls
}
