package strategy

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rickgao/relaymesh/internal/health"
)

var errTimeout = errors.New("timeout")

func newMonitor() *health.Monitor {
	cfg := health.DefaultConfig()
	cfg.PruneInterval = 0
	return health.NewMonitor(cfg, nil)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseIntent(t *testing.T) {
	for _, s := range []string{"feed", "metadata", "search", "notifications", "wallet", "publish"} {
		if _, err := ParseIntent(s); err != nil {
			t.Errorf("ParseIntent(%q) error: %v", s, err)
		}
	}
	if _, err := ParseIntent("profile"); err == nil {
		t.Error("ParseIntent(profile) should fail")
	}
}

func TestSelectRelays_EndToEndScenario(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	for i := 0; i < 5; i++ {
		mon.OnSuccess("A", 50*time.Millisecond)
		mon.OnSuccess("B", 500*time.Millisecond)
		mon.OnFailure("C", errTimeout)
	}

	m := NewManager(mon, nil, nil)
	got := m.SelectRelays([]string{"A", "B", "C"}, IntentFeed, WithCount(2))

	if !equal(got, []string{"A", "B"}) {
		t.Errorf("SelectRelays() = %v, want [A B]", got)
	}
}

func TestSelectRelays_CountCap(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()
	mon.OnFailure("r1", errTimeout)
	mon.OnSuccess("r2", time.Millisecond)

	m := NewManager(mon, nil, nil)

	for size := 0; size <= 6; size++ {
		candidates := make([]string, size)
		for i := range candidates {
			candidates[i] = fmt.Sprintf("r%d", i)
		}
		inCandidates := make(map[string]bool, size)
		for _, c := range candidates {
			inCandidates[c] = true
		}

		for k := 0; k <= 8; k++ {
			for _, intent := range []Intent{IntentFeed, IntentMetadata, IntentSearch} {
				got := m.SelectRelays(candidates, intent, WithCount(k))

				want := k
				if size < want {
					want = size
				}
				if len(got) != want {
					t.Fatalf("size=%d k=%d intent=%s: len = %d, want %d", size, k, intent, len(got), want)
				}
				for _, u := range got {
					if !inCandidates[u] {
						t.Fatalf("size=%d k=%d: %q not drawn from candidates", size, k, u)
					}
				}
			}
		}
	}
}

func TestSelectRelays_NeverInvents(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()
	mon.OnSuccess("elsewhere", time.Millisecond)

	m := NewManager(mon, nil, nil)
	got := m.SelectRelays([]string{"x", "y", "x"}, IntentFeed)

	if !equal(got, []string{"x", "y"}) {
		t.Errorf("SelectRelays() = %v, want [x y]", got)
	}
}

func TestSelectRelays_CountCapsDistinctCandidates(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	m := NewManager(mon, nil, nil)
	got := m.SelectRelays([]string{"x", "x", "y", "x"}, IntentFeed, WithCount(3))

	if !equal(got, []string{"x", "y"}) {
		t.Errorf("SelectRelays() = %v, want [x y]", got)
	}
}

func TestSelectRelays_FallbackToLeastUnhealthy(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	for i := 0; i < 10; i++ {
		mon.OnFailure("worst", errTimeout)
	}
	for i := 0; i < 4; i++ {
		mon.OnFailure("bad", errTimeout)
	}

	m := NewManager(mon, nil, nil)
	got := m.SelectRelays([]string{"worst", "bad"}, IntentFeed)

	if !equal(got, []string{"bad", "worst"}) {
		t.Errorf("SelectRelays() = %v, want [bad worst]", got)
	}

	got = m.SelectRelays([]string{"worst", "bad"}, IntentMetadata)
	if len(got) == 0 {
		t.Error("fallback must not return an empty list when candidates exist")
	}
}

func TestSelectRelays_ExcludesUnhealthyWithoutCount(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	mon.OnSuccess("good", 10*time.Millisecond)
	for i := 0; i < 10; i++ {
		mon.OnFailure("bad", errTimeout)
	}

	m := NewManager(mon, nil, nil)
	got := m.SelectRelays([]string{"bad", "good"}, IntentFeed)

	if !equal(got, []string{"good"}) {
		t.Errorf("SelectRelays() = %v, want [good]", got)
	}
}

func TestSelectRelays_IntentDefaultCount(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	candidates := []string{"a", "b", "c", "d", "e"}
	m := NewManager(mon, nil, nil)

	if got := m.SelectRelays(candidates, IntentMetadata); len(got) != 3 {
		t.Errorf("metadata: len = %d, want 3", len(got))
	}
	if got := m.SelectRelays(candidates, IntentSearch); len(got) != 2 {
		t.Errorf("search: len = %d, want 2", len(got))
	}
	if got := m.SelectRelays(candidates, IntentFeed); len(got) != 5 {
		t.Errorf("feed: len = %d, want 5", len(got))
	}
	if got := m.SelectRelays(candidates, Intent("unknown")); len(got) != 5 {
		t.Errorf("unknown intent: len = %d, want 5", len(got))
	}
}

func TestSelectRelays_LatencyBias(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	for i := 0; i < 3; i++ {
		mon.OnSuccess("fast", 100*time.Millisecond)
		mon.OnSuccess("slow", 1500*time.Millisecond)
	}

	m := NewManager(mon, map[Intent]Profile{IntentFeed: {LatencyWeight: 1}}, nil)

	got := m.SelectRelays([]string{"slow", "fast"}, IntentFeed)
	if !equal(got, []string{"fast", "slow"}) {
		t.Errorf("SelectRelays() = %v, want [fast slow]", got)
	}
}

func TestSelectRelays_StableTies(t *testing.T) {
	mon := newMonitor()
	defer mon.Destroy()

	m := NewManager(mon, nil, nil)
	got := m.SelectRelays([]string{"c", "a", "b"}, IntentFeed)

	if !equal(got, []string{"c", "a", "b"}) {
		t.Errorf("unknown relays should keep input order, got %v", got)
	}
}
