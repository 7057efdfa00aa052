package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockRelaySource returns a fixed list of relays.
type mockRelaySource struct {
	relays []string
}

func (m *mockRelaySource) ConnectedEndpoints() []string {
	return m.relays
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Interval != 2*time.Minute {
		t.Errorf("Interval = %v, want 2m", cfg.Interval)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
}

func TestPoller_ProbeAll(t *testing.T) {
	relays := &mockRelaySource{relays: []string{"wss://a", "wss://b", "wss://c"}}

	var mu sync.Mutex
	probed := make(map[string]int)
	prober := ProberFunc(func(ctx context.Context, url string) error {
		mu.Lock()
		probed[url]++
		mu.Unlock()
		if url == "wss://c" {
			return errors.New("timeout")
		}
		return nil
	})

	cfg := Config{
		Interval:    time.Hour, // Long interval, we'll trigger manually.
		Concurrency: 10,
		Timeout:     5 * time.Second,
	}
	p := New(cfg, relays, prober, nil)

	stats := p.probeAll()

	if stats.Relays != 3 || stats.Healthy != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 3 relays, 2 healthy, 1 failed", stats)
	}
	for _, url := range relays.relays {
		if probed[url] != 1 {
			t.Errorf("%s probed %d times, want 1", url, probed[url])
		}
	}
}

func TestPoller_ProbeAllNoRelays(t *testing.T) {
	var calls atomic.Int32
	prober := ProberFunc(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	p := New(DefaultConfig(), &mockRelaySource{}, prober, nil)
	if stats := p.probeAll(); stats.Relays != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
	if calls.Load() != 0 {
		t.Error("no probes expected without relays")
	}
}

func TestPoller_Concurrency(t *testing.T) {
	relays := make([]string, 20)
	for i := range relays {
		relays[i] = "wss://relay" + string(rune('a'+i))
	}

	var current, peak atomic.Int32
	prober := ProberFunc(func(context.Context, string) error {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return nil
	})

	cfg := Config{Interval: time.Hour, Concurrency: 3, Timeout: time.Second}
	p := New(cfg, &mockRelaySource{relays: relays}, prober, nil)
	p.probeAll()

	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestPoller_ProbeTimeout(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, url string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cfg := Config{Interval: time.Hour, Concurrency: 1, Timeout: 20 * time.Millisecond}
	p := New(cfg, &mockRelaySource{relays: []string{"wss://slow"}}, prober, nil)

	stats := p.probeAll()
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var calls atomic.Int32
	prober := ProberFunc(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	cfg := Config{Interval: 10 * time.Millisecond, Concurrency: 2, Timeout: time.Second}
	p := New(cfg, &mockRelaySource{relays: []string{"wss://a"}}, prober, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if calls.Load() == 0 {
		t.Error("expected at least one probe cycle")
	}

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Error("probes continued after Stop")
	}
}
