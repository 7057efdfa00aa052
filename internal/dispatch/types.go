package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/relaymesh/internal/connection"
	"github.com/rickgao/relaymesh/internal/strategy"
)

// Errors
var (
	ErrNoEndpoints         = errors.New("no endpoints available")
	ErrIsolationViolation  = errors.New("isolated relay reached the general pipeline")
	ErrPipelineMisassigned = errors.New("pipeline serves the wrong pool")
)

// Pool runs work against one relay's connection.
type Pool interface {
	Do(ctx context.Context, url string, fn func(connection.Client) error) error
}

// HealthRecorder receives per-relay outcomes.
type HealthRecorder interface {
	OnSuccess(url string, latency time.Duration)
	OnFailure(url string, reason error)
}

// ActiveSet supplies the relays currently in use.
type ActiveSet interface {
	ActiveEndpoints() []string
}

// PipelineConfig configures one pipeline.
type PipelineConfig struct {
	Name           string                  // "general" or "isolated"
	QueryTimeout   time.Duration           // Bound on one relay query
	PublishTimeout time.Duration           // Bound on one relay publish
	Fanout         map[strategy.Intent]int // Relays queried in parallel per intent, default 1
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig(name string) PipelineConfig {
	return PipelineConfig{
		Name:           name,
		QueryTimeout:   8 * time.Second,
		PublishTimeout: 10 * time.Second,
		Fanout: map[strategy.Intent]int{
			strategy.IntentFeed:          3,
			strategy.IntentNotifications: 3,
			strategy.IntentMetadata:      2,
			strategy.IntentSearch:        2,
			strategy.IntentWallet:        1,
		},
	}
}

// PublishResult reports per-relay publish outcomes.
type PublishResult struct {
	Accepted []string
	Failed   map[string]error
}
