package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrUnknownMode = errors.New("unknown mode")
)

// Mode is the application's operating mode. It decides which relays are
// active.
type Mode int

const (
	ModeNone       Mode = iota // No network need
	ModeAll                    // General relays plus the isolated relay
	ModeFeed                   // Preferred (or general) relays
	ModeWalletOnly             // Only the isolated relay
	ModeSearchOnly             // Search relays, falling back to general
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeAll:
		return "all"
	case ModeFeed:
		return "feed"
	case ModeWalletOnly:
		return "wallet-only"
	case ModeSearchOnly:
		return "search-only"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses a mode label.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none":
		return ModeNone, nil
	case "all":
		return ModeAll, nil
	case "feed":
		return ModeFeed, nil
	case "wallet-only":
		return ModeWalletOnly, nil
	case "search-only":
		return ModeSearchOnly, nil
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Modes returns every mode.
func Modes() []Mode {
	return []Mode{ModeNone, ModeAll, ModeFeed, ModeWalletOnly, ModeSearchOnly}
}

// State is one endpoint's connection state.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
)

// Connector opens and drops connections to relays.
type Connector interface {
	Warm(ctx context.Context, url string) error
	Connected(url string) bool
	Evict(url string)
}

// EndpointSource supplies the user's preferred relays for feed mode.
type EndpointSource interface {
	PreferredRelays(ctx context.Context) ([]string, error)
}

// HealthRecorder receives connect outcomes.
type HealthRecorder interface {
	OnSuccess(url string, latency time.Duration)
	OnFailure(url string, reason error)
}

// Config configures the orchestrator.
type Config struct {
	General        []string      // General relays
	Search         []string      // Search relays, empty = general
	Isolated       string        // The isolated (wallet) relay
	InitialMode    Mode          // Mode applied by Start
	ConnectTimeout time.Duration // Bound on one connect attempt
	SourceTimeout  time.Duration // Bound on reading preferred relays
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialMode:    ModeFeed,
		ConnectTimeout: 15 * time.Second,
		SourceTimeout:  5 * time.Second,
	}
}

// Summary is a read-only view of the active endpoints.
type Summary struct {
	Mode        Mode
	Connected   int
	Failed      int
	Connecting  int
	Total       int
	PerEndpoint map[string]State
}

// IsAnyConnected reports whether at least one active endpoint is connected.
func (s Summary) IsAnyConnected() bool {
	return s.Connected > 0
}

// AreAllConnected reports whether every active endpoint is connected.
// False when there are no active endpoints.
func (s Summary) AreAllConnected() bool {
	return s.Total > 0 && s.Connected == s.Total
}
