package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no pong)")
	ErrConnectionLost     = errors.New("connection lost")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrRejected           = errors.New("event rejected by relay")
	ErrSubscriptionClosed = errors.New("subscription closed by relay")
	ErrPoolClosed         = errors.New("connection pool destroyed")
	ErrMalformedFrame     = errors.New("malformed relay frame")
)

// RelayError is a failure attributed to one relay.
type RelayError struct {
	URL string
	Op  string // "dial", "query", "publish"
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// ClientConfig configures a relay websocket client.
type ClientConfig struct {
	URL              string        // Relay URL (ws:// or wss://)
	HandshakeTimeout time.Duration // Dial + upgrade bound
	WriteTimeout     time.Duration // Write deadline for frames
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without a pong before the connection is stale
	SubBufferSize    int           // Frames buffered per open subscription
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		SubBufferSize:    256,
	}
}

// PoolConfig configures a connection pool.
type PoolConfig struct {
	Name             string        // "general" or "isolated"; used in logs and metrics
	MaxConnsPerRelay int           // Max clients per relay URL
	IdleTimeout      time.Duration // Idle clients older than this are closed, 0 = never
	ReapInterval     time.Duration // How often idle clients are checked
	WarmTimeout      time.Duration // Bound on a shared Warm dial
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:             name,
		MaxConnsPerRelay: 2,
		IdleTimeout:      5 * time.Minute,
		ReapInterval:     30 * time.Second,
		WarmTimeout:      15 * time.Second,
	}
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Endpoints int   // Relays with a live resource pool
	Opened    int64 // Clients dialed since creation
	Total     int   // Clients currently held
	Active    int   // Clients in use by a request
	Idle      int   // Clients waiting in the pool
}
