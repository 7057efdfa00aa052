package health

import "time"

// Status is the derived health class of a relay.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Metrics is a point-in-time copy of one relay's health record.
type Metrics struct {
	URL                 string
	Successes           int64
	Failures            int64
	ConsecutiveFailures int
	LatencySamples      int64
	AvgLatency          time.Duration // EMA over successful requests
	Score               float64       // [0, 1]
	Status              Status
	LastSuccess         time.Time
	LastFailure         time.Time
	LastError           string
	LastSeen            time.Time // Last time the relay was in the active set or sampled
}

// Config configures the Monitor.
type Config struct {
	Alpha             float64       // Smoothing factor for both latency and score
	InitialScore      float64       // Score of a relay with no samples yet
	HealthyThreshold  float64       // Score >= this is healthy
	DegradedThreshold float64       // Score >= this is degraded, below is unhealthy
	PruneInterval     time.Duration // 0 disables the prune loop
	Retention         time.Duration // How long inactive relays keep their record
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:             0.2,
		InitialScore:      0.75,
		HealthyThreshold:  0.7,
		DegradedThreshold: 0.4,
		PruneInterval:     time.Minute,
		Retention:         30 * time.Minute,
	}
}
