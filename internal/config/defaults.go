package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMode              = "feed"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultConnectTimeout    = 15 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultMaxConnsPerRelay  = 2
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultAlpha             = 0.2
	DefaultInitialScore      = 0.75
	DefaultHealthyThreshold  = 0.7
	DefaultDegradedThreshold = 0.4
	DefaultPruneInterval     = time.Minute
	DefaultRetention         = 30 * time.Minute
	DefaultQueueConcurrency  = 4
	DefaultQueueRate         = 20
	DefaultQueueBurst        = 10
	DefaultQueueCapacity     = 256
	DefaultQueueMaxWait      = 2 * time.Second
	DefaultQueueHighBurst    = 4
	DefaultQueryTimeout      = 8 * time.Second
	DefaultPublishTimeout    = 10 * time.Second
	DefaultPollInterval      = 2 * time.Minute
	DefaultPollConcurrency   = 8
	DefaultPollTimeout       = 5 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultHTTPPort          = 8080
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
)

// DefaultFanout is the number of endpoints queried in parallel per intent.
var DefaultFanout = map[string]int{
	"feed":          3,
	"notifications": 3,
	"metadata":      2,
	"search":        2,
	"wallet":        1,
}

func (c *Config) applyDefaults() {
	// Relay defaults
	if c.Relays.Mode == "" {
		c.Relays.Mode = DefaultMode
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.MaxConnsPerRelay == 0 {
		c.Connection.MaxConnsPerRelay = DefaultMaxConnsPerRelay
	}
	if c.Connection.IdleTimeout == 0 {
		c.Connection.IdleTimeout = DefaultIdleTimeout
	}

	// Health defaults
	if c.Health.Alpha == 0 {
		c.Health.Alpha = DefaultAlpha
	}
	if c.Health.InitialScore == 0 {
		c.Health.InitialScore = DefaultInitialScore
	}
	if c.Health.HealthyThreshold == 0 {
		c.Health.HealthyThreshold = DefaultHealthyThreshold
	}
	if c.Health.DegradedThreshold == 0 {
		c.Health.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.Health.PruneInterval == 0 {
		c.Health.PruneInterval = DefaultPruneInterval
	}
	if c.Health.Retention == 0 {
		c.Health.Retention = DefaultRetention
	}

	// Queue defaults
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = DefaultQueueConcurrency
	}
	if c.Queue.Rate == 0 {
		c.Queue.Rate = DefaultQueueRate
	}
	if c.Queue.Burst == 0 {
		c.Queue.Burst = DefaultQueueBurst
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = DefaultQueueCapacity
	}
	if c.Queue.MaxWait == 0 {
		c.Queue.MaxWait = DefaultQueueMaxWait
	}
	if c.Queue.HighBurst == 0 {
		c.Queue.HighBurst = DefaultQueueHighBurst
	}

	// Query defaults
	if c.Query.Timeout == 0 {
		c.Query.Timeout = DefaultQueryTimeout
	}
	if c.Query.PublishTimeout == 0 {
		c.Query.PublishTimeout = DefaultPublishTimeout
	}
	if c.Query.Fanout == nil {
		c.Query.Fanout = make(map[string]int, len(DefaultFanout))
	}
	for intent, n := range DefaultFanout {
		if _, ok := c.Query.Fanout[intent]; !ok {
			c.Query.Fanout[intent] = n
		}
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Database defaults (only when enabled)
	if c.Database.Enabled() {
		if c.Database.Port == 0 {
			c.Database.Port = DefaultDBPort
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = DefaultDBSSLMode
		}
		if c.Database.MaxConns == 0 {
			c.Database.MaxConns = DefaultMaxConns
		}
		if c.Database.MinConns == 0 {
			c.Database.MinConns = DefaultMinConns
		}
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
