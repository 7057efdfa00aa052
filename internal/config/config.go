package config

import "time"

// Config is the root configuration for a relaymesh instance.
type Config struct {
	Relays     RelaysConfig     `yaml:"relays"`
	Connection ConnectionConfig `yaml:"connection"`
	Health     HealthConfig     `yaml:"health"`
	Queue      QueueConfig      `yaml:"queue"`
	Query      QueryConfig      `yaml:"query"`
	Poller     PollerConfig     `yaml:"poller"`
	Database   DBConfig         `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// RelaysConfig lists the endpoints relaymesh may talk to.
type RelaysConfig struct {
	General  []string `yaml:"general"`  // Social/feed relays
	Search   []string `yaml:"search"`   // Relays used in search-only mode (falls back to general)
	Isolated string   `yaml:"isolated"` // The single wallet relay
	Mode     string   `yaml:"mode"`     // Initial operating mode
}

// ConnectionConfig holds relay websocket and pool settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"` // Orchestrator connect attempt bound
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	MaxConnsPerRelay int           `yaml:"max_conns_per_relay"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
}

// HealthConfig holds health scoring settings.
type HealthConfig struct {
	Alpha             float64       `yaml:"alpha"`
	InitialScore      float64       `yaml:"initial_score"`
	HealthyThreshold  float64       `yaml:"healthy_threshold"`
	DegradedThreshold float64       `yaml:"degraded_threshold"`
	PruneInterval     time.Duration `yaml:"prune_interval"`
	Retention         time.Duration `yaml:"retention"`
}

// QueueConfig holds request queue settings. Overrides are keyed by queue name.
type QueueConfig struct {
	Concurrency int                      `yaml:"concurrency"`
	Rate        float64                  `yaml:"rate"` // Requests per second, 0 = unpaced
	Burst       int                      `yaml:"burst"`
	Capacity    int                      `yaml:"capacity"`
	MaxWait     time.Duration            `yaml:"max_wait"`
	HighBurst   int                      `yaml:"high_burst"`
	Overrides   map[string]QueueOverride `yaml:"overrides"`
}

// QueueOverride replaces selected settings for one named queue.
type QueueOverride struct {
	Concurrency int     `yaml:"concurrency"`
	Rate        float64 `yaml:"rate"`
	Burst       int     `yaml:"burst"`
	Capacity    int     `yaml:"capacity"`
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	Timeout        time.Duration  `yaml:"timeout"`
	PublishTimeout time.Duration  `yaml:"publish_timeout"`
	Fanout         map[string]int `yaml:"fanout"` // Intent -> endpoints tried in parallel
}

// PollerConfig holds health prober settings.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DBConfig holds the optional Postgres source of preferred relays.
// Leaving host empty disables it.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a preferences database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// HTTPConfig holds the status/metrics server settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
