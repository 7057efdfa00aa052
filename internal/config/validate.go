package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/relaymesh/internal/router"
)

var validModes = map[string]struct{}{
	"all":         {},
	"feed":        {},
	"wallet-only": {},
	"search-only": {},
	"none":        {},
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Relays.Isolated == "" {
		return errors.New("relays.isolated is required")
	}
	if err := validateRelayURL("relays.isolated", c.Relays.Isolated); err != nil {
		return err
	}
	isolated := router.NormalizeURL(c.Relays.Isolated)
	for i, u := range c.Relays.General {
		if err := validateRelayURL(fmt.Sprintf("relays.general[%d]", i), u); err != nil {
			return err
		}
		if router.NormalizeURL(u) == isolated {
			return fmt.Errorf("relays.general[%d] must not repeat the isolated relay %s", i, u)
		}
	}
	for i, u := range c.Relays.Search {
		if err := validateRelayURL(fmt.Sprintf("relays.search[%d]", i), u); err != nil {
			return err
		}
		if router.NormalizeURL(u) == isolated {
			return fmt.Errorf("relays.search[%d] must not repeat the isolated relay %s", i, u)
		}
	}
	if _, ok := validModes[c.Relays.Mode]; !ok {
		return fmt.Errorf("relays.mode %q is not a known mode", c.Relays.Mode)
	}

	if c.Connection.MaxConnsPerRelay < 1 {
		return errors.New("connection.max_conns_per_relay must be >= 1")
	}

	if c.Health.Alpha <= 0 || c.Health.Alpha > 1 {
		return fmt.Errorf("health.alpha must be in (0, 1], got %g", c.Health.Alpha)
	}
	if c.Health.DegradedThreshold >= c.Health.HealthyThreshold {
		return fmt.Errorf("health.degraded_threshold (%g) must be below health.healthy_threshold (%g)",
			c.Health.DegradedThreshold, c.Health.HealthyThreshold)
	}
	if c.Health.InitialScore < 0 || c.Health.InitialScore > 1 {
		return fmt.Errorf("health.initial_score must be in [0, 1], got %g", c.Health.InitialScore)
	}

	if c.Queue.Concurrency < 1 {
		return errors.New("queue.concurrency must be >= 1")
	}
	if c.Queue.Capacity < 1 {
		return errors.New("queue.capacity must be >= 1")
	}
	if c.Queue.HighBurst < 1 {
		return errors.New("queue.high_burst must be >= 1")
	}

	for intent, n := range c.Query.Fanout {
		if n < 1 {
			return fmt.Errorf("query.fanout.%s must be >= 1", intent)
		}
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	return nil
}

func validateRelayURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must use ws or wss, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host: %q", field, raw)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
