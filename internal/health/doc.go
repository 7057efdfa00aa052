// Package health implements the relay HealthMonitor.
//
// The monitor:
//   - Records per-relay successes and failures with observed latency
//   - Smooths latency and a health score with an exponential moving average
//   - Derives a status (healthy, degraded, unhealthy) from fixed thresholds
//   - Scopes its healthy/unhealthy views to the currently active relays
//   - Periodically prunes records for relays that left the active set
package health
