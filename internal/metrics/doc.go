// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Relay health score and status per endpoint
//   - Request queue depth, drops and wait time
//   - Connection pool stats per pool (general, isolated)
//   - Query and publish outcomes per pool and intent
//   - Orchestrator endpoint state counts
package metrics
