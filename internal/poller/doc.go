// Package poller implements the relay health prober.
//
// The prober:
//   - Probes every connected relay on a fixed interval
//   - Issues a one-event query per relay through the relay's own pool
//   - Uses bounded concurrency
//   - Only feeds the health monitor; it never changes connection state
package poller
