// Package dispatch is the entry point for relay traffic.
//
// Service.RunQuery and Service.Publish classify the request with the router,
// pick the pipeline of the resulting pool, and let that pipeline select
// relays, queue the work and execute it. Callers never choose a pool
// themselves, so wallet traffic cannot reach the general pool.
package dispatch
