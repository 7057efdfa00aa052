// Package connection owns the physical relay connections.
//
// A Client is one websocket to one relay. It speaks the relay frame protocol:
//   - REQ/EVENT/EOSE/CLOSED for queries, correlated by subscription id
//   - EVENT/OK for publishes, correlated by event id
//   - NOTICE is logged and otherwise ignored
//
// A Pool keeps up to MaxConnsPerRelay Clients per relay URL and is the only
// way the rest of relaymesh reaches a relay. The general and isolated traffic
// classes each get their own Pool; the two never share a Client.
package connection
