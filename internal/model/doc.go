// Package model defines the event and filter records shared across relaymesh.
//
// Events are treated as opaque signed records: relaymesh never verifies or
// produces signatures, it only reads the id, kind and timestamp for routing,
// dedup and ordering.
//
// Conventions:
//   - Kinds: integer event kind tags
//   - Timestamps: int64 seconds since Unix epoch (created_at, since, until)
//   - IDs and pubkeys: lowercase hex strings
package model
