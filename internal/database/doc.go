// Package database reads the user's preferred relay list from PostgreSQL.
//
// The store is read-only. Rows live in:
//
//	CREATE TABLE preferred_relays (
//	    url      text    NOT NULL,
//	    position int     NOT NULL,
//	    enabled  bool    NOT NULL DEFAULT true
//	);
//
// Feed mode connects to the enabled rows in position order.
package database
