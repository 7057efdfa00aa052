// Package relayinfo fetches relay information documents.
//
// A relay serves its document over plain HTTP(S) on the same address as its
// websocket endpoint when asked with Accept: application/nostr+json. The
// document advertises the relay's software, supported NIPs and limits.
package relayinfo
