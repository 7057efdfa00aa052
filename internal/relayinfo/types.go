package relayinfo

import (
	"errors"
	"fmt"
)

// ErrUnsupportedScheme is returned for relay URLs that are not ws or wss.
var ErrUnsupportedScheme = errors.New("relay url must use ws or wss")

// MediaType is the Accept value relays answer with their document.
const MediaType = "application/nostr+json"

// Document is a relay information document.
type Document struct {
	Name          string     `json:"name,omitempty"`
	Description   string     `json:"description,omitempty"`
	PubKey        string     `json:"pubkey,omitempty"`
	Contact       string     `json:"contact,omitempty"`
	SupportedNIPs []int      `json:"supported_nips,omitempty"`
	Software      string     `json:"software,omitempty"`
	Version       string     `json:"version,omitempty"`
	Limitation    Limitation `json:"limitation,omitempty"`
}

// Limitation holds the limits a relay advertises.
type Limitation struct {
	MaxMessageLength int  `json:"max_message_length,omitempty"`
	MaxSubscriptions int  `json:"max_subscriptions,omitempty"`
	MaxFilters       int  `json:"max_filters,omitempty"`
	MaxLimit         int  `json:"max_limit,omitempty"`
	AuthRequired     bool `json:"auth_required,omitempty"`
	PaymentRequired  bool `json:"payment_required,omitempty"`
	RestrictedWrites bool `json:"restricted_writes,omitempty"`
}

// Supports reports whether the relay lists nip among its supported NIPs.
func (d Document) Supports(nip int) bool {
	for _, n := range d.SupportedNIPs {
		if n == nip {
			return true
		}
	}
	return false
}

// HTTPError is a non-2xx answer from a relay.
type HTTPError struct {
	URL        string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay info %s: http %d: %s", e.URL, e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
