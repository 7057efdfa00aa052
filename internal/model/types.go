package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors
var (
	ErrInvalidFilter = errors.New("invalid filter")
	ErrInvalidEvent  = errors.New("invalid event")
)

// Event is a ready-to-send signed event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Validate checks the fields relaymesh depends on for routing and acks.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.PubKey == "" {
		return fmt.Errorf("%w: missing pubkey", ErrInvalidEvent)
	}
	if e.Kind < 0 {
		return fmt.Errorf("%w: negative kind %d", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// Filter selects events on a relay.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    map[string][]string // single-letter tag name -> values, encoded as "#e", "#p", ...
	Since   *int64
	Until   *int64
	Limit   int // 0 = relay default
	Search  string
}

// Validate rejects filters a relay would treat as malformed.
func (f Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidFilter, f.Limit)
	}
	if f.Since != nil && f.Until != nil && *f.Since > *f.Until {
		return fmt.Errorf("%w: since %d after until %d", ErrInvalidFilter, *f.Since, *f.Until)
	}
	for _, k := range f.Kinds {
		if k < 0 {
			return fmt.Errorf("%w: negative kind %d", ErrInvalidFilter, k)
		}
	}
	for name := range f.Tags {
		if len(name) != 1 {
			return fmt.Errorf("%w: tag filter %q must be a single letter", ErrInvalidFilter, name)
		}
	}
	return nil
}

// MarshalJSON flattens tag filters into "#x" keys.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = Filter{}
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(value, &f.IDs)
		case key == "kinds":
			err = json.Unmarshal(value, &f.Kinds)
		case key == "authors":
			err = json.Unmarshal(value, &f.Authors)
		case key == "since":
			f.Since = new(int64)
			err = json.Unmarshal(value, f.Since)
		case key == "until":
			f.Until = new(int64)
			err = json.Unmarshal(value, f.Until)
		case key == "limit":
			err = json.Unmarshal(value, &f.Limit)
		case key == "search":
			err = json.Unmarshal(value, &f.Search)
		case strings.HasPrefix(key, "#"):
			var values []string
			err = json.Unmarshal(value, &values)
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[key[1:]] = values
		}
		if err != nil {
			return fmt.Errorf("filter field %q: %w", key, err)
		}
	}
	return nil
}

// MergeEvents dedups events by id, orders them newest first and truncates
// to limit (0 = no limit). Ties on created_at keep first-seen order.
func MergeEvents(limit int, batches ...[]Event) []Event {
	seen := make(map[string]struct{})
	var merged []Event
	for _, batch := range batches {
		for _, ev := range batch {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt > merged[j].CreatedAt
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
