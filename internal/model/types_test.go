package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFilter_MarshalJSON(t *testing.T) {
	since := int64(1700000000)
	f := Filter{
		Kinds:   []int{KindNote},
		Authors: []string{"abc"},
		Tags:    map[string][]string{"t": {"video"}},
		Since:   &since,
		Limit:   20,
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if _, ok := raw["#t"]; !ok {
		t.Errorf("expected #t key in %s", data)
	}
	if raw["limit"] != float64(20) {
		t.Errorf("limit = %v, want 20", raw["limit"])
	}
	if _, ok := raw["until"]; ok {
		t.Errorf("unset until should be omitted: %s", data)
	}
	if _, ok := raw["ids"]; ok {
		t.Errorf("empty ids should be omitted: %s", data)
	}
}

func TestFilter_UnmarshalJSON(t *testing.T) {
	var f Filter
	err := json.Unmarshal([]byte(`{"kinds":[1,7],"#p":["pk"],"until":5,"limit":3}`), &f)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(f.Kinds) != 2 || f.Kinds[1] != KindReaction {
		t.Errorf("Kinds = %v, want [1 7]", f.Kinds)
	}
	if got := f.Tags["p"]; len(got) != 1 || got[0] != "pk" {
		t.Errorf("Tags[p] = %v, want [pk]", got)
	}
	if f.Until == nil || *f.Until != 5 {
		t.Errorf("Until = %v, want 5", f.Until)
	}
	if f.Since != nil {
		t.Errorf("Since = %v, want nil", *f.Since)
	}
}

func TestFilter_Validate(t *testing.T) {
	early, late := int64(10), int64(20)

	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"empty", Filter{}, false},
		{"negative limit", Filter{Limit: -1}, true},
		{"since after until", Filter{Since: &late, Until: &early}, true},
		{"since before until", Filter{Since: &early, Until: &late}, false},
		{"negative kind", Filter{Kinds: []int{-3}}, true},
		{"multi-letter tag", Filter{Tags: map[string][]string{"tt": {"x"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("error %v should wrap ErrInvalidFilter", err)
			}
		})
	}
}

func TestMergeEvents(t *testing.T) {
	a := []Event{{ID: "1", CreatedAt: 100}, {ID: "2", CreatedAt: 300}}
	b := []Event{{ID: "2", CreatedAt: 300}, {ID: "3", CreatedAt: 200}, {ID: "4", CreatedAt: 100}}

	got := MergeEvents(0, a, b)
	want := []string{"2", "3", "1", "4"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}

	limited := MergeEvents(2, a, b)
	if len(limited) != 2 || limited[0].ID != "2" || limited[1].ID != "3" {
		t.Errorf("limited merge = %v", limited)
	}
}

func TestIsIsolatedKind(t *testing.T) {
	for _, k := range IsolatedKinds() {
		if !IsIsolatedKind(k) {
			t.Errorf("kind %d should be isolated", k)
		}
	}
	for _, k := range []int{KindMetadata, KindNote, KindContacts, KindReaction, KindVideo, 30023} {
		if IsIsolatedKind(k) {
			t.Errorf("kind %d should not be isolated", k)
		}
	}
	if len(IsolatedKinds()) != len(isolatedKinds) {
		t.Errorf("IsolatedKinds() has %d entries, set has %d", len(IsolatedKinds()), len(isolatedKinds))
	}
}
