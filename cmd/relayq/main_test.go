package main

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rickgao/relaymesh/internal/model"
)

func TestBuildFilter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	f, err := buildFilter("1, 7,", "pk1,pk2", "nostr", time.Hour, 50, now)
	if err != nil {
		t.Fatalf("buildFilter failed: %v", err)
	}

	if !reflect.DeepEqual(f.Kinds, []int{1, 7}) {
		t.Errorf("Kinds = %v, want [1 7]", f.Kinds)
	}
	if !reflect.DeepEqual(f.Authors, []string{"pk1", "pk2"}) {
		t.Errorf("Authors = %v, want [pk1 pk2]", f.Authors)
	}
	if f.Search != "nostr" || f.Limit != 50 {
		t.Errorf("Search/Limit = %q/%d, want nostr/50", f.Search, f.Limit)
	}
	if f.Since == nil || *f.Since != 1_700_000_000-3600 {
		t.Errorf("Since = %v, want %d", f.Since, 1_700_000_000-3600)
	}
}

func TestBuildFilterErrors(t *testing.T) {
	if _, err := buildFilter("1,x", "", "", 0, 10, time.Now()); err == nil {
		t.Error("expected error for non-numeric kind")
	}
	if _, err := buildFilter("1", "", "", 0, -1, time.Now()); !errors.Is(err, model.ErrInvalidFilter) {
		t.Errorf("negative limit error = %v, want ErrInvalidFilter", err)
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
	if got := splitList(" a ,,b "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("splitList = %v, want [a b]", got)
	}
}
