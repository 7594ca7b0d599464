package tools

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func names(defs []Definition) []string {
	var result []string
	for _, d := range defs {
		result = append(result, d.Name)
	}
	return result
}

func TestNewSetCollapsesDuplicates(t *testing.T) {
	s := NewSet([]Definition{
		{Name: "a", Description: "first"},
		{Name: "b"},
		{Name: "a", Description: "second"},
		{Name: ""},
	})
	if s.Len() != 2 {
		t.Fatalf("want 2 definitions, got %d", s.Len())
	}
	got := s.Snapshot()
	if diff := cmp.Diff([]string{"a", "b"}, names(got)); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if got[0].Description != "first" {
		t.Errorf("first definition should win, got %q", got[0].Description)
	}
}

func TestMerge(t *testing.T) {
	s := NewSet([]Definition{{Name: "a"}, {Name: "b"}})
	if n := s.Merge(Definition{Name: "c"}, Definition{Name: "a", Description: "replaced"}); n != 1 {
		t.Errorf("want 1 added, got %d", n)
	}
	before := s.Snapshot()
	if n := s.Merge(Definition{Name: "c"}, Definition{Name: "b"}); n != 0 {
		t.Errorf("merging known names added %d", n)
	}
	if diff := cmp.Diff(names(before), names(s.Snapshot())); diff != "" {
		t.Errorf("merge is not idempotent (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, s.Names()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if s.Snapshot()[0].Description != "" {
		t.Errorf("existing definition was replaced")
	}
	if !s.Has("c") || s.Has("d") {
		t.Errorf("Has reports wrong membership")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewSet([]Definition{{Name: "a"}})
	snap := s.Snapshot()
	snap[0].Name = "changed"
	if s.Snapshot()[0].Name != "a" {
		t.Errorf("snapshot shares storage with the set")
	}
}
