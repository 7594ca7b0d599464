package tools

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Set is the collection of tool definitions visible to the model during one
// session. Names are unique; the set only grows, and iteration follows
// insertion order so the built-in definitions always come first.
type Set struct {
	defs *orderedmap.OrderedMap[string, Definition]
}

// NewSet returns a set holding the built-in definitions.
func NewSet(builtins []Definition) *Set {
	s := &Set{defs: orderedmap.New[string, Definition]()}
	s.Merge(builtins...)
	return s
}

// Merge adds the definitions whose names are not in the set yet and returns
// how many were added. Known names are left as they are.
func (s *Set) Merge(defs ...Definition) int {
	var added int
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		if _, ok := s.defs.Get(d.Name); ok {
			continue
		}
		s.defs.Set(d.Name, d)
		added++
	}
	return added
}

// Snapshot returns the definitions in insertion order.
func (s *Set) Snapshot() []Definition {
	result := make([]Definition, 0, s.defs.Len())
	for pair := s.defs.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

func (s *Set) Len() int {
	return s.defs.Len()
}

func (s *Set) Has(name string) bool {
	_, ok := s.defs.Get(name)
	return ok
}

// Names returns the tool names in insertion order.
func (s *Set) Names() []string {
	names := make([]string, 0, s.defs.Len())
	for pair := s.defs.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}
