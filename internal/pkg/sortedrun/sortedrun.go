// Package sortedrun provides growable arrays that stay ordered by a
// user-supplied comparator after every insertion.
//
// Two shapes are provided. Grouped collects every value emitted for a key
// under a single entry and backs the intermediate store written by map
// workers. Run holds individual key/value entries and backs the final store
// written by reduce workers and consumed by merges.
//
// Neither type is safe for concurrent use. The scheduler statically assigns
// every run to a single writer.
package sortedrun

import (
	"slices"
)

// Default growth tuning.
const (
	DefaultInitialCapacity = 10
	DefaultGrowthFactor    = 2
)

// Compare orders two keys. It returns a negative number when a < b, zero when
// a == b and a positive number when a > b.
type Compare[K any] func(a, b K) int

// Policy controls how a run grows when it runs out of capacity.
type Policy struct {
	InitialCapacity int // capacity allocated on first insertion
	GrowthFactor    int // capacity multiplier applied when full
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		InitialCapacity: DefaultInitialCapacity,
		GrowthFactor:    DefaultGrowthFactor,
	}
}

func (p Policy) normalize() Policy {
	if p.InitialCapacity <= 0 {
		p.InitialCapacity = DefaultInitialCapacity
	}
	if p.GrowthFactor < 2 {
		p.GrowthFactor = DefaultGrowthFactor
	}
	return p
}

// reserve makes room for one more element, growing s by the policy when it
// is full. The returned slice has the same length as s.
func reserve[E any](s []E, p Policy) []E {
	if len(s) < cap(s) {
		return s
	}
	newCap := p.InitialCapacity
	if cap(s) > 0 {
		newCap = cap(s) * p.GrowthFactor
	}
	grown := make([]E, len(s), newCap)
	copy(grown, s)
	return grown
}

// insertAt places e at index i, shifting the tail right by one.
func insertAt[E any](s []E, i int, e E, p Policy) []E {
	s = reserve(s, p)
	n := len(s)
	s = s[:n+1]
	copy(s[i+1:], s[i:n])
	s[i] = e
	return s
}

// Entry is a single key/value pair.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// Group is a key together with every value emitted for it, in arrival order.
type Group[K, V any] struct {
	Key    K
	Values []V
}

// Grouped is a sorted run of groups with unique keys.
type Grouped[K, V any] struct {
	groups []Group[K, V]
	cmp    Compare[K]
	policy Policy
}

// NewGrouped creates an empty grouped run. No memory is allocated until the
// first Add.
func NewGrouped[K, V any](cmp Compare[K], policy Policy) *Grouped[K, V] {
	return &Grouped[K, V]{
		cmp:    cmp,
		policy: policy.normalize(),
	}
}

// Add records value under key. If key is already present the value is
// appended to its group, otherwise a new group is inserted at its sorted
// position.
func (g *Grouped[K, V]) Add(key K, value V) {
	i, found := g.search(key)
	if !found {
		g.groups = insertAt(g.groups, i, Group[K, V]{Key: key}, g.policy)
	}
	grp := &g.groups[i]
	grp.Values = reserve(grp.Values, g.policy)
	grp.Values = append(grp.Values, value)
}

// search finds key, checking the last group first since map output is
// frequently already in order.
func (g *Grouped[K, V]) search(key K) (int, bool) {
	n := len(g.groups)
	if n == 0 {
		return 0, false
	}
	c := g.cmp(g.groups[n-1].Key, key)
	switch {
	case c < 0:
		return n, false
	case c == 0:
		return n - 1, true
	}
	return slices.BinarySearchFunc(g.groups[:n-1], key, func(grp Group[K, V], k K) int {
		return g.cmp(grp.Key, k)
	})
}

// Len returns the number of distinct keys.
func (g *Grouped[K, V]) Len() int {
	if g == nil {
		return 0
	}
	return len(g.groups)
}

// Cap returns the allocated group capacity.
func (g *Grouped[K, V]) Cap() int {
	if g == nil {
		return 0
	}
	return cap(g.groups)
}

// At returns the i-th group.
func (g *Grouped[K, V]) At(i int) *Group[K, V] {
	return &g.groups[i]
}

// Groups exposes the underlying groups. The slice must not be modified.
func (g *Grouped[K, V]) Groups() []Group[K, V] {
	if g == nil {
		return nil
	}
	return g.groups
}

// Sorted reports whether keys are strictly ascending.
func (g *Grouped[K, V]) Sorted() bool {
	for i := 1; i < g.Len(); i++ {
		if g.cmp(g.groups[i-1].Key, g.groups[i].Key) >= 0 {
			return false
		}
	}
	return true
}

// Release drops every group so the memory can be collected.
func (g *Grouped[K, V]) Release() {
	if g != nil {
		g.groups = nil
	}
}

// Run is a sorted run of entries. Equal keys are permitted and kept in
// insertion order.
type Run[K, V any] struct {
	entries []Entry[K, V]
	cmp     Compare[K]
	policy  Policy
}

// NewRun creates an empty run.
func NewRun[K, V any](cmp Compare[K], policy Policy) *Run[K, V] {
	return &Run[K, V]{
		cmp:    cmp,
		policy: policy.normalize(),
	}
}

// NewRunWithCapacity creates an empty run with room for n entries. Used by
// merges, which know their output size up front.
func NewRunWithCapacity[K, V any](cmp Compare[K], policy Policy, n int) *Run[K, V] {
	r := NewRun[K, V](cmp, policy)
	r.entries = make([]Entry[K, V], 0, n)
	return r
}

// Insert places the pair after every entry whose key is less than or equal
// to key.
func (r *Run[K, V]) Insert(key K, value V) {
	n := len(r.entries)
	i := n
	if n > 0 && r.cmp(r.entries[n-1].Key, key) > 0 {
		i, _ = slices.BinarySearchFunc(r.entries[:n-1], key, func(e Entry[K, V], k K) int {
			if r.cmp(e.Key, k) > 0 {
				return 1
			}
			return -1
		})
	}
	r.entries = insertAt(r.entries, i, Entry[K, V]{Key: key, Value: value}, r.policy)
}

// Append adds e at the end. The caller guarantees that e.Key is not less
// than the current last key.
func (r *Run[K, V]) Append(e Entry[K, V]) {
	r.entries = append(reserve(r.entries, r.policy), e)
}

// Len returns the number of entries.
func (r *Run[K, V]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Cap returns the allocated capacity.
func (r *Run[K, V]) Cap() int {
	if r == nil {
		return 0
	}
	return cap(r.entries)
}

// At returns the i-th entry.
func (r *Run[K, V]) At(i int) Entry[K, V] {
	return r.entries[i]
}

// Entries exposes the underlying entries. The slice must not be modified.
func (r *Run[K, V]) Entries() []Entry[K, V] {
	if r == nil {
		return nil
	}
	return r.entries
}

// Sorted reports whether keys are non-decreasing.
func (r *Run[K, V]) Sorted() bool {
	for i := 1; i < r.Len(); i++ {
		if r.cmp(r.entries[i-1].Key, r.entries[i].Key) > 0 {
			return false
		}
	}
	return true
}

// Release drops every entry so the memory can be collected.
func (r *Run[K, V]) Release() {
	if r != nil {
		r.entries = nil
	}
}
