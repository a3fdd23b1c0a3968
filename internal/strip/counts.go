package strip

import (
	"maps"
	"sort"
	"sync"
)

// Counts maps an attribute type full name (or a pattern, for attribution) to
// the number of attributes removed.
type Counts map[string]int

// Entry is one row of a sorted Counts.
type Entry struct {
	Name  string `json:"name" header:"ATTRIBUTE"`
	Count int    `json:"count" header:"COUNT"`
}

// Total returns the sum of all counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Merge adds other into c.
func (c Counts) Merge(other Counts) {
	for k, v := range other {
		c[k] += v
	}
}

// Sorted returns the entries by descending count, ties broken by name.
func (c Counts) Sorted() []Entry {
	entries := make([]Entry, 0, len(c))
	for k, v := range c {
		entries = append(entries, Entry{Name: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// Totals accumulates Counts across files processed concurrently.
type Totals struct {
	mu     sync.Mutex
	counts Counts
}

// NewTotals creates an empty accumulator.
func NewTotals() *Totals {
	return &Totals{counts: make(Counts)}
}

// Add merges c into the totals.
func (t *Totals) Add(c Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.Merge(c)
}

// Snapshot returns a copy of the current totals.
func (t *Totals) Snapshot() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.counts)
}
