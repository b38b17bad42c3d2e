// Package idf holds the inverse document frequency table consulted by every
// search, and the background updater that periodically recomputes it from
// storage.
package idf

import "sync"

// Table maps terms to IDF weights. Reads run concurrently; writes take the
// lock exclusively.
type Table struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewTable() *Table {
	return &Table{values: make(map[string]float64)}
}

// Get returns the IDF of term, or 0 for a term the updater has not seen.
func (t *Table) Get(term string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[term]
}

func (t *Table) Set(term string, value float64) {
	t.mu.Lock()
	t.values[term] = value
	t.mu.Unlock()
}

// Len returns the number of terms with a stored weight.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}
