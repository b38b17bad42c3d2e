package document

import "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/lru"

// TermCache maps a term to its postings, sorted by DocID. It is shared by
// ingestion (which clears it on delete) and search (which fills it).
type TermCache = lru.Cache[string, []Posting]

// TextCache maps a document id to its text.
type TextCache = lru.Cache[string, string]

// Caches bundles the two process-local caches.
type Caches struct {
	Terms     *TermCache
	Documents *TextCache
}

// NewCaches builds both caches with the given capacities.
func NewCaches(termCapacity, documentCapacity int) (Caches, error) {
	terms, err := lru.New[string, []Posting](termCapacity)
	if err != nil {
		return Caches{}, err
	}
	docs, err := lru.New[string, string](documentCapacity)
	if err != nil {
		return Caches{}, err
	}
	return Caches{Terms: terms, Documents: docs}, nil
}
