package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/pool"
	"github.com/google/uuid"
)

// MemoryStore is a document.Store held entirely in process memory. InTx
// holds the store lock for the whole transaction and undoes its writes on
// error; calling Run or InTx from inside fn deadlocks.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]document.Document
	terms  map[string]map[string]float64
	closed bool
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]document.Document),
		terms: make(map[string]map[string]float64),
		now:   time.Now,
	}
}

func (s *MemoryStore) Run(ctx context.Context, fn func(document.Repositories) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	r := &memRepo{s: s}
	return fn(document.Repositories{Documents: r, Terms: r})
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(document.Repositories) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &memRepo{s: s, inTx: true}
	if err := fn(document.Repositories{Documents: r, Terms: r}); err != nil {
		for i := len(r.undo) - 1; i >= 0; i-- {
			r.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("acquiring connection: %w", pool.ErrClosed)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// memRepo implements both repositories. Outside a transaction every call
// takes the store lock itself.
type memRepo struct {
	s    *MemoryStore
	inTx bool
	undo []func()
}

func (r *memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func (r *memRepo) Create(ctx context.Context, text string) (string, error) {
	defer r.lock()()
	id := uuid.NewString()
	r.s.docs[id] = document.Document{ID: id, Text: text, CreatedAt: r.s.now()}
	r.undo = append(r.undo, func() { delete(r.s.docs, id) })
	return id, nil
}

func (r *memRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	defer r.lock()()
	d, ok := r.s.docs[id]
	if !ok {
		return nil, apperrors.ErrDocumentNotFound
	}
	return &d, nil
}

func (r *memRepo) Delete(ctx context.Context, id string) (bool, error) {
	defer r.lock()()
	d, ok := r.s.docs[id]
	if !ok {
		return false, nil
	}
	terms := r.s.terms[id]
	delete(r.s.docs, id)
	delete(r.s.terms, id)
	r.undo = append(r.undo, func() {
		r.s.docs[id] = d
		if terms != nil {
			r.s.terms[id] = terms
		}
	})
	return true, nil
}

func (r *memRepo) Count(ctx context.Context) (int64, error) {
	defer r.lock()()
	return int64(len(r.s.docs)), nil
}

func (r *memRepo) List(ctx context.Context, limit, offset int) ([]document.Document, error) {
	defer r.lock()()
	all := make([]document.Document, 0, len(r.s.docs))
	for _, d := range r.s.docs {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []document.Document{}, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// InsertBatch rejects the whole batch if any entry names an unknown
// document, mirroring the foreign key on term_frequency.
func (r *memRepo) InsertBatch(ctx context.Context, entries []document.TermFrequency) error {
	defer r.lock()()
	for _, e := range entries {
		if _, ok := r.s.docs[e.DocID]; !ok {
			return fmt.Errorf("inserting term frequencies: unknown document %s", e.DocID)
		}
	}
	for _, e := range entries {
		byTerm, ok := r.s.terms[e.DocID]
		if !ok {
			byTerm = make(map[string]float64)
			r.s.terms[e.DocID] = byTerm
		}
		prev, existed := byTerm[e.Term]
		byTerm[e.Term] = e.Frequency
		docID, term := e.DocID, e.Term
		r.undo = append(r.undo, func() {
			if existed {
				r.s.terms[docID][term] = prev
				return
			}
			delete(r.s.terms[docID], term)
			if len(r.s.terms[docID]) == 0 {
				delete(r.s.terms, docID)
			}
		})
	}
	return nil
}

func (r *memRepo) Postings(ctx context.Context, terms []string) ([]document.TermFrequency, error) {
	defer r.lock()()
	var out []document.TermFrequency
	for docID, byTerm := range r.s.terms {
		for _, t := range terms {
			if f, ok := byTerm[t]; ok {
				out = append(out, document.TermFrequency{DocID: docID, Term: t, Frequency: f})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Term != out[j].Term {
			return out[i].Term < out[j].Term
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

func (r *memRepo) DocumentFrequencies(ctx context.Context) ([]document.TermStat, error) {
	defer r.lock()()
	counts := make(map[string]int64)
	for _, byTerm := range r.s.terms {
		for t := range byTerm {
			counts[t]++
		}
	}
	out := make([]document.TermStat, 0, len(counts))
	for t, n := range counts {
		out = append(out, document.TermStat{Term: t, DocumentCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}
