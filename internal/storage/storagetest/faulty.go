// Package storagetest provides a document.Store decorator that counts
// repository calls and injects failures, for tests of the services built on
// top of storage.
package storagetest

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
)

// Operation names accepted by Fail and Calls.
const (
	OpAcquire             = "acquire"
	OpCreate              = "create"
	OpGet                 = "get"
	OpDelete              = "delete"
	OpCount               = "count"
	OpList                = "list"
	OpInsertBatch         = "insert_batch"
	OpPostings            = "postings"
	OpDocumentFrequencies = "document_frequencies"
)

// Store wraps another document.Store.
type Store struct {
	document.Store

	mu     sync.Mutex
	faults map[string]error
	calls  map[string]int
}

func Wrap(s document.Store) *Store {
	return &Store{
		Store:  s,
		faults: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Fail makes every later call of op return err. A nil err clears the fault.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.faults[op]
}

func (s *Store) Run(ctx context.Context, fn func(document.Repositories) error) error {
	if err := s.record(OpAcquire); err != nil {
		return err
	}
	return s.Store.Run(ctx, func(r document.Repositories) error { return fn(s.wrap(r)) })
}

func (s *Store) InTx(ctx context.Context, fn func(document.Repositories) error) error {
	if err := s.record(OpAcquire); err != nil {
		return err
	}
	return s.Store.InTx(ctx, func(r document.Repositories) error { return fn(s.wrap(r)) })
}

func (s *Store) wrap(r document.Repositories) document.Repositories {
	return document.Repositories{
		Documents: &docs{next: r.Documents, s: s},
		Terms:     &terms{next: r.Terms, s: s},
	}
}

type docs struct {
	next document.DocumentRepository
	s    *Store
}

func (d *docs) Create(ctx context.Context, text string) (string, error) {
	if err := d.s.record(OpCreate); err != nil {
		return "", err
	}
	return d.next.Create(ctx, text)
}

func (d *docs) Get(ctx context.Context, id string) (*document.Document, error) {
	if err := d.s.record(OpGet); err != nil {
		return nil, err
	}
	return d.next.Get(ctx, id)
}

func (d *docs) Delete(ctx context.Context, id string) (bool, error) {
	if err := d.s.record(OpDelete); err != nil {
		return false, err
	}
	return d.next.Delete(ctx, id)
}

func (d *docs) Count(ctx context.Context) (int64, error) {
	if err := d.s.record(OpCount); err != nil {
		return 0, err
	}
	return d.next.Count(ctx)
}

func (d *docs) List(ctx context.Context, limit, offset int) ([]document.Document, error) {
	if err := d.s.record(OpList); err != nil {
		return nil, err
	}
	return d.next.List(ctx, limit, offset)
}

type terms struct {
	next document.TermFrequencyRepository
	s    *Store
}

func (t *terms) InsertBatch(ctx context.Context, entries []document.TermFrequency) error {
	if err := t.s.record(OpInsertBatch); err != nil {
		return err
	}
	return t.next.InsertBatch(ctx, entries)
}

func (t *terms) Postings(ctx context.Context, names []string) ([]document.TermFrequency, error) {
	if err := t.s.record(OpPostings); err != nil {
		return nil, err
	}
	return t.next.Postings(ctx, names)
}

func (t *terms) DocumentFrequencies(ctx context.Context) ([]document.TermStat, error) {
	if err := t.s.record(OpDocumentFrequencies); err != nil {
		return nil, err
	}
	return t.next.DocumentFrequencies(ctx)
}
