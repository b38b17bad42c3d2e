// Package indexer stores documents together with their term frequencies and
// keeps the process-local caches consistent with deletions.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
)

type Service struct {
	store    document.Store
	caches   document.Caches
	notifier document.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

// WithNotifier sends created and deleted events to n after each commit.
func WithNotifier(n document.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store document.Store, caches document.Caches, opts ...Option) *Service {
	s := &Service{
		store:  store,
		caches: caches,
		logger: slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores text and its term frequencies in one transaction and caches
// the text under the new id. On any failure nothing is stored and the id is
// empty. Text without indexable terms is stored with no frequencies.
func (s *Service) Create(ctx context.Context, text string) (string, error) {
	var (
		id      string
		entries []document.TermFrequency
	)
	err := s.store.InTx(ctx, func(r document.Repositories) error {
		var err error
		id, err = r.Documents.Create(ctx, text)
		if err != nil {
			return err
		}
		entries = tokenizer.ComputeTermFrequencies(id, text)
		if len(entries) == 0 {
			return nil
		}
		return r.Terms.InsertBatch(ctx, entries)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestFailuresTotal.Inc()
		}
		logger.FromContext(ctx).Error("document creation rolled back", "component", "indexer", "error", err)
		return "", fmt.Errorf("creating document: %w", err)
	}

	s.caches.Documents.Put(id, text)
	if s.metrics != nil {
		s.metrics.DocsIndexedTotal.Inc()
	}
	s.logger.Debug("document indexed", "doc_id", id, "terms", len(entries))
	s.notify(ctx, document.EventCreated, id)
	return id, nil
}

// Get returns the document from the cache or, on a miss, from storage. A
// storage hit is not cached. Missing documents yield ErrDocumentNotFound.
func (s *Service) Get(ctx context.Context, id string) (*document.Document, error) {
	if text, ok := s.caches.Documents.Get(id); ok {
		return &document.Document{ID: id, Text: text}, nil
	}
	var doc *document.Document
	err := s.store.Run(ctx, func(r document.Repositories) error {
		var err error
		doc, err = r.Documents.Get(ctx, id)
		return err
	})
	if err != nil {
		if !apperrors.IsNotFound(err) {
			logger.FromContext(ctx).Error("loading document failed", "component", "indexer", "doc_id", id, "error", err)
		}
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return doc, nil
}

// Delete evicts the document from the caches and removes it from storage,
// reporting whether storage held it.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	s.EvictCached(id)

	var removed bool
	err := s.store.Run(ctx, func(r document.Repositories) error {
		var err error
		removed, err = r.Documents.Delete(ctx, id)
		return err
	})
	if err != nil {
		logger.FromContext(ctx).Error("deleting document failed", "component", "indexer", "doc_id", id, "error", err)
		return false, fmt.Errorf("deleting document %s: %w", id, err)
	}
	if removed {
		if s.metrics != nil {
			s.metrics.DocsDeletedTotal.Inc()
		}
		s.notify(ctx, document.EventDeleted, id)
	}
	return removed, nil
}

// EvictCached drops id from the document cache. If it was cached, the whole
// term cache is cleared too, since cached postings may still reference it.
func (s *Service) EvictCached(id string) bool {
	if !s.caches.Documents.Remove(id) {
		return false
	}
	s.caches.Terms.Clear()
	s.logger.Debug("term cache cleared after document eviction", "doc_id", id)
	return true
}

// List returns a page of stored documents, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]document.Document, error) {
	var docs []document.Document
	err := s.store.Run(ctx, func(r document.Repositories) error {
		var err error
		docs, err = r.Documents.List(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.Run(ctx, func(r document.Repositories) error {
		var err error
		n, err = r.Documents.Count(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *Service) notify(ctx context.Context, t document.EventType, id string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, document.Event{Type: t, DocumentID: id, At: time.Now().UTC()})
}
