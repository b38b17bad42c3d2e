// Package document defines the stored document model, the per-term
// frequency records derived from it, and the repository contracts the
// storage backends implement.
package document

import (
	"context"
	"time"
)

// Document is a stored text body. ID is assigned by storage on creation.
type Document struct {
	ID        string    `json:"doc_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// TermFrequency is the relative frequency of one term within one document:
// occurrences divided by the document's token count.
type TermFrequency struct {
	DocID     string
	Term      string
	Frequency float64
}

// Posting is one document's entry in a term's posting list.
type Posting struct {
	DocID     string
	Frequency float64
}

// TermStat is the number of distinct documents containing Term.
type TermStat struct {
	Term          string
	DocumentCount int64
}

// DocumentRepository persists document bodies.
type DocumentRepository interface {
	// Create stores text and returns the generated id.
	Create(ctx context.Context, text string) (string, error)
	// Get returns errors.ErrDocumentNotFound when no document has id.
	Get(ctx context.Context, id string) (*Document, error)
	// Delete reports whether a document was removed. Term frequencies of
	// the document are removed with it.
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	// List returns documents ordered by creation time, newest first.
	List(ctx context.Context, limit, offset int) ([]Document, error)
}

// TermFrequencyRepository persists and queries term frequency records.
type TermFrequencyRepository interface {
	// InsertBatch writes every entry or fails. An existing (doc, term) pair
	// is overwritten.
	InsertBatch(ctx context.Context, entries []TermFrequency) error
	// Postings returns every record whose term is in terms.
	Postings(ctx context.Context, terms []string) ([]TermFrequency, error)
	// DocumentFrequencies returns, per term, how many documents contain it.
	DocumentFrequencies(ctx context.Context) ([]TermStat, error)
}

// Repositories groups the repositories bound to one connection or
// transaction.
type Repositories struct {
	Documents DocumentRepository
	Terms     TermFrequencyRepository
}

// Store lends repositories bound to a single pooled connection for the
// duration of fn, and returns the connection when fn returns.
type Store interface {
	Run(ctx context.Context, fn func(Repositories) error) error
	// InTx is Run inside one transaction: fn's error rolls everything back.
	InTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
