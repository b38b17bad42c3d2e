package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/postgres"
	"github.com/lib/pq"
)

// querier is satisfied by *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	insertDocumentSQL = `INSERT INTO documents (document_text) VALUES ($1) RETURNING doc_id`
	selectDocumentSQL = `SELECT doc_id, document_text, created_at FROM documents WHERE doc_id = $1`
	deleteDocumentSQL = `DELETE FROM documents WHERE doc_id = $1`
	countDocumentsSQL = `SELECT COUNT(*) FROM documents`
	listDocumentsSQL  = `SELECT doc_id, document_text, created_at FROM documents
ORDER BY created_at DESC, doc_id LIMIT $1 OFFSET $2`

	upsertTermsSQL = `INSERT INTO term_frequency (doc_id, word, word_frequency)
SELECT * FROM unnest($1::uuid[], $2::text[], $3::float8[])
ON CONFLICT (doc_id, word) DO UPDATE SET word_frequency = EXCLUDED.word_frequency`
	selectPostingsSQL      = `SELECT doc_id, word, word_frequency FROM term_frequency WHERE word = ANY($1)`
	documentFrequenciesSQL = `SELECT word, COUNT(DISTINCT doc_id) FROM term_frequency GROUP BY word`
)

type pgDocuments struct {
	q querier
}

func (r *pgDocuments) Create(ctx context.Context, text string) (string, error) {
	var id string
	if err := r.q.QueryRowContext(ctx, insertDocumentSQL, text).Scan(&id); err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}
	return id, nil
}

func (r *pgDocuments) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := r.q.QueryRowContext(ctx, selectDocumentSQL, id).Scan(&d.ID, &d.Text, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || postgres.IsInvalidText(err) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting document %s: %w", id, err)
	}
	return &d, nil
}

func (r *pgDocuments) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, deleteDocumentSQL, id)
	if postgres.IsInvalidText(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *pgDocuments) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, countDocumentsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (r *pgDocuments) List(ctx context.Context, limit, offset int) ([]document.Document, error) {
	rows, err := r.q.QueryContext(ctx, listDocumentsSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := make([]document.Document, 0, limit)
	for rows.Next() {
		var d document.Document
		if err := rows.Scan(&d.ID, &d.Text, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type pgTerms struct {
	q querier
}

// InsertBatch writes all entries in one statement.
func (r *pgTerms) InsertBatch(ctx context.Context, entries []document.TermFrequency) error {
	if len(entries) == 0 {
		return nil
	}
	docIDs := make([]string, len(entries))
	terms := make([]string, len(entries))
	freqs := make([]float64, len(entries))
	for i, e := range entries {
		docIDs[i], terms[i], freqs[i] = e.DocID, e.Term, e.Frequency
	}
	res, err := r.q.ExecContext(ctx, upsertTermsSQL, pq.Array(docIDs), pq.Array(terms), pq.Array(freqs))
	if err != nil {
		return fmt.Errorf("inserting term frequencies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n != int64(len(entries)) {
		return fmt.Errorf("inserting term frequencies: wrote %d of %d rows", n, len(entries))
	}
	return nil
}

func (r *pgTerms) Postings(ctx context.Context, terms []string) ([]document.TermFrequency, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := r.q.QueryContext(ctx, selectPostingsSQL, pq.Array(terms))
	if err != nil {
		return nil, fmt.Errorf("selecting postings: %w", err)
	}
	defer rows.Close()

	var out []document.TermFrequency
	for rows.Next() {
		var tf document.TermFrequency
		if err := rows.Scan(&tf.DocID, &tf.Term, &tf.Frequency); err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		out = append(out, tf)
	}
	return out, rows.Err()
}

func (r *pgTerms) DocumentFrequencies(ctx context.Context) ([]document.TermStat, error) {
	rows, err := r.q.QueryContext(ctx, documentFrequenciesSQL)
	if err != nil {
		return nil, fmt.Errorf("selecting document frequencies: %w", err)
	}
	defer rows.Close()

	var out []document.TermStat
	for rows.Next() {
		var s document.TermStat
		if err := rows.Scan(&s.Term, &s.DocumentCount); err != nil {
			return nil, fmt.Errorf("scanning document frequency: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
