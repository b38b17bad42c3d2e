package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    document_text TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS term_frequency (
    doc_id         UUID NOT NULL REFERENCES documents (doc_id) ON DELETE CASCADE,
    word           TEXT NOT NULL,
    word_frequency DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (doc_id, word)
);

CREATE INDEX IF NOT EXISTS term_frequency_word_idx ON term_frequency (word);
`

// EnsureSchema creates the documents and term_frequency tables if they do
// not exist. gen_random_uuid requires PostgreSQL 13 or newer.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
