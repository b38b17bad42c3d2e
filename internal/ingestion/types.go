// Package ingestion defines the request and response bodies of the document
// endpoints.
package ingestion

import "github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"

// CreateRequest is the JSON body accepted by POST /documents. Text is a
// pointer so a missing field can be told apart from an empty one.
type CreateRequest struct {
	Text *string `json:"text" validate:"required,maxbytes=1048576"`
}

type CreateResponse struct {
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
}

type DocumentResponse struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

// DeleteResponse carries "true" or "false" as a string.
type DeleteResponse struct {
	Status string `json:"status"`
}

type ListResponse struct {
	Documents []document.Document `json:"documents"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
	Total     int64               `json:"total"`
}
