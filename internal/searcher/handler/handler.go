package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/pool"
)

const (
	messageFound    = "Documents retrieved successfully"
	messageNotFound = "No documents found"

	maxBodyBytes = 64 << 10
)

var errBadTopK = fmt.Errorf("%w: top_k must be a positive integer", apperrors.ErrInvalidInput)

type Searcher interface {
	Search(ctx context.Context, query string, topK int) *searcher.Response
}

type Handler struct {
	searcher     Searcher
	cache        *cache.QueryCache
	collector    *analytics.Collector
	caches       document.Caches
	poolStats    func() pool.Stats
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

type Option func(*Handler)

// WithQueryCache serves repeated queries from the shared response cache.
func WithQueryCache(c *cache.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithCollector tracks every answered search.
func WithCollector(c *analytics.Collector) Option {
	return func(h *Handler) { h.collector = c }
}

// WithPoolStats adds the connection pool to the cache stats report.
func WithPoolStats(fn func() pool.Stats) Option {
	return func(h *Handler) { h.poolStats = fn }
}

func New(s Searcher, caches document.Caches, defaultLimit, maxResults int, opts ...Option) *Handler {
	h := &Handler{
		searcher:     s,
		caches:       caches,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
	if h.maxResults < h.defaultLimit {
		h.maxResults = h.defaultLimit
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

type searchResponse struct {
	Results []searcher.Result `json:"results"`
	Message string            `json:"message"`
}

// Search serves GET /search?query=...&top_k=... and POST /search with a
// {"query", "top_k"} body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, limit, err := h.parseRequest(w, r)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), errorMessage(err))
		return
	}

	var (
		resp     *searcher.Response
		cacheHit bool
	)
	if h.cache != nil {
		resp, cacheHit = h.cache.GetOrCompute(ctx, req.Query, limit, func(ctx context.Context) *searcher.Response {
			return h.searcher.Search(ctx, req.Query, limit)
		})
	} else {
		resp = h.searcher.Search(ctx, req.Query, limit)
	}

	latencyMs := time.Since(start).Milliseconds()
	log.Info("search completed",
		"query", req.Query,
		"top_k", limit,
		"returned", len(resp.Results),
		"cache_hit", cacheHit,
		"degraded", resp.Degraded,
		"latency_ms", latencyMs,
	)
	if h.collector != nil {
		eventType := analytics.EventCacheMiss
		switch {
		case len(resp.Results) == 0:
			eventType = analytics.EventZeroResult
		case cacheHit:
			eventType = analytics.EventCacheHit
		}
		h.collector.Track(analytics.SearchEvent{
			Type:      eventType,
			Query:     req.Query,
			Tokens:    resp.Tokens,
			TopK:      limit,
			Returned:  len(resp.Results),
			LatencyMs: latencyMs,
			CacheHit:  cacheHit,
			Degraded:  resp.Degraded,
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}

	out := searchResponse{Results: resp.Results, Message: messageFound}
	if len(out.Results) == 0 {
		out.Results = []searcher.Result{}
		out.Message = messageNotFound
	}
	h.writeJSON(w, http.StatusOK, out)
}

// parseRequest reads the query and top_k from the body or URL and resolves
// the effective result limit.
func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (searchRequest, int, error) {
	var req searchRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return req, 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body too large")
			}
			return req, 0, fmt.Errorf("%w: invalid JSON body", apperrors.ErrInvalidInput)
		}
	} else {
		q := r.URL.Query()
		req.Query = q.Get("query")
		if raw := q.Get("top_k"); raw != "" {
			k, err := strconv.Atoi(raw)
			if err != nil {
				return req, 0, errBadTopK
			}
			req.TopK = &k
		}
	}

	if req.Query == "" {
		return req, 0, apperrors.ErrEmptyQuery
	}
	limit := h.defaultLimit
	if req.TopK != nil {
		if *req.TopK < 1 {
			return req, 0, errBadTopK
		}
		limit = min(*req.TopK, h.maxResults)
	}
	return req, limit, nil
}

// errorMessage strips the sentinel prefix from wrapped input errors.
func errorMessage(err error) string {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, apperrors.ErrEmptyQuery):
		return "query is required"
	case errors.Is(err, apperrors.ErrInvalidInput):
		msg := err.Error()
		return strings.TrimPrefix(msg, apperrors.ErrInvalidInput.Error()+": ")
	default:
		return err.Error()
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	report := map[string]any{
		"terms":     h.caches.Terms.Stats(),
		"documents": h.caches.Documents.Stats(),
	}
	if h.poolStats != nil {
		report["pool"] = h.poolStats()
	}
	if h.cache == nil {
		report["responses"] = map[string]string{"status": "disabled"}
	} else {
		hits, misses := h.cache.Stats()
		total := hits + misses
		var hitRate float64
		if total > 0 {
			hitRate = float64(hits) / float64(total) * 100
		}
		report["responses"] = map[string]any{
			"hits":     hits,
			"misses":   misses,
			"total":    total,
			"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		}
	}
	h.writeJSON(w, http.StatusOK, report)
}

// CacheInvalidate empties both local caches and the shared response cache.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	h.caches.Terms.Clear()
	h.caches.Documents.Clear()
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Error("cache invalidation failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
