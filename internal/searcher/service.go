// Package searcher answers free-text queries against the stored documents,
// ranking them by TF-IDF and filling in their text.
package searcher

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/tracing"
)

const defaultTopK = 3

// IDFSource supplies the weight of a term. Unknown terms weigh 0.
type IDFSource interface {
	Get(term string) float64
}

type Result struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

type Response struct {
	Query         string   `json:"query"`
	Tokens        []string `json:"tokens"`
	Results       []Result `json:"results"`
	PostingHits   int      `json:"posting_hits"`
	PostingMisses int      `json:"posting_misses"`
	// Degraded is set when a storage error left part of the answer out.
	Degraded bool `json:"degraded,omitempty"`
}

type Service struct {
	store       document.Store
	caches      document.Caches
	idf         IDFSource
	breaker     *resilience.CircuitBreaker
	breakerCfg  resilience.CircuitBreakerConfig
	defaultTopK int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultTopK sets the result count used when a caller passes topK <= 0.
func WithDefaultTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// WithBreaker overrides the thresholds of the storage circuit breaker.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) { s.breakerCfg = cfg }
}

func New(store document.Store, caches document.Caches, idf IDFSource, opts ...Option) *Service {
	s := &Service{
		store:       store,
		caches:      caches,
		idf:         idf,
		defaultTopK: defaultTopK,
		logger:      slog.Default().With("component", "searcher"),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := s.breakerCfg
	cfg.IsFailure = func(err error) bool {
		return err != nil && !apperrors.IsNotFound(err)
	}
	if s.metrics != nil {
		gauge := s.metrics.CircuitBreakerState
		cfg.OnStateChange = func(name string, to resilience.State) {
			gauge.WithLabelValues(name).Set(float64(to))
		}
		gauge.WithLabelValues("search-storage").Set(float64(resilience.StateClosed))
	}
	s.breaker = resilience.NewCircuitBreaker("search-storage", cfg)
	return s
}

// Search tokenizes query, scores every document sharing a term with it and
// returns the best topK with their text. Storage failures never fail the
// search: the affected terms are left out and Degraded is set.
//
// A ranked document that has been deleted since its terms were read is
// skipped and the next candidate in rank order takes its slot, so the
// response still holds topK results when enough candidates exist. A document
// whose text cannot be loaded for any other reason keeps its slot with empty
// text and marks the response Degraded.
func (s *Service) Search(ctx context.Context, query string, topK int) *Response {
	start := time.Now()
	if topK <= 0 {
		topK = s.defaultTopK
	}
	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log(s.logger)
	}()

	resp := &Response{
		Query:   query,
		Tokens:  tokenizer.Tokenize(query),
		Results: []Result{},
	}
	span.SetAttr("tokens", len(resp.Tokens))
	if len(resp.Tokens) == 0 {
		s.observe(resp, start)
		return resp
	}

	terms := distinct(resp.Tokens)
	postings := s.postings(ctx, terms, resp)

	rankStart := time.Now()
	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	weights := make(map[string]float64, len(terms))
	for _, term := range terms {
		weights[term] = s.idf.Get(term)
	}
	ranked := ranker.Rank(postings, func(term string) float64 { return weights[term] }, len(resp.Tokens), 0)
	rankSpan.SetAttr("candidates", len(ranked))
	rankSpan.End()
	s.observeStage("rank", rankStart)

	s.resolve(ctx, ranked, topK, resp)
	s.observe(resp, start)
	return resp
}

// postings returns the posting lists of terms, serving what it can from the
// term cache and fetching every miss in a single storage call.
func (s *Service) postings(ctx context.Context, terms []string, resp *Response) map[string][]document.Posting {
	stageStart := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "postings")
	defer func() {
		span.SetAttr("hits", resp.PostingHits)
		span.SetAttr("misses", resp.PostingMisses)
		span.End()
		s.observeStage("postings", stageStart)
	}()

	out := make(map[string][]document.Posting, len(terms))
	var missed []string
	for _, term := range terms {
		if p, ok := s.caches.Terms.Get(term); ok {
			out[term] = p
			resp.PostingHits++
			continue
		}
		missed = append(missed, term)
	}
	resp.PostingMisses = len(missed)
	if len(missed) == 0 {
		return out
	}

	var rows []document.TermFrequency
	err := s.breaker.Execute(func() error {
		return s.store.Run(ctx, func(r document.Repositories) error {
			var err error
			rows, err = r.Terms.Postings(ctx, missed)
			return err
		})
	})
	if err != nil {
		logger.FromContext(ctx).Error("fetching postings failed", "component", "searcher", "terms", missed, "error", err)
		resp.Degraded = true
		return out
	}

	grouped := make(map[string][]document.Posting, len(missed))
	for _, row := range rows {
		grouped[row.Term] = append(grouped[row.Term], document.Posting{DocID: row.DocID, Frequency: row.Frequency})
	}
	for term, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].DocID < list[j].DocID })
		s.caches.Terms.Put(term, list)
		out[term] = list
	}
	return out
}

// resolve walks ranked in order and appends up to topK results with text.
// A document storage no longer has is skipped in favour of the next one.
func (s *Service) resolve(ctx context.Context, ranked []ranker.ScoredDoc, topK int, resp *Response) {
	stageStart := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "resolve")
	skipped := 0
	defer func() {
		span.SetAttr("skipped", skipped)
		span.End()
		s.observeStage("resolve", stageStart)
	}()

	for _, sd := range ranked {
		if len(resp.Results) == topK {
			return
		}
		text, ok := s.caches.Documents.Get(sd.DocID)
		if !ok {
			var doc *document.Document
			err := s.breaker.Execute(func() error {
				return s.store.Run(ctx, func(r document.Repositories) error {
					var err error
					doc, err = r.Documents.Get(ctx, sd.DocID)
					return err
				})
			})
			switch {
			case apperrors.IsNotFound(err):
				skipped++
				continue
			case err != nil:
				logger.FromContext(ctx).Error("loading result text failed", "component", "searcher", "doc_id", sd.DocID, "error", err)
				resp.Degraded = true
			default:
				text = doc.Text
				s.caches.Documents.Put(sd.DocID, text)
			}
		}
		resp.Results = append(resp.Results, Result{DocID: sd.DocID, Score: sd.Score, Text: text})
	}
}

func (s *Service) observeStage(stage string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (s *Service) observe(resp *Response, start time.Time) {
	if s.metrics == nil {
		return
	}
	resultType := "results"
	switch {
	case resp.Degraded:
		resultType = "degraded"
	case len(resp.Results) == 0:
		resultType = "zero_result"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
	s.observeStage("total", start)
}

// BreakerState reports the storage circuit breaker's state.
func (s *Service) BreakerState() resilience.State {
	return s.breaker.GetState()
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
