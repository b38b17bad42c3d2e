// Package cache keeps whole search responses in Redis so replicas can share
// the answers to popular queries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, query string, topK int) (*searcher.Response, bool) {
	key := BuildKey(query, topK)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
			c.count("error")
		}
		c.misses.Add(1)
		c.count("miss")
		return nil, false
	}
	var resp searcher.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		c.count("miss")
		return nil, false
	}
	c.hits.Add(1)
	c.count("hit")
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &resp, true
}

// Set stores resp unless a storage error degraded it.
func (c *QueryCache) Set(ctx context.Context, query string, topK int, resp *searcher.Response) {
	if resp.Degraded {
		return
	}
	key := BuildKey(query, topK)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for the query or computes it once
// per key across concurrent callers. The bool reports a cache hit.
//
// The shared computation outlives the caller that started it: computeFn
// receives a context that keeps ctx's values but is never cancelled.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	topK int,
	computeFn func(ctx context.Context) *searcher.Response,
) (*searcher.Response, bool) {
	if resp, ok := c.Get(ctx, query, topK); ok {
		return resp, true
	}
	key := BuildKey(query, topK)
	shared := context.WithoutCancel(ctx)
	val, _, _ := c.group.Do(key, func() (any, error) {
		resp := computeFn(shared)
		c.Set(shared, query, topK, resp)
		return resp, nil
	})
	return val.(*searcher.Response), false
}

// Invalidate drops every cached response.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) count(outcome string) {
	if c.metrics != nil {
		c.metrics.ResponseCacheTotal.WithLabelValues(outcome).Inc()
	}
}

// BuildKey derives the cache key from the query's tokens, so queries that
// differ only in case, punctuation, stopwords or word order share an entry.
// Repeated words are kept since they change the scores.
func BuildKey(query string, topK int) string {
	tokens := tokenizer.Tokenize(query)
	sort.Strings(tokens)
	raw := fmt.Sprintf("%s:top_k=%d", strings.Join(tokens, ","), topK)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
