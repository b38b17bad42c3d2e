package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
)

type memBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	lastTTL time.Duration
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (b *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	v, ok := b.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	b.lastTTL = ttl
	return nil
}

func (b *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k := range b.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func (b *memBackend) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func TestBuildKeyNormalizesQuery(t *testing.T) {
	base := BuildKey("apple banana", 3)
	same := []string{"Banana, APPLE!", "the apple and banana", "  apple   banana "}
	for _, q := range same {
		if BuildKey(q, 3) != base {
			t.Errorf("BuildKey(%q) differs from BuildKey(\"apple banana\")", q)
		}
	}
	different := map[string]int{
		"apple":               3,
		"apple apple banana":  3,
		"apple banana cherry": 3,
		"apple banana ":       4,
	}
	for q, k := range different {
		if BuildKey(q, k) == base {
			t.Errorf("BuildKey(%q, %d) collides with base key", q, k)
		}
	}
}

func TestGetOrComputeCachesResponse(t *testing.T) {
	backend := newMemBackend()
	m := metrics.New(prometheus.NewRegistry())
	c := New(backend, time.Minute, m)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) *searcher.Response {
		calls++
		return &searcher.Response{
			Query:   "apple",
			Tokens:  []string{"apple"},
			Results: []searcher.Result{{DocID: "d1", Score: 0.5, Text: "apple pie"}},
		}
	}

	resp, hit := c.GetOrCompute(ctx, "apple", 3, compute)
	if hit || calls != 1 || len(resp.Results) != 1 {
		t.Fatalf("first call hit=%v calls=%d resp=%+v", hit, calls, resp)
	}
	if backend.lastTTL != time.Minute {
		t.Errorf("ttl = %v", backend.lastTTL)
	}

	resp, hit = c.GetOrCompute(ctx, "Apple!", 3, compute)
	if !hit || calls != 1 {
		t.Fatalf("second call hit=%v calls=%d", hit, calls)
	}
	if resp.Results[0].Text != "apple pie" {
		t.Errorf("cached resp = %+v", resp)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats hits=%d misses=%d", hits, misses)
	}
	if got := testutil.ToFloat64(m.ResponseCacheTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit counter = %f", got)
	}
}

func TestDegradedResponsesAreNotCached(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	c.GetOrCompute(context.Background(), "apple", 3, func(context.Context) *searcher.Response {
		return &searcher.Response{Query: "apple", Results: []searcher.Result{}, Degraded: true}
	})
	if backend.len() != 0 {
		t.Error("degraded response was cached")
	}
}

func TestGetOrComputeSurvivesCallerCancellation(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var computeErr error
	resp, hit := c.GetOrCompute(ctx, "pear", 3, func(ctx context.Context) *searcher.Response {
		computeErr = ctx.Err()
		return &searcher.Response{Query: "pear", Results: []searcher.Result{{DocID: "d1", Score: 1}}}
	})
	if hit || len(resp.Results) != 1 {
		t.Fatalf("hit=%v resp=%+v", hit, resp)
	}
	if computeErr != nil {
		t.Errorf("compute saw cancelled context: %v", computeErr)
	}
	if backend.len() != 1 {
		t.Error("response computed for a cancelled caller was not cached")
	}
}

func TestGetOrComputeSingleflight(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) *searcher.Response {
		calls.Add(1)
		<-release
		return &searcher.Response{Query: "kiwi", Results: []searcher.Result{}}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetOrCompute(context.Background(), "kiwi", 3, compute)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n < 1 || n > 8 {
		t.Fatalf("compute calls = %d", n)
	}
	if n := calls.Load(); n == 8 {
		t.Error("concurrent misses were not collapsed")
	}
}

func TestBackendErrorIsAMiss(t *testing.T) {
	backend := newMemBackend()
	backend.getErr = errors.New("connection refused")
	m := metrics.New(prometheus.NewRegistry())
	c := New(backend, time.Minute, m)

	if _, ok := c.Get(context.Background(), "apple", 3); ok {
		t.Fatal("Get succeeded with failing backend")
	}
	if got := testutil.ToFloat64(m.ResponseCacheTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error counter = %f", got)
	}
}

func TestInvalidate(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	ctx := context.Background()
	for _, q := range []string{"apple", "banana", "cherry"} {
		c.Set(ctx, q, 3, &searcher.Response{Query: q, Results: []searcher.Result{}})
	}
	backend.data["unrelated"] = []byte("x")

	if err := c.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if backend.len() != 1 {
		t.Errorf("remaining keys = %d, want only the unrelated one", backend.len())
	}
	if _, ok := c.Get(ctx, "apple", 3); ok {
		t.Error("entry survived invalidation")
	}
}
