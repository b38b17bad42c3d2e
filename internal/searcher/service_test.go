package searcher

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/idf"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage/storagetest"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixture struct {
	store  *storagetest.Store
	caches document.Caches
	table  *idf.Table
	ids    map[string]string
}

func newFixture(t *testing.T, texts ...string) *fixture {
	t.Helper()
	caches, err := document.NewCaches(64, 64)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store:  storagetest.Wrap(storage.NewMemoryStore()),
		caches: caches,
		table:  idf.NewTable(),
		ids:    make(map[string]string),
	}
	ctx := context.Background()
	for _, text := range texts {
		err := f.store.InTx(ctx, func(r document.Repositories) error {
			id, err := r.Documents.Create(ctx, text)
			if err != nil {
				return err
			}
			f.ids[text] = id
			entries := tokenizer.ComputeTermFrequencies(id, text)
			if len(entries) == 0 {
				return nil
			}
			return r.Terms.InsertBatch(ctx, entries)
		})
		if err != nil {
			t.Fatalf("seeding %q: %v", text, err)
		}
	}
	return f
}

func (f *fixture) refreshIDF(t *testing.T) {
	t.Helper()
	if err := idf.NewUpdater(f.store, f.table, 0).RunOnce(context.Background()); err != nil {
		t.Fatalf("refreshing idf: %v", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t, "apple banana")
	svc := New(f.store, f.caches, f.table)
	before := f.store.Calls(storagetest.OpAcquire)
	resp := svc.Search(context.Background(), "the, and!", 3)
	if len(resp.Results) != 0 || len(resp.Tokens) != 0 {
		t.Errorf("resp = %+v", resp)
	}
	if f.store.Calls(storagetest.OpAcquire) != before {
		t.Error("a query without tokens should not touch storage")
	}
}

func TestSearchRanksByTFIDF(t *testing.T) {
	f := newFixture(t,
		"apple banana",
		"apple apple apple cherry",
		"durian",
		"elderberry fig",
	)
	f.refreshIDF(t)
	svc := New(f.store, f.caches, f.table)

	resp := svc.Search(context.Background(), "Apple", 0)
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	want := math.Log(4.0/3.0) * 0.75
	if got := resp.Results[0]; got.DocID != f.ids["apple apple apple cherry"] || math.Abs(got.Score-want) > 1e-12 {
		t.Errorf("first = %+v, want score %f", got, want)
	}
	if resp.Results[0].Text != "apple apple apple cherry" {
		t.Errorf("text = %q", resp.Results[0].Text)
	}
	if resp.Results[1].DocID != f.ids["apple banana"] {
		t.Errorf("second = %+v", resp.Results[1])
	}
}

func TestSearchRepeatedTokenNormalization(t *testing.T) {
	f := newFixture(t, "apple", "banana", "cherry")
	f.refreshIDF(t)
	svc := New(f.store, f.caches, f.table)

	one := svc.Search(context.Background(), "apple", 3)
	two := svc.Search(context.Background(), "apple apple", 3)
	if len(one.Results) != 1 || len(two.Results) != 1 {
		t.Fatalf("results %v / %v", one.Results, two.Results)
	}
	if math.Abs(two.Results[0].Score-one.Results[0].Score/2) > 1e-12 {
		t.Errorf("\"apple apple\" score %f, want half of %f", two.Results[0].Score, one.Results[0].Score)
	}
}

func TestSearchWithoutIDFRanksByTermFrequency(t *testing.T) {
	f := newFixture(t, "kiwi melon melon", "kiwi kiwi kiwi melon", "kiwi plum plum plum")
	svc := New(f.store, f.caches, f.table)

	resp := svc.Search(context.Background(), "kiwi", 3)
	if len(resp.Results) != 3 {
		t.Fatalf("results = %+v", resp.Results)
	}
	want := []string{"kiwi kiwi kiwi melon", "kiwi melon melon", "kiwi plum plum plum"}
	for i, text := range want {
		if resp.Results[i].Text != text {
			t.Errorf("result %d = %q, want %q", i, resp.Results[i].Text, text)
		}
		if resp.Results[i].Score != 0 {
			t.Errorf("score %d = %f, want 0", i, resp.Results[i].Score)
		}
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	f := newFixture(t, "pear one", "pear two", "pear three", "pear four", "other")
	f.refreshIDF(t)
	svc := New(f.store, f.caches, f.table)

	if got := len(svc.Search(context.Background(), "pear", 0).Results); got != 3 {
		t.Errorf("default topK results = %d, want 3", got)
	}
	if got := len(svc.Search(context.Background(), "pear", 2).Results); got != 2 {
		t.Errorf("topK=2 results = %d", got)
	}
	svc = New(f.store, f.caches, f.table, WithDefaultTopK(10))
	if got := len(svc.Search(context.Background(), "pear", -1).Results); got != 4 {
		t.Errorf("configured default results = %d, want 4", got)
	}
}

func TestSearchCachesPostingsAndText(t *testing.T) {
	f := newFixture(t, "grape vine", "grape juice")
	svc := New(f.store, f.caches, f.table)
	ctx := context.Background()

	first := svc.Search(ctx, "grape vine", 3)
	if first.PostingMisses != 2 || first.PostingHits != 0 {
		t.Errorf("first probe hits=%d misses=%d", first.PostingHits, first.PostingMisses)
	}
	if f.store.Calls(storagetest.OpPostings) != 1 {
		t.Errorf("missed terms should be fetched in one call, got %d", f.store.Calls(storagetest.OpPostings))
	}
	if p, ok := f.caches.Terms.Get("grape"); !ok || len(p) != 2 || p[0].DocID > p[1].DocID {
		t.Errorf("cached grape postings = %+v", p)
	}

	gets := f.store.Calls(storagetest.OpGet)
	second := svc.Search(ctx, "grape vine", 3)
	if second.PostingHits != 2 || second.PostingMisses != 0 {
		t.Errorf("second probe hits=%d misses=%d", second.PostingHits, second.PostingMisses)
	}
	if f.store.Calls(storagetest.OpPostings) != 1 || f.store.Calls(storagetest.OpGet) != gets {
		t.Error("second search should be served entirely from cache")
	}
}

func TestSearchSkipsDeletedDocuments(t *testing.T) {
	f := newFixture(t, "lime a", "lime lime b", "lime c")
	svc := New(f.store, f.caches, f.table)
	ctx := context.Background()

	// Warm the term cache, then delete a match behind its back.
	svc.Search(ctx, "lime", 1)
	f.caches.Documents.Clear()
	err := f.store.Run(ctx, func(r document.Repositories) error {
		_, err := r.Documents.Delete(ctx, f.ids["lime lime b"])
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := svc.Search(ctx, "lime", 2)
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	for _, r := range resp.Results {
		if r.DocID == f.ids["lime lime b"] {
			t.Error("deleted document returned")
		}
		if r.Text == "" {
			t.Errorf("missing text for %s", r.DocID)
		}
	}
	if resp.Degraded {
		t.Error("a missing document is not a storage failure")
	}
}

func TestSearchDegradesOnPostingsFailure(t *testing.T) {
	f := newFixture(t, "mango")
	m := metrics.New(prometheus.NewRegistry())
	svc := New(f.store, f.caches, f.table, WithMetrics(m))
	f.store.Fail(storagetest.OpPostings, errors.New("connection refused"))

	resp := svc.Search(context.Background(), "mango", 3)
	if len(resp.Results) != 0 || !resp.Degraded {
		t.Errorf("resp = %+v", resp)
	}
	if f.caches.Terms.Len() != 0 {
		t.Error("failed fetch must not populate the term cache")
	}
	if got := testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("degraded")); got != 1 {
		t.Errorf("degraded counter = %f", got)
	}
}

func TestSearchKeepsResultWhenTextLookupFails(t *testing.T) {
	f := newFixture(t, "papaya")
	svc := New(f.store, f.caches, f.table)
	f.store.Fail(storagetest.OpGet, errors.New("read timeout"))

	resp := svc.Search(context.Background(), "papaya", 3)
	if len(resp.Results) != 1 || resp.Results[0].Text != "" || !resp.Degraded {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearchBreakerOpensOnRepeatedFailures(t *testing.T) {
	f := newFixture(t, "quince")
	m := metrics.New(prometheus.NewRegistry())
	svc := New(f.store, f.caches, f.table, WithMetrics(m),
		WithBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2}))
	f.store.Fail(storagetest.OpPostings, errors.New("down"))

	for i := 0; i < 3; i++ {
		svc.Search(context.Background(), "quince", 3)
	}
	if svc.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", svc.BreakerState())
	}
	if got := f.store.Calls(storagetest.OpPostings); got != 2 {
		t.Errorf("postings calls = %d, want 2 (third rejected by breaker)", got)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("search-storage")); got != float64(resilience.StateOpen) {
		t.Errorf("breaker gauge = %f", got)
	}
}

func TestDistinctSorted(t *testing.T) {
	got := distinct([]string{"pear", "apple", "pear", "fig"})
	want := []string{"apple", "fig", "pear"}
	if len(got) != len(want) {
		t.Fatalf("distinct = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("distinct = %v, want %v", got, want)
		}
	}
}
