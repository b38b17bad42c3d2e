package idf

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage/storagetest"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func seed(t *testing.T, s document.Store, texts ...string) {
	t.Helper()
	ctx := context.Background()
	for _, text := range texts {
		err := s.InTx(ctx, func(r document.Repositories) error {
			id, err := r.Documents.Create(ctx, text)
			if err != nil {
				return err
			}
			return r.Terms.InsertBatch(ctx, tokenizer.ComputeTermFrequencies(id, text))
		})
		if err != nil {
			t.Fatalf("seeding %q: %v", text, err)
		}
	}
}

func TestTableDefaultsToZero(t *testing.T) {
	tbl := NewTable()
	if got := tbl.Get("unknown"); got != 0 {
		t.Errorf("Get(unknown) = %f, want 0", got)
	}
	tbl.Set("apple", 1.5)
	tbl.Set("apple", 2.5)
	if got := tbl.Get("apple"); got != 2.5 {
		t.Errorf("Get(apple) = %f, want 2.5", got)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len = %d, want 1", tbl.Len())
	}
}

func TestTableConcurrentAccess(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				tbl.Set("term", float64(j))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_ = tbl.Get("term")
			}
		}()
	}
	wg.Wait()
}

func TestRunOnceComputesIDF(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, "apple banana", "apple cherry", "durian")

	tbl := NewTable()
	m := metrics.New(prometheus.NewRegistry())
	refreshed := 0
	u := NewUpdater(store, tbl, time.Hour, WithMetrics(m), OnRefresh(func(context.Context) { refreshed++ }))
	if err := u.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	tests := map[string]float64{
		"apple":  math.Log(3.0 / 3.0),
		"banana": math.Log(3.0 / 2.0),
		"durian": math.Log(3.0 / 2.0),
		"absent": 0,
	}
	for term, want := range tests {
		if got := tbl.Get(term); math.Abs(got-want) > 1e-12 {
			t.Errorf("idf(%s) = %f, want %f", term, got, want)
		}
	}
	if refreshed != 1 {
		t.Errorf("OnRefresh called %d times, want 1", refreshed)
	}
	if got := testutil.ToFloat64(m.IDFRefreshTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success counter = %f", got)
	}
	if got := testutil.ToFloat64(m.IDFTerms); got != 4 {
		t.Errorf("idf_terms = %f, want 4", got)
	}
}

func TestRunOnceSkipsEmptyCorpus(t *testing.T) {
	store := storagetest.Wrap(storage.NewMemoryStore())
	tbl := NewTable()
	tbl.Set("stale", 0.7)
	u := NewUpdater(store, tbl, time.Hour)
	if err := u.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if tbl.Len() != 1 || tbl.Get("stale") != 0.7 {
		t.Error("empty corpus must leave the table untouched")
	}
	if store.Calls(storagetest.OpDocumentFrequencies) != 0 {
		t.Error("document frequencies should not be queried for an empty corpus")
	}
}

func TestRunOnceReportsStorageErrors(t *testing.T) {
	store := storagetest.Wrap(storage.NewMemoryStore())
	seed(t, store, "apple")
	boom := errors.New("connection reset")
	store.Fail(storagetest.OpDocumentFrequencies, boom)

	tbl := NewTable()
	u := NewUpdater(store, tbl, time.Hour)
	if err := u.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunOnce err = %v, want wrapped %v", err, boom)
	}
	if tbl.Len() != 0 {
		t.Error("failed cycle must not write partial values")
	}
}

func TestRunContinuesAfterFailuresAndStops(t *testing.T) {
	store := storagetest.Wrap(storage.NewMemoryStore())
	seed(t, store, "apple banana")
	store.Fail(storagetest.OpCount, errors.New("unavailable"))

	tbl := NewTable()
	u := NewUpdater(store, tbl, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.Calls(storagetest.OpCount) < 2 {
		select {
		case <-deadline:
			t.Fatal("updater stopped cycling after a failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	store.Fail(storagetest.OpCount, nil)
	for tbl.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("updater never recovered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
