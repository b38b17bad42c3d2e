package ranker

import (
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
)

func table(values map[string]float64) func(string) float64 {
	return func(term string) float64 { return values[term] }
}

func TestRankNormalizesByTokenCount(t *testing.T) {
	postings := map[string][]document.Posting{
		"apple": {{DocID: "d1", Frequency: 0.5}},
	}
	idf := table(map[string]float64{"apple": 2})

	once := Rank(postings, idf, 1, 0)
	twice := Rank(postings, idf, 2, 0)
	if len(once) != 1 || len(twice) != 1 {
		t.Fatalf("unexpected lengths %d, %d", len(once), len(twice))
	}
	if once[0].Score != 1 {
		t.Errorf("score with one token = %f, want 1", once[0].Score)
	}
	if twice[0].Score != 0.5 {
		t.Errorf("score for \"apple apple\" = %f, want 0.5", twice[0].Score)
	}
}

func TestRankAccumulatesAcrossTerms(t *testing.T) {
	postings := map[string][]document.Posting{
		"apple":  {{DocID: "d1", Frequency: 0.5}, {DocID: "d2", Frequency: 0.25}},
		"banana": {{DocID: "d2", Frequency: 0.5}},
	}
	idf := table(map[string]float64{"apple": 1, "banana": 2})

	got := Rank(postings, idf, 2, 0)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].DocID != "d2" || math.Abs(got[0].Score-0.625) > 1e-12 {
		t.Errorf("first = %+v, want d2 with 0.625", got[0])
	}
	if got[1].DocID != "d1" || math.Abs(got[1].Score-0.25) > 1e-12 {
		t.Errorf("second = %+v, want d1 with 0.25", got[1])
	}
}

func TestRankEmptyIDFFallsBackToTermFrequency(t *testing.T) {
	postings := map[string][]document.Posting{
		"apple": {
			{DocID: "low", Frequency: 0.1},
			{DocID: "high", Frequency: 0.9},
			{DocID: "mid", Frequency: 0.5},
		},
	}
	got := Rank(postings, table(nil), 1, 0)
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if got[i].DocID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
		if got[i].Score != 0 {
			t.Errorf("%s score = %f, want 0", id, got[i].Score)
		}
	}
}

func TestRankTieBreaksByDocID(t *testing.T) {
	postings := map[string][]document.Posting{
		"apple": {
			{DocID: "c", Frequency: 0.5},
			{DocID: "a", Frequency: 0.5},
			{DocID: "b", Frequency: 0.5},
		},
	}
	idf := table(map[string]float64{"apple": 1})
	for i := 0; i < 10; i++ {
		got := Rank(postings, idf, 1, 2)
		if len(got) != 2 || got[0].DocID != "a" || got[1].DocID != "b" {
			t.Fatalf("run %d: got %v, want [a b]", i, ids(got))
		}
	}
}

func TestRankNegativeIDF(t *testing.T) {
	postings := map[string][]document.Posting{
		"common": {{DocID: "d1", Frequency: 1}},
		"rare":   {{DocID: "d2", Frequency: 0.1}},
	}
	idf := table(map[string]float64{"common": -0.5, "rare": 1})
	got := Rank(postings, idf, 2, 0)
	if got[0].DocID != "d2" || got[1].Score >= 0 {
		t.Errorf("got %+v", got)
	}
}

func TestRankEmptyInput(t *testing.T) {
	if got := Rank(nil, table(nil), 1, 3); len(got) != 0 {
		t.Errorf("Rank(nil) = %v", got)
	}
	postings := map[string][]document.Posting{"x": {{DocID: "d", Frequency: 1}}}
	if got := Rank(postings, table(nil), 0, 3); len(got) != 0 {
		t.Errorf("Rank with zero tokens = %v", got)
	}
}

func ids(docs []ScoredDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.DocID
	}
	return out
}
