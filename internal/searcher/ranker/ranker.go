// Package ranker turns the postings of a query's terms into an ordered list of
// TF-IDF scored documents.
package ranker

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
	// TermFrequency is the sum of the raw frequencies of every matched
	// posting. It orders documents whose scores are equal.
	TermFrequency float64 `json:"-"`
}

// Rank scores every document appearing in postingsPerTerm as
// sum(frequency * idf(term)) / tokenCount and returns them ordered by score
// descending, then summed term frequency descending, then DocID ascending.
// tokenCount is the number of query tokens including repeats. A limit of
// zero or less returns every scored document.
func Rank(
	postingsPerTerm map[string][]document.Posting,
	idf func(term string) float64,
	tokenCount int,
	limit int,
) []ScoredDoc {
	if tokenCount <= 0 || len(postingsPerTerm) == 0 {
		return []ScoredDoc{}
	}
	scores := make(map[string]*ScoredDoc)
	for term, postings := range postingsPerTerm {
		weight := idf(term)
		for _, p := range postings {
			sd, ok := scores[p.DocID]
			if !ok {
				sd = &ScoredDoc{DocID: p.DocID}
				scores[p.DocID] = sd
			}
			sd.Score += p.Frequency * weight
			sd.TermFrequency += p.Frequency
		}
	}

	result := make([]ScoredDoc, 0, len(scores))
	for _, sd := range scores {
		sd.Score /= float64(tokenCount)
		result = append(result, *sd)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		if result[i].TermFrequency != result[j].TermFrequency {
			return result[i].TermFrequency > result[j].TermFrequency
		}
		return result[i].DocID < result[j].DocID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

