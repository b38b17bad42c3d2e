// Package tokenizer turns raw text into normalised terms. It splits on
// whitespace, lower-cases, strips punctuation and symbols, and removes
// stop-words. Duplicates are kept so that frequencies can be counted.
package tokenizer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// IsStopWord reports whether term is dropped by Tokenize.
func IsStopWord(term string) bool {
	_, ok := stopWords[term]
	return ok
}

// Tokenize returns the terms of text in order, duplicates included.
func Tokenize(text string) []string {
	words := strings.Fields(text)
	tokens := make([]string, 0, len(words))
	var b strings.Builder
	for _, word := range words {
		b.Reset()
		for _, r := range word {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				continue
			}
			b.WriteRune(unicode.ToLower(r))
		}
		term := b.String()
		if term == "" || IsStopWord(term) {
			continue
		}
		tokens = append(tokens, term)
	}
	return tokens
}

// ComputeTermFrequencies returns one entry per distinct term of text, sorted
// by term, with frequency = occurrences / total tokens. Text without tokens
// yields no entries.
func ComputeTermFrequencies(docID, text string) []document.TermFrequency {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	total := float64(len(tokens))
	entries := make([]document.TermFrequency, 0, len(counts))
	for term, n := range counts {
		entries = append(entries, document.TermFrequency{
			DocID:     docID,
			Term:      term,
			Frequency: float64(n) / total,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })
	return entries
}
