package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases text and splits it into alphanumeric terms; the
// underscore form produced by normalization splits back into its words.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// RerankTriples scores candidate triples against the query with a TF-IDF
// relevance measure and returns the top-k by descending score. The corpus
// is rebuilt from the candidates on every call; given the same candidates
// and query the result is deterministic (ties keep candidate order).
func RerankTriples(candidates []Triple, query string, topK int) []Triple {
	if len(candidates) == 0 || topK <= 0 {
		return nil
	}

	docs := make([][]string, len(candidates))
	for i, t := range candidates {
		docs[i] = Tokenize(t.Source + " " + t.Relationship + " " + t.Target)
	}

	scores := tfidfScores(docs, Tokenize(query))

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}

	out := make([]Triple, 0, topK)
	for _, idx := range order[:topK] {
		out = append(out, candidates[idx])
	}

	return out
}

// stem strips the most common English inflections so "work" and "works"
// score as the same term. Not a full stemmer; enough for the short entity
// and relation tokens the graph produces.
func stem(term string) string {
	for _, suffix := range []string{"ing", "ies", "ed", "es", "s"} {
		if strings.HasSuffix(term, suffix) && len(term)-len(suffix) >= 3 {
			return strings.TrimSuffix(term, suffix)
		}
	}

	return term
}

// tfidfScores computes one relevance score per document: the sum over query
// terms of term frequency times smoothed inverse document frequency. Terms
// are compared by their stemmed form.
func tfidfScores(docs [][]string, query []string) []float64 {
	docFreq := make(map[string]int)

	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, term := range doc {
			term = stem(term)
			if !seen[term] {
				docFreq[term]++
				seen[term] = true
			}
		}
	}

	n := float64(len(docs))
	scores := make([]float64, len(docs))

	for i, doc := range docs {
		if len(doc) == 0 {
			continue
		}

		termFreq := make(map[string]float64, len(doc))
		for _, term := range doc {
			termFreq[stem(term)]++
		}

		for _, term := range query {
			tf := termFreq[stem(term)] / float64(len(doc))
			if tf == 0 {
				continue
			}

			df := float64(docFreq[stem(term)])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			scores[i] += tf * idf
		}
	}

	return scores
}
