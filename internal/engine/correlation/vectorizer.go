package correlation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Vectorizer turns alarm text into TF-IDF weighted bag-of-words vectors.
// It is fitted per analysis pass over the pass's document set; IDF weights
// from one pass are never reused for another.
type Vectorizer struct {
	vocab map[string]int
	idf   []float64
}

// Fit builds the vocabulary and IDF weights from the document set. It
// fails when there are fewer than two documents, since similarity over a
// single document is meaningless.
func (v *Vectorizer) Fit(docs []string) error {
	if len(docs) < 2 {
		return fmt.Errorf("need at least 2 documents, got %d", len(docs))
	}

	v.vocab = make(map[string]int)
	docFreq := []int{}

	for _, doc := range docs {
		seen := make(map[int]bool)
		for _, tok := range tokenize(doc) {
			idx, ok := v.vocab[tok]
			if !ok {
				idx = len(v.vocab)
				v.vocab[tok] = idx
				docFreq = append(docFreq, 0)
			}
			if !seen[idx] {
				docFreq[idx]++
				seen[idx] = true
			}
		}
	}

	if len(v.vocab) == 0 {
		return fmt.Errorf("documents contain no tokens")
	}

	n := float64(len(docs))
	v.idf = make([]float64, len(docFreq))
	for i, df := range docFreq {
		v.idf[i] = math.Log(n/(1+float64(df))) + 1
	}
	return nil
}

// Transform produces the TF-IDF vector for one document. Tokens outside
// the fitted vocabulary are ignored.
func (v *Vectorizer) Transform(doc string) []float64 {
	vec := make([]float64, len(v.vocab))
	toks := tokenize(doc)
	if len(toks) == 0 {
		return vec
	}
	for _, tok := range toks {
		if idx, ok := v.vocab[tok]; ok {
			vec[idx]++
		}
	}
	total := float64(len(toks))
	for i := range vec {
		vec[i] = vec[i] / total * v.idf[i]
	}
	return vec
}

// Cosine computes the cosine similarity of two equal-length vectors,
// returning 0 when either is a zero vector.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(doc string) []string {
	return tokenPattern.FindAllString(strings.ToLower(doc), -1)
}
