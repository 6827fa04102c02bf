// Package embedding defines the external embedding-model interface
// consumed by the Chat Memory Engine (spec §6.3): text -> vector, and pure
// cosine similarity between two vectors. Production deployments wire a real
// LLM embedding client behind Model; this package also ships a
// deterministic stub suitable for tests and offline operation, since the
// real model is explicitly out of scope (spec §1).
package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Model creates embedding vectors for text. Implementations may fail
// (network errors, rate limits); callers must treat failures as tolerable
// per spec §4.2 ("Embedding failures are logged and swallowed").
type Model interface {
	Create(ctx context.Context, text string) ([]float64, error)
}

// CosineSimilarity computes the cosine similarity of a and b, in [-1, 1].
// It is pure and never fails; mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

const stubDimensions = 2048

// StubModel is a deterministic, dependency-free embedding model: it hashes
// each ASCII-alphanumeric word of the input text into a bucket of a
// fixed-width vector and L2-normalizes the counts. It is
// not semantically meaningful but is stable within a process (spec §6.3:
// "Deterministic (within a model version)") and is used when no real
// embedding client is configured.
type StubModel struct{}

// NewStubModel builds a StubModel.
func NewStubModel() *StubModel { return &StubModel{} }

func (StubModel) Create(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, stubDimensions)
	words := splitWords(text)
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32()) % stubDimensions
		if idx < 0 {
			idx += stubDimensions
		}
		vec[idx]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return words
}
