// Package chunker splits raw document text into semantically coherent
// segments. The boundary between two segments is placed where the embedding
// distance between adjacent sentences spikes above a percentile threshold,
// so chunks break at topic shifts rather than at fixed character offsets.
package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scrobits-tech/queryagent-go/internal/rag"
)

// defaultPercentile is the breakpoint threshold percentile over the
// adjacent-sentence distance distribution.
const defaultPercentile = 95

// Config holds the settings for constructing a Semantic chunker.
type Config struct {
	// Percentile is the breakpoint threshold percentile (0–100).
	// Distances above this percentile become chunk boundaries.
	// Defaults to 95 if zero.
	Percentile float64
}

// Semantic chunks text by embedding adjacent sentences and splitting where
// their cosine distance exceeds a percentile-based threshold.
type Semantic struct {
	// embedder converts sentences into dense vectors for distance computation.
	embedder rag.Embedder

	// percentile is the resolved breakpoint threshold percentile.
	percentile float64
}

// NewSemantic constructs a Semantic chunker from the given embedder and config.
func NewSemantic(embedder rag.Embedder, cfg *Config) (*Semantic, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chunker: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	p := cfg.Percentile
	if p <= 0 || p > 100 {
		p = defaultPercentile
	}
	return &Semantic{embedder: embedder, percentile: p}, nil
}

// Chunk splits text into semantically coherent segments. Texts with a single
// sentence come back as one chunk without an embedding call.
func (s *Semantic) Chunk(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []string{sentences[0]}, nil
	}

	embeddings, err := s.embedder.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("chunker: embedding sentences failed: %w", err)
	}
	if len(embeddings) != len(sentences) {
		return nil, fmt.Errorf("chunker: expected %d sentence embeddings, got %d", len(sentences), len(embeddings))
	}

	distances := make([]float64, len(sentences)-1)
	for i := 0; i < len(sentences)-1; i++ {
		distances[i] = 1 - cosine(embeddings[i], embeddings[i+1])
	}

	threshold := percentile(distances, s.percentile)

	var chunks []string
	var current []string
	for i, sentence := range sentences {
		current = append(current, sentence)
		if i < len(distances) && distances[i] > threshold {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks, nil
}

// splitSentences breaks text into sentences at terminal punctuation followed
// by whitespace, and at blank lines. Whitespace-only fragments are dropped.
func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder

	flush := func() {
		s := strings.TrimSpace(sb.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		sb.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		sb.WriteRune(r)

		switch r {
		case '.', '!', '?':
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				flush()
			}
		case '\n':
			// Blank line ends a sentence even without terminal punctuation.
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush()
			}
		}
	}
	flush()

	return sentences
}

// percentile returns the linearly interpolated percentile of values, so a
// single outlier distance still exceeds the threshold even for short
// documents. The input slice is not modified.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if upper >= len(sorted) {
		upper = len(sorted) - 1
	}
	if lower == upper {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// cosine computes the cosine similarity between two vectors, returning 0 for
// mismatched lengths or zero-magnitude inputs.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
