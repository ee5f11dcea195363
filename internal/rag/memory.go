package rag

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory VectorStore used by tests and local
// development. Chunks are partitioned per namespace, mirroring the isolation
// guarantee of the Qdrant backend.
type MemoryStore struct {
	// mu protects partitions.
	mu sync.RWMutex
	// partitions maps namespace -> chunk ID -> stored entry.
	partitions map[string]map[string]memoryEntry
}

// memoryEntry pairs a chunk with its embedding vector.
type memoryEntry struct {
	chunk     Chunk
	embedding []float32
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]map[string]memoryEntry)}
}

// Upsert stores chunks and their embeddings under the given namespace.
// The whole batch becomes visible atomically.
func (s *MemoryStore) Upsert(_ context.Context, namespace string, chunks []Chunk, embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.partitions[namespace]
	if !ok {
		part = make(map[string]memoryEntry)
		s.partitions[namespace] = part
	}
	for i, chunk := range chunks {
		chunk.Namespace = namespace
		part[chunk.ID] = memoryEntry{chunk: chunk, embedding: embeddings[i]}
	}
	return nil
}

// Search returns the top-k chunks in the namespace ranked by cosine
// similarity to the query embedding.
func (s *MemoryStore) Search(_ context.Context, namespace string, queryEmbedding []float32, topK int) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part := s.partitions[namespace]

	scored := make([]Chunk, 0, len(part))
	for _, entry := range part {
		c := entry.chunk
		c.Score = cosineSimilarity(queryEmbedding, entry.embedding)
		scored = append(scored, c)
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Delete removes chunks by ID from the namespace partition.
func (s *MemoryStore) Delete(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partitions[namespace]
	for _, id := range ids {
		delete(part, id)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude inputs.
func cosineSimilarity(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
