// Package rag defines the interfaces for retrieval-augmented generation
// components: namespaced vector storage and embedding. Concrete
// implementations (Qdrant, in-memory) satisfy these interfaces so the
// workflow layer never depends on a specific backend.
package rag

import (
	"context"
)

// Chunk represents a unit of stored or retrieved knowledge: a contiguous
// span of source text plus its tenant namespace. Chunks are created at
// ingestion time and never mutated afterwards.
type Chunk struct {
	// ID is the unique identifier for this chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Namespace is the tenant partition this chunk belongs to.
	Namespace string

	// Metadata holds arbitrary key-value pairs (source, chunk index, etc.).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval (0.0–1.0).
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Every operation is scoped to exactly one namespace — implementations must
// guarantee that a search in one namespace never returns chunks ingested
// under another. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of chunks with their pre-computed
	// embeddings under the given namespace. The embeddings slice must be
	// parallel to chunks — embeddings[i] is the vector for chunks[i].
	Upsert(ctx context.Context, namespace string, chunks []Chunk, embeddings [][]float32) error

	// Search performs a semantic similarity search restricted to the given
	// namespace and returns the top-k most relevant chunks.
	Search(ctx context.Context, namespace string, queryEmbedding []float32, topK int) ([]Chunk, error)

	// Delete removes chunks by their IDs within the given namespace.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
