// Package vectorstore composes an embedder, a semantic chunker, and a
// namespaced vector index behind a single ingest/query contract. One Facade
// is constructed at process start and passed by handle to every collaborator
// that needs it; two facades over the same backing store behave identically,
// so construction is idempotent with respect to index state.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/scrobits-tech/queryagent-go/internal/rag"
)

// ErrNoResults is returned by Query when the namespace holds no relevant
// chunks. It lets callers distinguish "nothing relevant" from a retrieval
// error and from an empty-but-valid context string.
var ErrNoResults = errors.New("vectorstore: no results for query")

// ErrNamespaceRequired is returned when an operation is invoked without a
// namespace. There is no global-scope fallback.
var ErrNamespaceRequired = errors.New("vectorstore: namespace is required")

// Chunker splits raw text into segments prior to embedding.
type Chunker interface {
	// Chunk splits text into coherent segments.
	Chunk(ctx context.Context, text string) ([]string, error)
}

// Config holds the settings for constructing a Facade.
type Config struct {
	// TopK is the number of chunks returned per query. Defaults to 5 if zero.
	TopK int
}

// Facade is the single ingest/query entry point over the vector index.
// It is safe for concurrent use: queries never block one another, while
// concurrent ingests into the same namespace are serialized so a query never
// observes a partially ingested document.
type Facade struct {
	// embedder converts chunks and queries into dense vectors.
	embedder rag.Embedder

	// chunker splits raw documents into segments.
	chunker Chunker

	// store is the namespaced vector index.
	store rag.VectorStore

	// topK is the number of chunks fetched per query.
	topK int

	// mu protects ingestLocks.
	mu sync.Mutex

	// ingestLocks serializes ingestion per namespace.
	ingestLocks map[string]*sync.Mutex
}

// New constructs a Facade from the given collaborators.
func New(embedder rag.Embedder, chunker Chunker, store rag.VectorStore, cfg *Config) (*Facade, error) {
	if embedder == nil {
		return nil, fmt.Errorf("vectorstore: embedder must not be nil")
	}
	if chunker == nil {
		return nil, fmt.Errorf("vectorstore: chunker must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("vectorstore: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Facade{
		embedder:    embedder,
		chunker:     chunker,
		store:       store,
		topK:        topK,
		ingestLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Ingest chunks text, embeds each chunk, and upserts the batch into the
// index under namespace. It fails before any partial work when namespace is
// empty, and holds the per-namespace lock for the duration so concurrent
// ingests into the same namespace cannot interleave.
func (f *Facade) Ingest(ctx context.Context, text, namespace string) (int, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}

	lock := f.namespaceLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	segments, err := f.chunker.Chunk(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: chunking failed: %w", err)
	}
	if len(segments) == 0 {
		return 0, nil
	}

	embeddings, err := f.embedder.Embed(ctx, segments)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: embedding chunks failed: %w", err)
	}

	chunks := make([]rag.Chunk, 0, len(segments))
	for i, segment := range segments {
		chunks = append(chunks, rag.Chunk{
			ID:        chunkID(namespace, segment, i),
			Content:   segment,
			Namespace: namespace,
			Metadata: map[string]string{
				"chunk_index": fmt.Sprintf("%d", i),
			},
		})
	}

	if err := f.store.Upsert(ctx, namespace, chunks, embeddings); err != nil {
		return 0, fmt.Errorf("vectorstore: upsert failed: %w", err)
	}

	return len(chunks), nil
}

// Query embeds text, searches the namespace partition, and returns the
// retrieved chunks concatenated in rank order. Returns ErrNoResults when the
// namespace holds nothing relevant.
func (f *Facade) Query(ctx context.Context, text, namespace string) (string, error) {
	if namespace == "" {
		return "", ErrNamespaceRequired
	}

	embeddings, err := f.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("vectorstore: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return "", fmt.Errorf("vectorstore: embedder returned empty result for query")
	}

	chunks, err := f.store.Search(ctx, namespace, embeddings[0], f.topK)
	if err != nil {
		return "", fmt.Errorf("vectorstore: search failed: %w", err)
	}
	if len(chunks) == 0 {
		return "", ErrNoResults
	}

	var sb strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}

// namespaceLock returns the ingest mutex for namespace, creating it on first use.
func (f *Facade) namespaceLock(namespace string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()

	lock, ok := f.ingestLocks[namespace]
	if !ok {
		lock = &sync.Mutex{}
		f.ingestLocks[namespace] = lock
	}
	return lock
}

// chunkID generates a deterministic UUID-shaped ID for a chunk based on its
// namespace, content, and index, so re-ingesting the same document upserts
// rather than duplicates.
func chunkID(namespace, content string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d#%s", namespace, index, content)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
