package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/scrobits-tech/queryagent-go/internal/chunker"
	"github.com/scrobits-tech/queryagent-go/internal/embedder"
	"github.com/scrobits-tech/queryagent-go/internal/rag"
	"github.com/scrobits-tech/queryagent-go/internal/vectorstore"
)

// buildVectorStore constructs the full retrieval stack: embedder, semantic
// chunker, Qdrant-backed vector index, and the facade over all three. The
// returned QdrantStore is exposed so callers can wire its client into the
// readiness probe; its Close releases the gRPC connection.
func buildVectorStore(ctx context.Context, log *slog.Logger) (*vectorstore.Facade, rag.Embedder, *rag.QdrantStore, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	qdrantHost := getEnvOrDefault("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "queryagent-docs")

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       qdrantPort,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", qdrantHost),
		slog.Int("port", qdrantPort),
		slog.String("collection", collection),
	)

	chk, err := chunker.NewSemantic(emb, nil)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	facade, err := vectorstore.New(emb, chk, store, &vectorstore.Config{
		TopK: getEnvInt("QUERYAGENT_TOP_K", 0),
	})
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create vector store facade: %w", err)
	}

	return facade, emb, store, nil
}

// tenantNamespaces returns the user→namespace map from the loaded YAML
// config. Serving and ingestion require at least one tenant.
func tenantNamespaces() (map[string]string, error) {
	if loadedConfig == nil || len(loadedConfig.Tenants) == 0 {
		return nil, fmt.Errorf("no tenants configured — add a `tenants:` map (user_id: namespace) to the config file")
	}
	return loadedConfig.Tenants, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
