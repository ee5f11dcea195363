package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrobits-tech/queryagent-go/internal/logging"
	"github.com/scrobits-tech/queryagent-go/internal/namespace"
)

// NewIngestCmd constructs the `queryagent ingest` command, which chunks,
// embeds, and indexes documents into a tenant's namespace.
func NewIngestCmd() *cobra.Command {
	var user string
	var ns string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest documents into a tenant's vector store namespace",
		Long: `Chunk, embed, and index document text into one tenant's namespace.

Each file argument is ingested as one document; with no arguments the
document is read from stdin. Select the tenant with --user (resolved through
the configured tenant map) or --namespace directly.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: queryagent-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  queryagent ingest --user alice ./docs/refund-policy.md
  queryagent ingest --namespace tenant-a ./handbook.txt ./faq.txt
  cat notes.md | queryagent ingest --user bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if ns == "" {
				if user == "" {
					return fmt.Errorf("ingest: either --user or --namespace is required")
				}
				tenants, err := tenantNamespaces()
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				ns, err = namespace.NewRegistry(tenants).Lookup(user)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			facade, _, qdrantStore, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer qdrantStore.Close()

			type document struct {
				name string
				text string
			}
			var docs []document

			if len(args) == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("ingest: failed to read stdin: %w", err)
				}
				docs = append(docs, document{name: "stdin", text: string(data)})
			} else {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("ingest: failed to read %s: %w", path, err)
					}
					docs = append(docs, document{name: path, text: string(data)})
				}
			}

			log.Info("starting ingestion",
				slog.Int("documents", len(docs)),
				slog.String("namespace", ns),
			)

			total := 0
			for _, doc := range docs {
				n, err := facade.Ingest(ctx, doc.text, ns)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", doc.name, err)
				}
				log.Info("document ingested",
					slog.String("document", doc.name),
					slog.Int("chunks", n),
				)
				total += n
			}

			log.Info("ingestion complete",
				slog.Int("documents", len(docs)),
				slog.Int("chunks", total),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to resolve to a tenant namespace")
	cmd.Flags().StringVarP(&ns, "namespace", "n", "", "Tenant namespace (overrides --user)")

	return cmd
}
