package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/scrobits-tech/queryagent-go/internal/llm"
	"github.com/scrobits-tech/queryagent-go/internal/logging"
	"github.com/scrobits-tech/queryagent-go/internal/namespace"
	"github.com/scrobits-tech/queryagent-go/internal/provider"
	"github.com/scrobits-tech/queryagent-go/internal/server"
	"github.com/scrobits-tech/queryagent-go/internal/store"
	"github.com/scrobits-tech/queryagent-go/internal/tracing"
	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// NewServeCmd constructs the `queryagent serve` command, which starts the
// HTTP server exposing the chat and ingestion API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the queryagent HTTP server",
		Long: `Start the queryagent HTTP server on localhost.

The server exposes POST /api/chat for grounded question answering and
POST /api/ingest for loading tenant documents into the vector store, plus
health, readiness, and Prometheus metrics endpoints.

Tenants are configured in the YAML config file as a user_id → namespace map;
a request from an unknown user is rejected before any retrieval happens.

Examples:
  queryagent serve
  queryagent serve --port 9090
  MODEL_PROVIDER=azure queryagent serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			tenants, err := tenantNamespaces()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			registry := namespace.NewRegistry(tenants)
			log.Info("tenant registry loaded", slog.Int("tenants", registry.Len()))

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			facade, emb, qdrantStore, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer qdrantStore.Close()

			generator, err := llm.NewGenerator(chatModel, getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			evaluator, err := llm.NewEvaluator(chatModel, getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			controller, err := workflow.NewController(facade, generator, evaluator, &workflow.Config{
				MaxRetries: getEnvInt("QUERYAGENT_MAX_RETRIES", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create workflow controller: %w", err)
			}

			// Open conversation history store. QUERYAGENT_HISTORY_DB overrides
			// the default path (~/.queryagent/history.db). Set to "disabled"
			// to disable.
			var historyStore store.ConversationStore
			dbPath := os.Getenv("QUERYAGENT_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					hs, hsErr := store.Open(dbPath)
					if hsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
					} else {
						historyStore = hs
						defer func() { _ = hs.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via QUERYAGENT_HISTORY_DB=disabled")
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")),
				server.NewQdrantPinger(qdrantStore.Client()),
				server.NewEmbedderPinger(emb),
			}

			srv, err := server.New(controller, facade, &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  pingers,
				APIKey:   os.Getenv("QUERYAGENT_API_KEY"),
				Registry: registry,
				History:  historyStore,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
