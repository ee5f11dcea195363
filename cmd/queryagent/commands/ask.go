package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrobits-tech/queryagent-go/internal/llm"
	"github.com/scrobits-tech/queryagent-go/internal/logging"
	"github.com/scrobits-tech/queryagent-go/internal/namespace"
	"github.com/scrobits-tech/queryagent-go/internal/provider"
	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// NewAskCmd constructs the `queryagent ask` command, which runs a single
// question through the full retrieve-evaluate-refine loop and prints the
// answer to stdout.
func NewAskCmd() *cobra.Command {
	var user string
	var ns string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against a tenant's document collection",
		Long: `Ask a single natural language question grounded in one tenant's documents.

The answer is drafted from retrieved context, judged by the evaluator model,
and refined through bounded retry passes. Select the tenant with --user
(resolved through the configured tenant map) or --namespace directly.

Examples:
  queryagent ask --user alice "what does our refund policy say about digital goods?"
  queryagent ask --namespace tenant-a "summarise the 2024 initiative"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if ns == "" {
				if user == "" {
					return fmt.Errorf("ask: either --user or --namespace is required")
				}
				tenants, err := tenantNamespaces()
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				ns, err = namespace.NewRegistry(tenants).Lookup(user)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			facade, _, qdrantStore, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer qdrantStore.Close()

			generator, err := llm.NewGenerator(chatModel, getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			evaluator, err := llm.NewEvaluator(chatModel, getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			controller, err := workflow.NewController(facade, generator, evaluator, &workflow.Config{
				MaxRetries: getEnvInt("QUERYAGENT_MAX_RETRIES", 0),
			})
			if err != nil {
				return fmt.Errorf("ask: failed to create workflow controller: %w", err)
			}

			final, err := controller.Run(ctx, workflow.NewState(nil, args[0]), workflow.InvocationConfig{
				Namespace: ns,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if final.Evaluation == workflow.EvalFail {
				fmt.Fprintln(os.Stderr, "warning: retry budget exhausted — answer may not be fully grounded")
			}
			fmt.Println(final.QueryResponse)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to resolve to a tenant namespace")
	cmd.Flags().StringVarP(&ns, "namespace", "n", "", "Tenant namespace (overrides --user)")

	return cmd
}
