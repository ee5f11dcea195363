// Package commands defines all Cobra CLI commands for the queryagent binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/scrobits-tech/queryagent-go/internal/audit"
	"github.com/scrobits-tech/queryagent-go/internal/config"
	"github.com/scrobits-tech/queryagent-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// loadedConfig holds the parsed YAML config, if a file was found. Structured
// sections like the tenant map are read from here; scalar values flow through
// env vars.
var loadedConfig *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "queryagent",
		Short: "queryagent — multi-tenant RAG question answering powered by LLMs",
		Long: `queryagent answers natural language questions grounded in per-tenant
document collections.

Each answer is drafted from retrieved context, judged by an evaluator model,
and refined through bounded retry passes until it is grounded or the retry
budget is exhausted. Tenant documents are isolated by namespace: a query for
one tenant can never read another tenant's documents.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.queryagent/config.yaml).
See 'queryagent --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.queryagent/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
