// Command queryagent is the entry point for the multi-tenant RAG
// question-answering service. It provides a CLI interface (via Cobra) and an
// HTTP server exposing the chat and ingestion API.
package main

import (
	"fmt"
	"os"

	"github.com/scrobits-tech/queryagent-go/cmd/queryagent/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
