// Command docqa is the entry point for the document QA platform.
// It provides a CLI interface (via Cobra) and an HTTP server exposing
// tenant management, document ingestion, and retrieval-grounded chat.
package main

import (
	"fmt"
	"os"

	"github.com/docqa-ai/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
