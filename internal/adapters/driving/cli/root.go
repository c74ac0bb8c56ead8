// Package cli implements the lexcore command line interface using cobra.
// Commands are thin: they parse flags, call driving port services and
// format output. All business logic lives in the core services.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
	"github.com/custodia-labs/lexcore/internal/core/ports/driving"
	"github.com/custodia-labs/lexcore/internal/logger"
)

// Services wired into the commands. Set by Execute before any command
// runs; commands nil-check the services they need.
var (
	version          = "dev"
	documentService  driving.DocumentService
	retrievalService driving.RetrievalService
	auditService     driving.AuditService
	configStore      driven.ConfigStore
)

var verboseFlag bool

var rootCmd = &cobra.Command{
	Use:   "lexcore",
	Short: "Chunked document retrieval with replayable runs",
	Long: `lexcore ingests documents into deterministic chunks, indexes them for
hybrid (keyword + semantic) retrieval, and records every retrieval as an
immutable run that can be replayed byte-for-byte later.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose logging to stderr")
}

// Deps carries the wired services for the CLI.
type Deps struct {
	Version          string
	DocumentService  driving.DocumentService
	RetrievalService driving.RetrievalService
	AuditService     driving.AuditService
	ConfigStore      driven.ConfigStore
}

// Execute installs the dependencies and runs the root command.
func Execute(deps Deps) {
	if deps.Version != "" {
		version = deps.Version
	}
	documentService = deps.DocumentService
	retrievalService = deps.RetrievalService
	auditService = deps.AuditService
	configStore = deps.ConfigStore

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
