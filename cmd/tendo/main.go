// Tendo — idempotency-aware execution engine with budget and approval controls.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tendo",
	Short: "Tendo — execution engine with lifecycle, budget, and approval controls.",
	Long: `Tendo runs versioned skills through a single orchestration pipeline:
idempotency checks, responsibility validation, PII policy enforcement,
approval gating, budget reservation, and a full audit trail. Every
execution is persisted with its complete state transition history.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, approvalsCmd, budgetCmd, auditCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
