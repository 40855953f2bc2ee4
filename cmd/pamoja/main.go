// Pamoja is a resource-aware multi-agent orchestration engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pamoja",
	Short: "Pamoja is a resource-aware multi-agent orchestration engine.",
	Long: `Pamoja admits tasks against declared resource pools, selects a
coordination strategy from observed effectiveness, and executes staged
plans across a pool of local and remote agents with partial-failure
semantics.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, agentCmd, analyzeCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
