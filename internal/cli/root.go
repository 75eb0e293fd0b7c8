// Package cli contains the arbiter command tree, one file per command.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	policyPath string
	mode       string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "arbiter",
	Short:        "Governance decision point for autonomous agent actions",
	Long:         "Evaluates inbound events against policy and produces auditable ALLOW / DENY / ESCALATE verdicts backed by a tamper-evident hash chain.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "Path to the decision database")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to the policy YAML (defaults built in)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "enforce", "Deployment mode: enforce or scanner")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of human-readable output")
}

func defaultDBPath() string {
	if p := os.Getenv("ARBITER_DB"); p != "" {
		return p
	}
	return "arbiter.db"
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
