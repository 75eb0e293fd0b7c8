package cli

import (
	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/gateway"
)

var serveInteractive bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveInteractive, "interactive", false,
		"Mark escalations as suspended instead of pending_review")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the governance pipeline over MCP (stdio)",
	Long:  "Exposes arbiter_submit, arbiter_pending, arbiter_resolve, and\narbiter_verify as MCP tools. The policy file, when given, is hot-reloaded\non change while serving.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), serveInteractive)
	if err != nil {
		return err
	}
	defer rt.Close()

	return gateway.New(rt.proc).Run(cmd.Context(), policyPath)
}
