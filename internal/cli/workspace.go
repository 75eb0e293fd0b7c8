package cli

import (
	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/workspace"
)

var (
	workspaceWAL      string
	workspaceSnapshot string
)

func init() {
	rootCmd.AddCommand(workspaceCmd)
	workspaceCmd.Flags().StringVar(&workspaceWAL, "wal", "workspace.wal", "Path to the write-ahead log")
	workspaceCmd.Flags().StringVar(&workspaceSnapshot, "snapshot", "", "Path to the snapshot document")
}

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Serve the sandboxed workspace runtime over MCP (stdio)",
	Long:  "Exposes workspace_record, workspace_status, wal_verify,\nworkspace_materialize, and safe_mode as MCP tools over a hash-chained\nwrite-ahead log.",
	RunE:  runWorkspace,
}

func runWorkspace(cmd *cobra.Command, args []string) error {
	srv, err := workspace.New(workspace.Config{
		WALPath:      workspaceWAL,
		SnapshotPath: workspaceSnapshot,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Run(cmd.Context())
}
