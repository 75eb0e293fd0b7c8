package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List decisions awaiting human review",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	reviews, err := rt.proc.Reviews().Pending(cmd.Context())
	if err != nil {
		return fmt.Errorf("list pending reviews: %w", err)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(reviews, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	if len(reviews) == 0 {
		fmt.Println("No pending reviews.")
		return nil
	}
	fmt.Printf("%-38s %-14s %-24s %s\n", "REVIEW", "TENANT", "CREATED", "REASON")
	for _, rv := range reviews {
		fmt.Printf("%-38s %-14s %-24s %s\n",
			rv.ReviewID,
			truncate(rv.TenantID, 14),
			rv.CreatedAt.Format("2006-01-02 15:04:05"),
			truncate(rv.EscalationReason, 60),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
