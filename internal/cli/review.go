package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reviewer       string
	reviewResponse string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer identity recorded on the resolution")
		c.Flags().StringVar(&reviewResponse, "response", "", "Free-form response stored with the decision")
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <review-id>",
	Short: "Approve a suspended or pending decision",
	Long:  "Resolves the review and transitions the decision's execution status to\napproved. The signed audit payload is never modified.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <review-id>",
	Short: "Reject a suspended or pending decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func runApprove(cmd *cobra.Command, args []string) error {
	return resolveReview(cmd, args[0], true)
}

func runReject(cmd *cobra.Command, args []string) error {
	return resolveReview(cmd, args[0], false)
}

func resolveReview(cmd *cobra.Command, reviewID string, approve bool) error {
	rt, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	resolve := rt.proc.Reject
	if approve {
		resolve = rt.proc.Approve
	}
	res, err := resolve(cmd.Context(), reviewID, reviewer, reviewResponse)
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("%s: review %s (decision %s)\n", res.Status, res.ReviewID, res.DecisionID)
	if res.Action != "" {
		fmt.Printf("  action: %s\n", res.Action)
	}
	return nil
}
