package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var processInteractive bool

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().BoolVar(&processInteractive, "interactive", false,
		"Mark escalations as suspended instead of pending_review")
}

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Run one event envelope through the governance pipeline",
	Long:  "Reads an event envelope (JSON) from the given file or stdin, evaluates it,\nand prints the outcome. Exit code 0 regardless of verdict; non-zero only on\noperational failure.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}

	rt, err := openRuntime(cmd.Context(), processInteractive)
	if err != nil {
		return err
	}
	defer rt.Close()

	outcome, err := rt.proc.ProcessRaw(cmd.Context(), raw)
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("%s  %s\n", outcome.Decision, outcome.Status)
	if outcome.Reason != "" {
		fmt.Printf("  reason:   %s\n", outcome.Reason)
	}
	if outcome.PolicyID != "" {
		fmt.Printf("  policy:   %s\n", outcome.PolicyID)
	}
	if outcome.ReviewID != "" {
		fmt.Printf("  review:   %s\n", outcome.ReviewID)
	}
	fmt.Printf("  decision: %s\n", outcome.DecisionID)
	fmt.Printf("  latency:  %dms\n", outcome.LatencyMS)
	return nil
}
