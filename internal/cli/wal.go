package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/integrity"
	"github.com/arbiterhq/arbiter/internal/wal"
)

var snapshotPath string

func init() {
	rootCmd.AddCommand(walCmd)
	walCmd.AddCommand(walVerifyCmd)
	walCmd.AddCommand(walMaterializeCmd)
	walMaterializeCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Path to the snapshot document (required)")
	walMaterializeCmd.MarkFlagRequired("snapshot")
}

var walCmd = &cobra.Command{
	Use:   "wal",
	Short: "Workspace write-ahead log operations",
}

var walVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify the WAL hash chain",
	Long:  "Walks the newline-delimited log, checking every entry's previousHash\nlinkage and recomputing its own hash. Exits 0 if intact, 1 on the first break.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWALVerify,
}

var walMaterializeCmd = &cobra.Command{
	Use:   "materialize <path>",
	Short: "Fold pending WAL entries into a snapshot",
	Long:  "Reads the snapshot's context_lock, folds every entry after it into the\nsnapshot body, and advances the lock. An unknown lock replays the whole log.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWALMaterialize,
}

func runWALVerify(cmd *cobra.Command, args []string) error {
	res, err := wal.Verify(args[0])
	if err != nil {
		return err
	}
	if res.Valid {
		fmt.Printf("OK: %d entries verified\n", res.Total)
		return nil
	}
	fmt.Fprintf(os.Stderr, "BROKEN at index %d: %s\n", res.BrokenIndex, res.Details)
	return integrity.ErrChainBroken
}

func runWALMaterialize(cmd *cobra.Command, args []string) error {
	res, err := wal.Materialize(args[0], snapshotPath)
	if err != nil {
		return err
	}
	if jsonOutput {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	if res.Replayed {
		fmt.Println("context_lock not found in log; replayed from the beginning")
	}
	fmt.Printf("folded %d of %d entries; lock now %s\n",
		res.Folded, res.TotalInLog, res.NewLock)
	return nil
}
