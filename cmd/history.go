package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit    int
	historyID       string
	historyPurgeAge time.Duration
	historyJSON     bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or purge recorded lookup batches",
	Long: `Show lookup batches recorded in the SQLite history database (--history-db).

Examples:
  # List the 20 most recent batches
  assetintel history --history-db ./data/history.db

  # Show one batch with its per-observable outcomes
  assetintel history --history-db ./data/history.db --id 0b6c...

  # Delete batches older than a week
  assetintel history --history-db ./data/history.db --purge-older-than 168h`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of batches to show")
	historyCmd.Flags().StringVar(&historyID, "id", "", "Show a single batch")
	historyCmd.Flags().DurationVar(&historyPurgeAge, "purge-older-than", 0, "Delete batches started longer ago than this")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON instead of text")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	if cfg.History.DB == "" {
		return errors.New("no history database configured (--history-db or history.db)")
	}

	st, err := store.NewStore(cfg.History.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	if historyPurgeAge > 0 {
		n, err := st.PurgeBefore(ctx, time.Now().Add(-historyPurgeAge))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Purged %d batch(es).\n", n)
		return nil
	}

	if historyID != "" {
		b, err := st.GetBatch(ctx, historyID)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, b)
		}
		printBatch(out, *b)
		for _, r := range b.Results {
			line := fmt.Sprintf("   %3d. %-7s %-40s %s", r.Position, r.Kind, r.Value, r.Outcome)
			if r.Detail != "" {
				line += "  (" + r.Detail + ")"
			}
			fmt.Fprintln(out, line)
		}
		return nil
	}

	batches, err := st.ListBatches(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSON(out, batches)
	}
	if len(batches) == 0 {
		fmt.Fprintln(out, "No batches recorded.")
		return nil
	}

	fmt.Fprintf(out, "Found %d batches:\n\n", len(batches))
	for _, b := range batches {
		printBatch(out, b)
		fmt.Fprintln(out)
	}
	return nil
}

func printBatch(out io.Writer, b store.Batch) {
	fmt.Fprintf(out, "%s  %s  [%s]\n", b.StartedAt.Format("2006-01-02 15:04:05"), b.ID, b.Source)
	if b.EventID != "" {
		fmt.Fprintf(out, "   Event: %s\n", b.EventID)
	}
	fmt.Fprintf(out, "   Observables: %d (hits=%d misses=%d skipped=%d errors=%d) in %s\n",
		b.ObservableCount, b.Hits, b.Misses, b.Skipped, b.Errors, b.Duration.Round(time.Millisecond))
	if b.FailureKind != "" {
		fmt.Fprintf(out, "   Failed: %s: %s\n", b.FailureKind, b.FailureDetail)
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
