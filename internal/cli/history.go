package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyCursor string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the event log of a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyCursor, "cursor", "", "resume from a previous page")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "events per page")
}

func runHistory(cmd *cobra.Command, args []string) error {
	page, err := api.History(context.Background(), args[0], historyCursor, historyLimit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	for _, ev := range page.Events {
		fmt.Printf("%s  %-8s  %s\n", ev.Timestamp.Format(time.RFC3339), ev.Action, ev.Actor)
		for field, d := range ev.Diff {
			fmt.Printf("    %s: %v -> %v\n", field, d.Old, d.New)
		}
	}
	if page.NextCursor != "" {
		fmt.Printf("Next page: --cursor %s\n", page.NextCursor)
	}
	return nil
}
