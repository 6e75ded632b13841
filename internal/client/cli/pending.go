package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect the pending change queue",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes awaiting sync",
	Args:  cobra.NoArgs,
	RunE:  withApp(runPendingList),
}

func init() {
	pendingCmd.AddCommand(pendingListCmd)
}

func runPendingList(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	changes, err := app.Queue.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list pending changes: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	for _, change := range changes {
		fmt.Fprintf(out, "%s  %-6s  %-8s  %s/%s  retries=%d",
			change.Timestamp.Format("2006-01-02 15:04:05"),
			change.ChangeType,
			change.Status,
			change.EntityType,
			change.EntityID,
			change.RetryCount)
		if change.LastError != "" {
			fmt.Fprintf(out, "  last_error=%q", change.LastError)
		}
		fmt.Fprintln(out)
	}
	return nil
}
