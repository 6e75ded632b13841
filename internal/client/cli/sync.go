package cli

import (
	"context"
	"fmt"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	syncsvc "github.com/fieldline/fieldline/internal/client/sync"
)

var syncForceRefresh bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued changes and pull server updates",
	Long: `Run one full synchronization cycle: push the pending change queue in
batches, record conflicts, then pull server updates for every configured
entity type.

Examples:
  # Incremental sync
  fieldline sync

  # Sync, then re-pull everything ignoring watermarks
  fieldline sync --force-refresh`,
	Args: cobra.NoArgs,
	RunE: withApp(runSync),
}

func init() {
	syncCmd.Flags().BoolVar(&syncForceRefresh, "force-refresh", false, "Pull all entity types in full, ignoring watermarks")
}

func runSync(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	if err := app.API.Health(ctx); err != nil {
		return fmt.Errorf("server is unreachable: %w", err)
	}
	app.Monitor.SetOnline(true)

	var bar *pb.ProgressBar
	unsubscribe := app.Sync.Subscribe(func(event syncsvc.Event) {
		if event.Type != syncsvc.EventSyncProgress || event.Progress.Total == 0 {
			return
		}
		if bar == nil {
			bar = pb.New(event.Progress.Total).SetWriter(cmd.OutOrStdout()).Start()
		}
		bar.SetCurrent(int64(event.Progress.Completed))
	})
	defer unsubscribe()

	result := app.Sync.SyncAll(ctx)
	if bar != nil {
		bar.Finish()
	}

	out := cmd.OutOrStdout()
	if result.Skipped {
		fmt.Fprintf(out, "Sync skipped: %s\n", result.SkipReason)
		return nil
	}

	fmt.Fprintf(out, "Synced: %d  Failed: %d  Conflicts: %d\n",
		result.Success, result.Failed, result.Conflicts)
	for _, msg := range result.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}

	if syncForceRefresh {
		for _, entity := range app.Config.Entities {
			if err := app.Sync.ForceRefresh(ctx, entity.Type); err != nil {
				return fmt.Errorf("failed to refresh %s: %w", entity.Type, err)
			}
		}
		fmt.Fprintln(out, "Full refresh completed.")
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d changes exhausted their retries", result.Failed)
	}
	return nil
}
