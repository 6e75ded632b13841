package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	syncsvc "github.com/fieldline/fieldline/internal/client/sync"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run connectivity monitoring and background sync until interrupted",
	Long: `Keep the client running: probe server reachability, sync automatically
on reconnect and on the configured interval, and print engine events.

Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: withApp(runWatch),
}

func runWatch(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	unsubscribe := app.Sync.Subscribe(func(event syncsvc.Event) {
		switch event.Type {
		case syncsvc.EventOnline:
			fmt.Fprintln(out, "Connection restored.")
		case syncsvc.EventOffline:
			fmt.Fprintln(out, "Connection lost, mutations will be queued locally.")
		case syncsvc.EventSyncComplete:
			fmt.Fprintf(out, "Sync: %d pushed, %d failed, %d conflicts.\n",
				event.Result.Success, event.Result.Failed, event.Result.Conflicts)
		case syncsvc.EventConflictDetected:
			fmt.Fprintf(out, "Conflict on %s/%s (id %s).\n",
				event.Conflict.EntityType, event.Conflict.EntityID, event.Conflict.ID)
		case syncsvc.EventSyncError:
			fmt.Fprintf(out, "Sync failed: %s\n", event.Error)
		}
	})
	defer unsubscribe()

	app.Monitor.Start(ctx)
	app.Sync.StartBackgroundSync(app.Config.Sync.Interval)

	fmt.Fprintf(out, "Watching %s (sync every %s). Press Ctrl-C to stop.\n",
		app.Config.ServerURL, app.Config.Sync.Interval)

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping.")
	return nil
}
