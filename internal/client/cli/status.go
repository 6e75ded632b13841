package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue and conflict state",
	Args:  cobra.NoArgs,
	RunE:  withApp(runStatus),
}

func runStatus(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	// Одна проверка доступности, чтобы статус отражал реальность,
	// а не последнее наблюдение
	online := app.API.Health(ctx) == nil
	app.Monitor.SetOnline(online)

	status := app.Sync.Status(ctx)
	out := cmd.OutOrStdout()

	connectivity := "offline"
	if status.IsOnline {
		connectivity = "online"
	}
	fmt.Fprintf(out, "Server:          %s (%s)\n", app.Config.ServerURL, connectivity)
	fmt.Fprintf(out, "Authenticated:   %v\n", app.Auth.HasToken(ctx))
	fmt.Fprintf(out, "Pending changes: %d\n", status.PendingCount)
	fmt.Fprintf(out, "Open conflicts:  %d\n", status.ConflictCount)

	if status.LastSyncTime != nil {
		fmt.Fprintf(out, "Last sync:       %s\n", status.LastSyncTime.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintln(out, "Last sync:       never")
	}
	if status.Error != "" {
		fmt.Fprintf(out, "Last error:      %s\n", status.Error)
	}
	return nil
}
