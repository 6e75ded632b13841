package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldline/fieldline/internal/models"
)

var (
	resolveUse  string
	resolveData string
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	Args:  cobra.NoArgs,
	RunE:  withApp(runConflictsList),
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve one conflict",
	Long: `Resolve a conflict by choosing which side wins.

--use local    keep the local data and push it to the server
--use server   accept the server's version, discard the local change
--use merged   apply hand-merged data (requires --data)

Examples:
  fieldline conflicts resolve 4f1c... --use server
  fieldline conflicts resolve 4f1c... --use merged --data '{"id":"wo-1","status":"done","price":18}'`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runConflictsResolve),
}

func init() {
	conflictsResolveCmd.Flags().StringVar(&resolveUse, "use", "", "Resolution: local, server or merged")
	conflictsResolveCmd.Flags().StringVar(&resolveData, "data", "", "Merged entity JSON (with --use merged)")
	_ = conflictsResolveCmd.MarkFlagRequired("use")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
}

func runConflictsList(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	records, err := app.Conflicts.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No unresolved conflicts.")
		return nil
	}

	for _, record := range records {
		fmt.Fprintf(out, "%s  %s  %s/%s (%s)\n",
			record.ID,
			record.Timestamp.Format("2006-01-02 15:04:05"),
			record.EntityType,
			record.EntityID,
			record.ChangeType)
		fmt.Fprintln(out, "  local: ", compactJSON(record.LocalData))
		fmt.Fprintln(out, "  server:", compactJSON(record.ServerData))
	}
	return nil
}

func runConflictsResolve(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	resolution := models.Resolution(resolveUse)

	var merged models.EntityData
	if resolution == models.ResolutionMerged {
		if resolveData == "" {
			return fmt.Errorf("--use merged requires --data with the merged entity JSON")
		}
		var err error
		if merged, err = parseEntityJSON(resolveData); err != nil {
			return err
		}
	}

	if err := app.Conflicts.Resolve(ctx, args[0], resolution, merged); err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Conflict %s resolved (%s).\n", args[0], resolution)
	return nil
}

func compactJSON(data models.EntityData) string {
	if data == nil {
		return "(none)"
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("(unprintable: %v)", err)
	}
	return string(raw)
}
