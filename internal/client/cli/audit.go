package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldline/fieldline/internal/client/audit"
	auditsqlite "github.com/fieldline/fieldline/internal/client/audit/sqlite"
)

var auditDBPath string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Work with the sync audit journal",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export resolved conflicts and dead-lettered changes to SQLite",
	Long: `Copy terminal sync outcomes into a SQLite file for inspection with
plain SQL. The export is incremental: records already journaled are
skipped, so it is safe to run repeatedly.

Examples:
  fieldline audit export
  fieldline audit export --db /var/lib/fieldline/audit.db`,
	Args: cobra.NoArgs,
	RunE: withApp(runAuditExport),
}

func init() {
	auditExportCmd.Flags().StringVar(&auditDBPath, "db", "", "Path to the audit SQLite file (default from config)")

	auditCmd.AddCommand(auditExportCmd)
}

func runAuditExport(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	path := auditDBPath
	if path == "" {
		path = app.Config.AuditDBPath
	}

	journal, err := auditsqlite.New(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer func() {
		_ = journal.Close()
	}()

	exporter := audit.NewExporter(app.Store, app.Queue, journal, app.Logger)
	stats, err := exporter.Export(ctx)
	if err != nil {
		return fmt.Errorf("audit export failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d resolved conflicts and %d dead-lettered changes to %s\n",
		stats.Conflicts, stats.DeadLetters, path)
	return nil
}
