package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the root command for fieldline.
var rootCmd = &cobra.Command{
	Use:     "fieldline",
	Version: "dev",
	Short:   "Offline-first sync client for a maintenance-management API",
	Long: `fieldline keeps a local, durable copy of maintenance data (work orders,
assets, parts) and lets you read and mutate it with or without network
connectivity. Local changes are queued and pushed to the server when a
connection is available; server changes are pulled incrementally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// SetVersion overrides the version reported by --version
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// withApp оборачивает RunE: собирает стек перед командой и разбирает после
func withApp(run func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer app.Close()

		return run(ctx, app, cmd, args)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./fieldline.yaml)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(auditCmd)
}

// Execute executes the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
