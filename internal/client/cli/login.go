package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API bearer token",
	Long: `Store the API bearer token used for all server requests.

The token is issued by the server's auth endpoints and kept in the local
database. JWT tokens are checked for expiry before each sync.

Examples:
  fieldline login --token eyJhbGciOi...`,
	Args: cobra.NoArgs,
	RunE: withApp(runLogin),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored bearer token",
	Args:  cobra.NoArgs,
	RunE:  withApp(runLogout),
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Bearer token issued by the server")
	_ = loginCmd.MarkFlagRequired("token")
}

func runLogin(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	if err := app.Auth.SaveToken(ctx, loginToken); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
	return nil
}

func runLogout(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	if err := app.Auth.Logout(ctx); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}
