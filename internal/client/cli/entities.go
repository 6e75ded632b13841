package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fieldline/fieldline/internal/client/storage"
	"github.com/fieldline/fieldline/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List cached entities of a type",
	Long: `List all locally cached entities of one type as JSON.

Reads only the local cache; run "fieldline sync" first for fresh data.

Examples:
  fieldline list work_orders`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runList),
}

var getCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "Show one cached entity",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(runGet),
}

var createCmd = &cobra.Command{
	Use:   "create <type> <json>",
	Short: "Create an entity locally and queue it for sync",
	Long: `Create an entity in the local cache under a temporary id and queue a
create for the next sync. The server assigns the real id.

Examples:
  fieldline create work_orders '{"title":"Replace bearing","priority":"high"}'`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runCreate),
}

var updateCmd = &cobra.Command{
	Use:   "update <type> <id> <json>",
	Short: "Apply a partial update locally and queue it for sync",
	Long: `Merge a partial JSON patch into the cached entity and queue an update.

Examples:
  fieldline update work_orders wo-42 '{"status":"done"}'`,
	Args: cobra.ExactArgs(3),
	RunE: withApp(runUpdate),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete an entity locally and queue the deletion",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(runDelete),
}

func runList(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	entities, err := app.Data.List(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), entities)
}

func runGet(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	entity, err := app.Data.Get(ctx, args[0], args[1])
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return fmt.Errorf("no cached %s with id %s", args[0], args[1])
		}
		return fmt.Errorf("failed to get entity: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), entity)
}

func runCreate(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	payload, err := parseEntityJSON(args[1])
	if err != nil {
		return err
	}

	created, err := app.Data.Create(ctx, args[0], payload)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (queued for sync).\n", created.ID())
	return nil
}

func runUpdate(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	patch, err := parseEntityJSON(args[2])
	if err != nil {
		return err
	}

	if err := app.Data.Update(ctx, args[0], args[1], patch); err != nil {
		if errors.Is(err, storage.ErrEntityDeletedLocally) {
			return fmt.Errorf("%s %s has a pending deletion; sync first or resolve the queue", args[0], args[1])
		}
		return fmt.Errorf("failed to update entity: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (queued for sync).\n", args[1])
	return nil
}

func runDelete(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
	if err := app.Data.Delete(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (queued for sync).\n", args[1])
	return nil
}

func parseEntityJSON(raw string) (models.EntityData, error) {
	var payload models.EntityData
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return payload, nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
