package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

// NewCacheCmd creates the cache management command.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local entity cache",
		Long: `Inspect the local copy of remote entities.

The cache is refreshed by successful fetches and updated optimistically by writes.`,
	}

	cmd.AddCommand(NewCacheListCmd())
	cmd.AddCommand(NewCacheShowCmd())
	cmd.AddCommand(NewCacheClearCmd())

	return cmd
}

// NewCacheListCmd creates the cache list command.
func NewCacheListCmd() *cobra.Command {
	var (
		filter  entity.Filter
		orderBy string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			filter.OrderBy = entity.SortField(orderBy)
			if !entity.ValidSortField(filter.OrderBy) {
				return fmt.Errorf("invalid --order %q: use updated_at, synced_at, title or id", orderBy)
			}

			list, err := container.Store().Query(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to query cache: %w", err)
			}

			formatter := GetFormatter()
			if len(list) == 0 && !formatter.IsJSON() {
				formatter.Info("No cached entities found")
				return nil
			}
			return formatter.Entities(list)
		},
	}

	cmd.Flags().StringVar(&filter.Status, "status", "", "only entities with this status")
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "only entities of this kind")
	cmd.Flags().StringVar(&orderBy, "order", string(entity.SortByUpdatedAt), "sort column: updated_at, synced_at, title, id")
	cmd.Flags().BoolVar(&filter.Descending, "desc", false, "sort descending")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "maximum number of entities (0 for all)")

	return cmd
}

// NewCacheShowCmd creates the cache show command.
func NewCacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one cached entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			e, err := container.Store().GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			formatter := GetFormatter()
			view := output.NewEntityViews([]entity.Entity{*e})[0]
			if formatter.IsJSON() {
				return formatter.JSON(view)
			}

			formatter.Header(view.ID)
			formatter.Item("Kind", view.Kind)
			formatter.Item("Status", view.Status)
			formatter.Item("Title", view.Title)
			formatter.Item("Updated", output.Ago(view.UpdatedAt))
			synced := "never"
			if view.SyncedAt != nil {
				synced = output.Ago(*view.SyncedAt)
			}
			formatter.Item("Synced", synced)
			if len(view.Data) > 0 {
				formatter.Println("%s", string(view.Data))
			}
			return nil
		},
	}
}

// NewCacheClearCmd creates the cache clear command.
func NewCacheClearCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entity",
		Long:  `Remove every cached entity. Queued writes are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			formatter := GetFormatter()

			if !confirm {
				formatter.Warning("This will remove ALL cached entities.")
				formatter.Info("Use --confirm to proceed.")
				return nil
			}

			if err := container.Store().ClearAll(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			formatter.Success("Cache cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm removing all cached entities")

	return cmd
}
