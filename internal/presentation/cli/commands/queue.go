package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

// NewQueueCmd creates the queue management command.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued writes",
		Long: `Inspect and manage writes waiting to be replayed.

Poisoned writes have failed too many times and are skipped by replay until they
are dropped.`,
	}

	cmd.AddCommand(NewQueueListCmd())
	cmd.AddCommand(NewQueueDropCmd())
	cmd.AddCommand(NewQueueClearCmd())

	return cmd
}

// NewQueueListCmd creates the queue list command.
func NewQueueListCmd() *cobra.Command {
	var poisonedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued writes in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			queued, err := container.Store().ListQueuedMutations(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list queue: %w", err)
			}
			if poisonedOnly {
				kept := make([]*mutation.Mutation, 0, len(queued))
				for _, m := range queued {
					if m.Poisoned {
						kept = append(kept, m)
					}
				}
				queued = kept
			}

			formatter := GetFormatter()
			if len(queued) == 0 && !formatter.IsJSON() {
				formatter.Info("Queue is empty")
				return nil
			}
			return formatter.Queue(queued)
		},
	}

	cmd.Flags().BoolVar(&poisonedOnly, "poisoned", false, "show only poisoned writes")

	return cmd
}

// NewQueueDropCmd creates the queue drop command.
func NewQueueDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <id>...",
		Short: "Remove queued writes without sending them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			formatter := GetFormatter()
			for _, id := range args {
				if err := container.Store().DequeueMutation(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to drop %s: %w", id, err)
				}
				formatter.Success("Dropped %s", id)
			}
			return nil
		},
	}
}

// NewQueueClearCmd creates the queue clear command.
func NewQueueClearCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued write",
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			formatter := GetFormatter()

			total, _, err := container.Store().QueueDepth(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read queue: %w", err)
			}
			if total == 0 {
				formatter.Info("Queue is empty")
				return nil
			}

			if !confirm {
				formatter.Warning("This will discard %d unsent write(s).", total)
				formatter.Info("Use --confirm to proceed.")
				return nil
			}

			if err := container.Store().ClearQueue(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear queue: %w", err)
			}
			formatter.Success("Discarded %d queued write(s)", total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm discarding all queued writes")

	return cmd
}
