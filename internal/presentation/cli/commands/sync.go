package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/application/replay"
	domainErrors "github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes now",
		Long: `Replay queued writes against the remote service in the order they were made.

Writes that fail with a server or network error stay queued. Later writes to the
same entity wait behind them. If a replay is already running, sync waits for it
and reports its last pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := startedContainer(cmd.Context())
			if err != nil {
				return err
			}
			formatter := GetFormatter()
			engine := container.Replay()

			var (
				mu   sync.Mutex
				last *mutation.DrainRun
			)
			remove := engine.OnDrain(func(run mutation.DrainRun) {
				mu.Lock()
				last = &run
				mu.Unlock()
			})
			defer remove()

			var spinner *output.Spinner
			if !formatter.IsJSON() && formatter.Writer() == os.Stdout {
				spinner = output.NewSpinner(os.Stdout, "Replaying queued writes", output.IsColorSupported())
				spinner.Start()
			}
			result, err := engine.Drain(cmd.Context())
			if errors.Is(err, domainErrors.ErrDrainInProgress) {
				err = awaitIdle(cmd.Context(), engine)
				mu.Lock()
				if last != nil {
					result = last.Result
					if err == nil && last.Error != "" {
						err = errors.New(last.Error)
					}
				}
				mu.Unlock()
			}
			if spinner != nil {
				spinner.Stop()
			}

			switch {
			case errors.Is(err, domainErrors.ErrOffline):
				return fmt.Errorf("cannot sync: remote service is unreachable")
			case errors.Is(err, domainErrors.ErrUnauthenticated):
				return fmt.Errorf("cannot sync: not logged in (run 'offsync login')")
			case err != nil:
				if result.Total() > 0 {
					formatter.SyncResult(result)
				}
				return err
			}

			return formatter.SyncResult(result)
		},
	}
}

// awaitIdle blocks until the engine finishes its current drain.
func awaitIdle(ctx context.Context, engine *replay.Engine) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for engine.State() != replay.Idle {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
