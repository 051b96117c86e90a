package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/application"
	"github.com/jbctechsolutions/offsync/internal/domain/connectivity"
	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Watch connectivity and replay queued writes in the foreground",
		Long: `Run until interrupted, probing the remote service and replaying queued
writes whenever it becomes reachable. Connectivity changes and replay passes are
printed as they happen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			colored := cmd.OutOrStdout() == os.Stdout && output.IsColorSupported()
			printer := output.NewEventPrinter(cmd.OutOrStdout(), colored)
			stop := watchEvents(container, printer)
			defer stop()

			if err := container.Start(cmd.Context()); err != nil {
				return err
			}

			pending, poisoned, err := container.Store().QueueDepth(cmd.Context())
			if err != nil {
				return err
			}
			printer.Message("watching %s (%s), %d queued, %d poisoned",
				container.Remote().BaseURL(), container.Monitor().State(), pending, poisoned)

			<-cmd.Context().Done()
			printer.Message("shutting down")
			return nil
		},
	}
}

// watchEvents prints connectivity transitions and replay passes until the
// returned function is called.
func watchEvents(container *application.Container, printer *output.EventPrinter) func() {
	monitor := container.Monitor()
	online := monitor.On(connectivity.EventOnline, printer.Transition)
	offline := monitor.On(connectivity.EventOffline, printer.Transition)
	removeDrain := container.Replay().OnDrain(printer.Drain)

	return func() {
		online.Unsubscribe()
		offline.Unsubscribe()
		removeDrain()
	}
}
