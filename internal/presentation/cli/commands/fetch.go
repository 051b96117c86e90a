package commands

import (
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/application/access"
	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

// FetchView is the JSON shape of a fetch.
type FetchView struct {
	Source   string              `json:"source"`
	Fallback string              `json:"fallback,omitempty"`
	Entities []output.EntityView `json:"entities"`
}

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <status>",
		Short: "Read entities with a given status",
		Long: `Fetch entities from the remote service and refresh the local cache.

When the service is unreachable, or --offline is set, the cached copy is
returned instead. Entities with queued writes keep their local state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := startedContainer(cmd.Context())
			if err != nil {
				return err
			}
			formatter := GetFormatter()

			res, err := container.Access().Fetch(cmd.Context(), args[0], access.FetchOptions{Offline: globalFlags.Offline})
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				view := FetchView{Source: string(res.Source), Entities: output.NewEntityViews(res.Entities)}
				if res.Fallback != nil {
					view.Fallback = res.Fallback.Error()
				}
				return formatter.JSON(view)
			}

			if res.Fallback != nil {
				formatter.Warning("Remote unavailable, showing cached data: %v", res.Fallback)
			}
			if len(res.Entities) == 0 {
				formatter.Info("No %s entities (%s)", args[0], res.Source)
				return nil
			}
			formatter.Println("%s", formatter.Dim("source: "+string(res.Source)))
			return formatter.Entities(res.Entities)
		},
	}

	return cmd
}
