package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/devserver"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
)

// NewDevServerCmd creates the devserver command.
func NewDevServerCmd() *cobra.Command {
	var (
		addr   string
		secret string
		seed   bool
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local stand-in for the remote service",
		Long: `Run an in-memory HTTP service that speaks the same protocol as the remote
service: a JSON envelope, bearer token authentication and a single resource
collection. Failures can be injected with 'offsync devserver fault'.`,
		Example: `  offsync devserver --seed
  offsync login --dev
  offsync devserver fault --status 503 --count 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.DevServer.Addr
			}
			if secret == "" {
				secret = cfg.DevServer.Secret
			}

			logCfg := logging.DefaultConfig()
			if globalFlags.Verbose {
				logCfg.Level = logging.LevelDebug
			}
			logCfg.Output = cmd.ErrOrStderr()

			srv := devserver.New(devserver.Config{
				ResourcePath: cfg.Remote.ResourcePath,
				Secret:       secret,
			}, logging.New(logCfg))
			if seed {
				srv.Seed(sampleRecords()...)
			}

			token, err := srv.IssueToken("dev")
			if err != nil {
				return err
			}

			formatter, err := newFormatter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			formatter.Info("Serving %s on http://%s", cfg.Remote.ResourcePath, addr)
			formatter.Item("Token", token)

			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret (default from config)")
	cmd.Flags().BoolVar(&seed, "seed", false, "start with sample records")

	cmd.AddCommand(newDevServerFaultCmd())

	return cmd
}

func newDevServerFaultCmd() *cobra.Command {
	var (
		status int
		count  int
	)

	cmd := &cobra.Command{
		Use:   "fault",
		Short: "Make the running dev server fail the next requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := devserver.NewAdmin(cfg.Remote.BaseURL).InjectFault(cmd.Context(), status, count); err != nil {
				return err
			}
			formatter, err := newFormatter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return formatter.Success("Next %d request(s) will fail with HTTP %d", count, status)
		},
	}

	cmd.Flags().IntVar(&status, "status", http.StatusServiceUnavailable, "HTTP status to return")
	cmd.Flags().IntVar(&count, "count", 1, "number of requests to fail")

	return cmd
}

func sampleRecords() []devserver.Record {
	day := func(n int) string {
		return time.Now().AddDate(0, 0, n).Format(time.DateOnly)
	}
	return []devserver.Record{
		{"id": "s1", "kind": "shoot", "status": "upcoming", "title": "Dunes at sunrise", "date": day(3)},
		{"id": "s2", "kind": "shoot", "status": "upcoming", "title": "Harbor lookbook", "date": day(9)},
		{"id": "s3", "kind": "shoot", "status": "active", "title": "Studio portraits", "date": day(0)},
		{"id": "s4", "kind": "shoot", "status": "completed", "title": "Winter catalog", "date": day(-20)},
		{"id": "p1", "kind": "performance", "status": "active", "title": fmt.Sprintf("Q%d summary", (time.Now().Month()-1)/3+1)},
	}
}
