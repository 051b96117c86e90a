package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/application"
	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

// SessionStatus is the JSON shape of the session.
type SessionStatus struct {
	LoggedIn      bool       `json:"logged_in"`
	Authenticated bool       `json:"authenticated"`
	Invalidated   string     `json:"invalidated,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// QueueStatus is the JSON shape of the mutation queue depth.
type QueueStatus struct {
	Pending  int `json:"pending"`
	Poisoned int `json:"poisoned"`
}

// SystemStatus is the JSON shape of the status command.
type SystemStatus struct {
	Connectivity string             `json:"connectivity"`
	Remote       string             `json:"remote"`
	Store        string             `json:"store"`
	Session      SessionStatus      `json:"session"`
	Queue        QueueStatus        `json:"queue"`
	Replay       string             `json:"replay"`
	RecentDrains []output.DrainView `json:"recent_drains"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var drains int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, session and queue state",
		Example: `  offsync status
  offsync status --drains 10 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := startedContainer(cmd.Context())
			if err != nil {
				return err
			}
			status, err := collectStatus(cmd, container, drains)
			if err != nil {
				return err
			}
			return renderStatus(status)
		},
	}

	cmd.Flags().IntVar(&drains, "drains", 5, "number of recent replay passes to show")

	return cmd
}

func collectStatus(cmd *cobra.Command, container *application.Container, drains int) (*SystemStatus, error) {
	ctx := cmd.Context()

	pending, poisoned, err := container.Store().QueueDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	runs, err := container.Store().RecentDrains(ctx, drains)
	if err != nil {
		return nil, fmt.Errorf("failed to read drain history: %w", err)
	}

	sess := container.Session().Status()
	invalidated := ""
	if sess.Invalidated {
		invalidated = sess.Reason
		if invalidated == "" {
			invalidated = "rejected by server"
		}
	}

	return &SystemStatus{
		Connectivity: container.Monitor().State().String(),
		Remote:       container.Remote().BaseURL(),
		Store:        container.Store().Path(),
		Session: SessionStatus{
			LoggedIn:      sess.HasToken,
			Authenticated: sess.Authenticated,
			Invalidated:   invalidated,
			ExpiresAt:     sess.ExpiresAt,
		},
		Queue:        QueueStatus{Pending: pending, Poisoned: poisoned},
		Replay:       container.Replay().State().String(),
		RecentDrains: output.NewDrainViews(runs),
	}, nil
}

func renderStatus(s *SystemStatus) error {
	formatter := GetFormatter()
	if formatter.IsJSON() {
		return formatter.JSON(s)
	}

	conn := formatter.Colorize(s.Connectivity, output.ColorGreen)
	if s.Connectivity != "online" {
		conn = formatter.Colorize(s.Connectivity, output.ColorYellow)
	}

	session := "logged out"
	switch {
	case s.Session.Authenticated:
		session = "authenticated"
		if s.Session.ExpiresAt != nil {
			session += ", expires " + s.Session.ExpiresAt.Local().Format(time.RFC822)
		}
	case s.Session.Invalidated != "":
		session = formatter.Colorize("invalidated: "+s.Session.Invalidated, output.ColorRed)
	case s.Session.LoggedIn:
		session = formatter.Colorize("token expired", output.ColorYellow)
	}

	queue := strconv.Itoa(s.Queue.Pending) + " pending"
	if s.Queue.Poisoned > 0 {
		queue += ", " + formatter.Colorize(strconv.Itoa(s.Queue.Poisoned)+" poisoned", output.ColorRed)
	}

	formatter.Header("offsync status")
	formatter.Item("Connectivity", conn)
	formatter.Item("Remote", s.Remote)
	formatter.Item("Store", s.Store)
	formatter.Item("Session", session)
	formatter.Item("Queue", queue)
	formatter.Item("Replay", s.Replay)
	formatter.Println("")
	formatter.Println("%s", formatter.Bold("Recent drains"))
	return formatter.DrainTable(s.RecentDrains)
}
