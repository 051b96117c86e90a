package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/devserver"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/config"
)

// NewLoginCmd creates the login command.
func NewLoginCmd() *cobra.Command {
	var (
		file    string
		dev     bool
		subject string
	)

	cmd := &cobra.Command{
		Use:   "login [token]",
		Short: "Store the access token used for remote requests",
		Long: `Store the bearer token sent with every remote request.

The token can be given as an argument, read from a file, read from stdin ("-"),
or requested from a local dev server with --dev.`,
		Example: `  offsync login eyJhbGciOi...
  offsync login --file ~/.offsync/token
  offsync login --dev`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			var (
				token string
				err   error
			)
			switch {
			case dev:
				token, err = devserver.NewAdmin(container.Config().Remote.BaseURL).RequestToken(cmd.Context(), subject)
			case file != "":
				var path string
				if path, err = config.ExpandPath(file); err == nil {
					token, err = readToken(path, nil)
				}
			case len(args) == 1 && args[0] == "-":
				token, err = readToken("", cmd.InOrStdin())
			case len(args) == 1:
				token = args[0]
			default:
				return fmt.Errorf("provide a token, --file or --dev")
			}
			if err != nil {
				return err
			}

			if err := container.Session().SetToken(cmd.Context(), token); err != nil {
				return err
			}

			formatter := GetFormatter()
			status := container.Session().Status()
			if formatter.IsJSON() {
				return formatter.JSON(SessionStatus{
					LoggedIn:      status.HasToken,
					Authenticated: status.Authenticated,
					ExpiresAt:     status.ExpiresAt,
				})
			}
			if !status.Authenticated {
				formatter.Warning("Token saved, but it has already expired")
				return nil
			}
			formatter.Success("Logged in")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the token from a file")
	cmd.Flags().BoolVar(&dev, "dev", false, "request a token from the dev server at the configured base URL")
	cmd.Flags().StringVar(&subject, "subject", "dev", "subject for --dev tokens")

	return cmd
}

func readToken(path string, r io.Reader) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// NewLogoutCmd creates the logout command.
func NewLogoutCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the token and wipe local data",
		Long:  `Forget the access token and remove every cached entity and queued write.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}
			formatter := GetFormatter()

			pending, _, err := container.Store().QueueDepth(cmd.Context())
			if err != nil {
				return err
			}
			if pending > 0 && !confirm {
				formatter.Warning("%d queued write(s) have not been sent and will be lost.", pending)
				formatter.Info("Run 'offsync sync' first, or use --confirm to proceed.")
				return nil
			}

			if err := container.Session().Logout(cmd.Context()); err != nil {
				return err
			}
			formatter.Success("Logged out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "log out even if writes are still queued")

	return cmd
}
