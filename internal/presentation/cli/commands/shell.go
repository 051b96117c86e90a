package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

const shellHelp = `Commands:
  fetch <status>             read entities
  write <method> <endpoint>  send or queue a write
  queue list|drop|clear      manage queued writes
  cache list|show|clear      inspect the local cache
  sync                       replay queued writes now
  status                     show connectivity, session and queue
  login, logout              manage the access token

Shell commands:
  /online, /offline          report a network change to the monitor
  /probe                     probe the remote service now
  /help                      show this help
  /exit                      leave the shell`

// NewShellCmd creates the interactive shell command.
func NewShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with live connectivity and replay events",
		RunE: func(cmd *cobra.Command, args []string) error {
			container := GetContainer()
			if container == nil {
				return errNotInitialized
			}

			rl, err := readline.New("offsync> ")
			if err != nil {
				return fmt.Errorf("could not create readline: %w", err)
			}
			defer rl.Close()

			colored := output.IsColorSupported()
			printer := output.NewEventPrinter(rl.Stdout(), colored)
			stop := watchEvents(container, printer)
			defer stop()

			if err := container.Start(cmd.Context()); err != nil {
				return err
			}

			formatter := output.NewFormatter(
				output.WithWriter(rl.Stdout()),
				output.WithFormat(GetFormatter().Format()),
				output.WithColor(colored),
			)
			setFormatter(formatter)

			formatter.Info("offsync shell (%s). Type /help for commands.", container.Monitor().State())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}

				if strings.HasPrefix(line, "/") {
					if exit := runShellBuiltin(cmd, line, formatter); exit {
						break
					}
					continue
				}

				words, err := splitArgs(line)
				if err != nil {
					formatter.Error("%s", err.Error())
					continue
				}
				sub := newShellRoot(rl.Stdout())
				sub.SetArgs(words)
				if err := sub.ExecuteContext(cmd.Context()); err != nil {
					formatter.Error("%s", err.Error())
				}
				if cmd.Context().Err() != nil {
					break
				}
			}

			return nil
		},
	}
}

// newShellRoot builds a command tree that reuses the running application.
func newShellRoot(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "offsync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(w)
	root.SetErr(w)
	for _, c := range appCommands() {
		root.AddCommand(c)
	}
	return root
}

func runShellBuiltin(cmd *cobra.Command, line string, formatter *output.Formatter) (exit bool) {
	monitor := GetContainer().Monitor()

	switch strings.Fields(line)[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		formatter.Println("%s", shellHelp)
	case "/online":
		monitor.NotifyNetworkChange(true)
		formatter.Info("network change reported: online")
	case "/offline":
		monitor.NotifyNetworkChange(false)
		formatter.Info("network change reported: offline")
	case "/probe":
		if monitor.Refresh(cmd.Context()) {
			formatter.Success("remote reachable")
		} else {
			formatter.Warning("remote unreachable")
		}
	default:
		formatter.Error("unknown command %s (try /help)", line)
	}
	return false
}

func setFormatter(f *output.Formatter) {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()
	if appCtx != nil {
		appCtx.Formatter = f
	}
}

// splitArgs splits a line into words. Single and double quotes group words
// and are removed.
func splitArgs(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		quote   rune
		inWord  bool
	)
	for _, r := range line {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
