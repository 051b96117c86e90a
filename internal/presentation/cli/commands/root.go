// Package commands implements the offsync CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/application"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/offsync/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
	Offline    bool
	StorePath  string
	BaseURL    string
}

// AppContext holds the application runtime context.
type AppContext struct {
	Config    *config.Config
	Formatter *output.Formatter
	Flags     *GlobalFlags
	Container *application.Container
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex
)

// commands that run without opening the local store
var standalone = map[string]bool{
	"help":       true,
	"version":    true,
	"completion": true,
	"devserver":  true,
}

// NewRootCmd creates the root command for the offsync CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "offsync",
		Short: "offsync - offline-first data access with durable write replay",
		Long: `offsync keeps a local SQLite copy of a remote collection and a durable
queue of writes made while the service was unreachable.

Reads go to the network when it is reachable and fall back to the cache when it
is not. Writes that cannot be delivered are queued and replayed in order when
connectivity returns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if isStandalone(cmd) {
				return nil
			}
			return initializeApp(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return Shutdown()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: ~/.offsync/config.yaml)")
	flags.StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, json")
	flags.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&globalFlags.Offline, "offline", false, "treat the remote service as unreachable")
	flags.StringVar(&globalFlags.StorePath, "store", "", "local database path (overrides config)")
	flags.StringVar(&globalFlags.BaseURL, "base-url", "", "remote service base URL (overrides config)")

	for _, cmd := range appCommands() {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewDaemonCmd())
	rootCmd.AddCommand(NewShellCmd())
	rootCmd.AddCommand(NewDevServerCmd())

	return rootCmd
}

// appCommands are the commands available both on the command line and in the shell.
func appCommands() []*cobra.Command {
	return []*cobra.Command{
		NewFetchCmd(),
		NewWriteCmd(),
		NewQueueCmd(),
		NewCacheCmd(),
		NewSyncCmd(),
		NewStatusCmd(),
		NewLoginCmd(),
		NewLogoutCmd(),
	}
}

func isStandalone(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if standalone[c.Name()] {
			return true
		}
	}
	return false
}

// initializeApp loads configuration and builds the container.
func initializeApp(cmd *cobra.Command) error {
	if GetAppContext() != nil {
		return nil
	}

	formatter, err := newFormatter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	container, err := application.NewContainer(cmd.Context(), cfg, application.Options{
		Verbose:   globalFlags.Verbose,
		LogOutput: cmd.ErrOrStderr(),
		Offline:   globalFlags.Offline,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	appCtxMu.Lock()
	appCtx = &AppContext{
		Config:    cfg,
		Formatter: formatter,
		Flags:     &globalFlags,
		Container: container,
	}
	appCtxMu.Unlock()

	return nil
}

func newFormatter(w io.Writer) (*output.Formatter, error) {
	format, err := output.ParseFormat(globalFlags.Output)
	if err != nil {
		return nil, err
	}
	color := format != output.FormatJSON && w == io.Writer(os.Stdout) && output.IsColorSupported()
	return output.NewFormatter(
		output.WithWriter(w),
		output.WithFormat(format),
		output.WithColor(color),
	), nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader("")
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}

	cfg, err := loader.Load(globalFlags.ConfigFile)
	if err != nil {
		return nil, err
	}

	if globalFlags.StorePath != "" {
		cfg.Store.Path = globalFlags.StorePath
	}
	if globalFlags.BaseURL != "" {
		cfg.Remote.BaseURL = globalFlags.BaseURL
	}
	return cfg, nil
}

// GetAppContext returns the current application context.
// Returns nil if the app hasn't been initialized.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter.
// Creates a default formatter if app context is not initialized.
func GetFormatter() *output.Formatter {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Formatter
	}
	return output.NewFormatter()
}

// GetContainer returns the application container.
// Returns nil if the app hasn't been initialized.
func GetContainer() *application.Container {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Container
	}
	return nil
}

var errNotInitialized = errors.New("application not initialized")

// startedContainer returns the container after probing connectivity and
// starting background work.
func startedContainer(ctx context.Context) (*application.Container, error) {
	container := GetContainer()
	if container == nil {
		return nil, errNotInitialized
	}
	if err := container.Start(ctx); err != nil {
		return nil, err
	}
	return container, nil
}

// Shutdown releases the application context.
func Shutdown() error {
	appCtxMu.Lock()
	ctx := appCtx
	appCtx = nil
	appCtxMu.Unlock()

	if ctx != nil && ctx.Container != nil {
		return ctx.Container.Close()
	}
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	_ = Shutdown()
	if err != nil {
		GetFormatter().Error("%s", err.Error())
		os.Exit(1)
	}
}
