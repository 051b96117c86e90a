// Package application provides application-level services and dependency injection.
package application

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	adapterConnectivity "github.com/jbctechsolutions/offsync/internal/adapters/connectivity"
	"github.com/jbctechsolutions/offsync/internal/adapters/remote"
	"github.com/jbctechsolutions/offsync/internal/adapters/store/sqlite"
	"github.com/jbctechsolutions/offsync/internal/application/access"
	appConnectivity "github.com/jbctechsolutions/offsync/internal/application/connectivity"
	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/application/replay"
	"github.com/jbctechsolutions/offsync/internal/application/session"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/credentials"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/tracing"
)

// Options adjust container construction.
type Options struct {
	Verbose   bool      // Force debug logging
	LogOutput io.Writer // Defaults to stderr
	Offline   bool      // Treat the remote as unreachable without probing
}

// Container holds all application dependencies and provides a central
// point for dependency injection. It manages the lifecycle of services
// and ensures proper initialization order.
type Container struct {
	config  *config.Config
	options Options

	logger *logging.Logger
	tracer *tracing.Tracer

	store   *sqlite.Store
	session *session.Bootstrap
	remote  *remote.Client
	monitor *appConnectivity.Monitor
	access  *access.Service
	replay  *replay.Engine
	watcher *credentials.Watcher

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
	closeErr  error
}

// NewContainer creates a new dependency injection container with all services
// initialized based on the provided configuration. Background work begins with Start.
func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{
		config:  cfg,
		options: opts,
	}

	if err := c.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initStore(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := c.initSession(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	c.initServices()

	return c, nil
}

// initObservability initializes logging and tracing.
func (c *Container) initObservability(ctx context.Context) error {
	logCfg := logging.DefaultConfig()
	if level, ok := logging.ParseLevel(c.config.Logging.Level); ok {
		logCfg.Level = level
	}
	if c.options.Verbose {
		logCfg.Level = logging.LevelDebug
	}
	if c.config.Logging.Format == "json" {
		logCfg.Format = logging.FormatJSON
	}
	if c.options.LogOutput != nil {
		logCfg.Output = c.options.LogOutput
	}
	c.logger = logging.New(logCfg)

	if !c.config.Tracing.Enabled {
		c.tracer = tracing.Noop()
		return nil
	}

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:      true,
		ExporterType: tracing.ExporterType(c.config.Tracing.ExporterType),
		OTLPEndpoint: c.config.Tracing.OTLPEndpoint,
		ServiceName:  c.config.Tracing.ServiceName,
		Environment:  "production",
		SampleRate:   c.config.Tracing.SampleRate,
		Output:       logCfg.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	c.tracer = tracer
	return nil
}

// initStore opens the local database.
func (c *Container) initStore(ctx context.Context) error {
	path, err := config.ExpandPath(c.config.Store.Path)
	if err != nil {
		return err
	}
	store, err := sqlite.New(path)
	if err != nil {
		return err
	}
	if err := store.Open(ctx); err != nil {
		return err
	}
	c.store = store
	return nil
}

// initSession restores the persisted credential and prepares the token file watcher.
func (c *Container) initSession(ctx context.Context) error {
	var sessionStore ports.SessionStore = c.store
	if c.config.Session.EncryptToken {
		saltFile := c.config.Session.SaltFile
		if saltFile == "" {
			saltFile = filepath.Join(filepath.Dir(c.store.Path()), "session.salt")
		}
		saltFile, err := config.ExpandPath(saltFile)
		if err != nil {
			return err
		}
		sealer, err := crypto.NewSealer(saltFile)
		if err != nil {
			return fmt.Errorf("failed to prepare token encryption: %w", err)
		}
		sessionStore = crypto.NewSealedSessionStore(c.store, sealer, c.logger)
	}

	c.session = session.New(sessionStore, c.store, c.store, c.logger)
	if err := c.session.Load(ctx); err != nil {
		return err
	}

	if c.config.Session.TokenFile == "" {
		return nil
	}
	path, err := config.ExpandPath(c.config.Session.TokenFile)
	if err != nil {
		return err
	}
	watcher, err := credentials.NewWatcher(path, credentials.DefaultDebounce, c.session.SetToken, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create token watcher: %w", err)
	}
	c.watcher = watcher
	return nil
}

// initServices wires the remote client, monitor, access layer and replay engine.
func (c *Container) initServices() {
	c.remote = remote.NewClient(c.config.Remote.BaseURL, c.session,
		remote.WithTimeout(c.config.Remote.Timeout),
		remote.WithResourcePath(c.config.Remote.ResourcePath),
		remote.WithTracer(c.tracer),
		remote.WithLogger(c.logger),
	)

	var prober ports.Prober = adapterConnectivity.NewHTTPProber(c.config.ProbeURL(), c.config.Connectivity.ProbeTimeout)
	if c.options.Offline {
		prober = adapterConnectivity.ProberFunc(func(context.Context) bool { return false })
	}
	c.monitor = appConnectivity.NewMonitor(prober, appConnectivity.Config{
		ProbeInterval: c.config.Connectivity.ProbeInterval,
		Debounce:      c.config.Connectivity.Debounce,
	}, c.logger)

	c.access = access.NewService(c.store, c.store, c.remote, c.monitor, c.session,
		access.Config{OnlineFailurePolicy: access.FailurePolicy(c.config.Write.OnlineFailurePolicy)},
		c.logger, c.tracer)

	c.replay = replay.NewEngine(c.store, c.store, c.remote, c.monitor, c.session,
		replay.Config{
			PoisonRetryCeiling: c.config.Replay.PoisonRetryCeiling,
			DrainOnConnect:     c.config.Replay.DrainOnConnect,
			Interval:           c.config.Replay.Interval,
		},
		c.logger, c.tracer)
}

// Start probes connectivity and starts background work: the probe loop,
// reconnect and periodic replay, and the token file watcher. Later calls
// return the first result.
func (c *Container) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		if c.watcher != nil {
			if err := c.watcher.Start(ctx); err != nil {
				c.startErr = fmt.Errorf("failed to start token watcher: %w", err)
				return
			}
		}
		c.replay.Start(ctx)
		if err := c.monitor.Initialize(ctx); err != nil {
			c.startErr = fmt.Errorf("failed to initialize connectivity monitor: %w", err)
			return
		}
		if _, err := c.replay.ResumeBacklog(ctx); err != nil {
			c.logger.Warn("could not check queued backlog", "error", err)
		}
	})
	return c.startErr
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		if c.replay != nil {
			c.replay.Stop()
		}
		if c.monitor != nil {
			c.monitor.Close()
		}
		if c.watcher != nil {
			_ = c.watcher.Close()
		}
		if c.tracer != nil {
			_ = c.tracer.Shutdown(context.Background())
		}
		if c.store != nil {
			c.closeErr = c.store.Close()
		}
	})
	return c.closeErr
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the application logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the application tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}

// Store returns the local database.
func (c *Container) Store() *sqlite.Store {
	return c.store
}

// Session returns the session bootstrap.
func (c *Container) Session() *session.Bootstrap {
	return c.session
}

// Remote returns the remote client.
func (c *Container) Remote() *remote.Client {
	return c.remote
}

// Monitor returns the connectivity monitor.
func (c *Container) Monitor() *appConnectivity.Monitor {
	return c.monitor
}

// Access returns the cache-through access layer.
func (c *Container) Access() *access.Service {
	return c.access
}

// Replay returns the mutation replay engine.
func (c *Container) Replay() *replay.Engine {
	return c.replay
}
