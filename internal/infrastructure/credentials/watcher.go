// Package credentials watches a token file written by an external login helper.
package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
)

// DefaultDebounce collapses the burst of events editors and atomic writers produce.
const DefaultDebounce = 100 * time.Millisecond

// TokenHandler receives a token read from the watched file.
type TokenHandler func(ctx context.Context, token string) error

// ReadTokenFile returns the trimmed contents of path.
func ReadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// Watcher reloads a token file when it changes.
// The parent directory is watched so atomic replace-by-rename is seen.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  TokenHandler
	logger   *logging.Logger

	fsWatcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   time.Time // zero when nothing is pending
	last      string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewWatcher creates a watcher for path. A non-positive debounce uses DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, handler TokenHandler, logger *logging.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve token file: %w", err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:      abs,
		debounce:  debounce,
		handler:   handler,
		logger:    logging.OrDiscard(logger),
		fsWatcher: fsWatcher,
	}, nil
}

// Start loads the current file, if any, and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if _, err := os.Stat(w.path); err == nil {
		w.reload(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceProcessor(ctx)
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.pendingMu.Lock()
			w.pending = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("token watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceProcessor(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pendingMu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.pendingMu.Unlock()

			if ready {
				w.reload(ctx)
			}
		}
	}
}

// reload reads the file and hands a changed token to the handler.
func (w *Watcher) reload(ctx context.Context) {
	token, err := ReadTokenFile(w.path)
	if err != nil {
		w.logger.Debug("token file not loaded", "path", w.path, "error", err)
		return
	}

	w.pendingMu.Lock()
	unchanged := token == w.last
	w.last = token
	w.pendingMu.Unlock()
	if unchanged {
		return
	}

	if err := w.handler(ctx, token); err != nil {
		w.logger.Warn("token reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("token reloaded from file", "path", w.path)
}
