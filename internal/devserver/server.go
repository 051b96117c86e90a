// Package devserver is an in-memory reference implementation of the remote
// collection API. It backs `offsync devserver` and end-to-end tests.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
)

// Config configures the server.
type Config struct {
	ResourcePath string        // Collection path, default /shoots
	Secret       string        // HMAC key for bearer tokens
	TokenTTL     time.Duration // Lifetime of issued tokens, default 24h
}

// Record is a stored entity as returned on the wire.
type Record map[string]any

// ID returns the record identity.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// RequestLog is one observed request.
type RequestLog struct {
	Method string
	Path   string
	Status int
}

// Server serves the collection API.
type Server struct {
	config Config
	auth   *TokenAuth
	router *mux.Router
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	records  map[string]Record
	seq      int
	faults   []int
	requests []RequestLog
}

// New creates a server with an empty collection.
func New(cfg Config, logger *logging.Logger) *Server {
	if cfg.ResourcePath == "" {
		cfg.ResourcePath = "/shoots"
	}
	if !strings.HasPrefix(cfg.ResourcePath, "/") {
		cfg.ResourcePath = "/" + cfg.ResourcePath
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	s := &Server{
		config:  cfg,
		auth:    NewTokenAuth(cfg.Secret),
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
		records: make(map[string]Record),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/auth/token", s.handleIssueToken).Methods(http.MethodPost)
	r.HandleFunc("/_admin/faults", s.handleInjectFault).Methods(http.MethodPost)

	api := r.PathPrefix(s.config.ResourcePath).Subrouter()
	api.Use(s.inject, s.auth.Middleware)
	api.HandleFunc("", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.handleUpdate).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/{id}", s.handleDelete).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// IssueToken signs a token for subject with the configured lifetime.
func (s *Server) IssueToken(subject string) (string, error) {
	return s.auth.Issue(subject, s.config.TokenTTL)
}

// Seed stores records, assigning ids where missing.
func (s *Server) Seed(records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.putLocked(copyRecord(rec))
	}
}

// Get returns a copy of the record with id.
func (s *Server) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// Len returns the number of stored records.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// FailNext makes the next count collection requests answer with status.
func (s *Server) FailNext(status, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < count; i++ {
		s.faults = append(s.faults, status)
	}
}

// Requests returns the observed requests in order.
func (s *Server) Requests() []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RequestLog(nil), s.requests...)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening", "addr", addr, "resource_path", s.config.ResourcePath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown dev server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// takeFault pops the next injected failure status, or 0.
func (s *Server) takeFault() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) == 0 {
		return 0
	}
	status := s.faults[0]
	s.faults = s.faults[1:]
	return status
}

func (s *Server) putLocked(rec Record) Record {
	id := rec.ID()
	if id == "" {
		if legacy, ok := rec["_id"].(string); ok && legacy != "" {
			id = legacy
		} else {
			s.seq++
			id = fmt.Sprintf("s%d", s.seq)
		}
		rec["id"] = id
	}
	if _, ok := rec["updatedAt"]; !ok {
		rec["updatedAt"] = s.now().UTC().Format(time.RFC3339Nano)
	}
	s.records[id] = rec
	return rec
}

func (s *Server) listLocked(status string) []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if status != "" {
			if st, _ := rec["status"].(string); st != status {
				continue
			}
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
