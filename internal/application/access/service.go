// Package access is the cache-through read/write façade used by callers.
// Reads go to the remote service when online and fall back to the local cache;
// writes go to the remote service when online and to the durable queue otherwise.
package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/tracing"
)

// FailurePolicy decides what an online write does when the request never reaches the server.
type FailurePolicy string

const (
	// PolicyEnqueue stores the write for replay.
	PolicyEnqueue FailurePolicy = "enqueue"
	// PolicySurface returns the connectivity error to the caller.
	PolicySurface FailurePolicy = "surface"
)

// ValidPolicy reports whether p is a known policy.
func ValidPolicy(p FailurePolicy) bool {
	return p == PolicyEnqueue || p == PolicySurface
}

// Config holds access layer settings.
type Config struct {
	OnlineFailurePolicy FailurePolicy
}

// Source says where fetched entities came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// FetchOptions controls a read.
type FetchOptions struct {
	// Offline skips the network even when the monitor reports online.
	Offline bool
}

// FetchResult is the outcome of a read.
type FetchResult struct {
	Entities []entity.Entity
	Source   Source
	// Fallback is the remote failure that caused a cache read, if any.
	Fallback error
}

// WriteStatus says whether a write reached the server.
type WriteStatus string

const (
	StatusSent   WriteStatus = "sent"
	StatusQueued WriteStatus = "queued"
)

// Request is a write against the remote service.
type Request struct {
	Method   string
	Endpoint string
	Payload  []byte
	// Patch is the optimistic change applied to the cached entity. May be nil.
	Patch *entity.Patch
}

// WriteOptions controls a write.
type WriteOptions struct {
	// Offline queues the write without trying the network.
	Offline bool
}

// WriteResult is the outcome of a write.
type WriteResult struct {
	Status     WriteStatus
	MutationID string                // Set when queued
	Response   *ports.RemoteResponse // Set when sent
	Reason     string                // Why the write was queued
}

// Service implements Fetch and Write.
type Service struct {
	cache   ports.EntityStore
	queue   ports.MutationQueue
	remote  ports.RemoteClient
	monitor ports.ConnectivityMonitor
	session ports.Session
	config  Config
	logger  *logging.Logger
	tracer  *tracing.Tracer
	now     func() time.Time
}

// NewService creates the access layer.
func NewService(
	cache ports.EntityStore,
	queue ports.MutationQueue,
	remote ports.RemoteClient,
	monitor ports.ConnectivityMonitor,
	session ports.Session,
	cfg Config,
	logger *logging.Logger,
	tracer *tracing.Tracer,
) *Service {
	if !ValidPolicy(cfg.OnlineFailurePolicy) {
		cfg.OnlineFailurePolicy = PolicyEnqueue
	}
	return &Service{
		cache:   cache,
		queue:   queue,
		remote:  remote,
		monitor: monitor,
		session: session,
		config:  cfg,
		logger:  logging.OrDiscard(logger),
		tracer:  tracer,
		now:     time.Now,
	}
}

// Fetch returns the entities in category.
//
// Online, the remote list is cached and returned. Any remote failure falls back to
// the cache and is reported in FetchResult.Fallback, never as the error. The error
// is non-nil only when the cache itself fails, in which case the result is empty.
func (s *Service) Fetch(ctx context.Context, category string, opts FetchOptions) (*FetchResult, error) {
	if strings.TrimSpace(category) == "" {
		return &FetchResult{Entities: []entity.Entity{}, Source: SourceCache},
			errors.NewError(errors.CodeValidation, "invalid fetch", errors.ErrCategoryRequired)
	}

	offline := opts.Offline || !s.monitor.IsOnline()
	ctx = logging.WithCategory(ctx, category)
	ctx, span := s.tracer.StartAccessSpan(ctx, tracing.SpanFetch, offline)

	result, err := s.fetch(ctx, category, offline)
	tracing.SetAttribute(ctx, "access.source", string(result.Source))
	tracing.SetAttribute(ctx, "access.count", len(result.Entities))
	span.EndWithError(err)
	return result, err
}

func (s *Service) fetch(ctx context.Context, category string, offline bool) (*FetchResult, error) {
	if offline {
		return s.fromCache(ctx, category, nil)
	}

	remote, err := s.remote.FetchByStatus(ctx, category)
	if err != nil {
		if errors.IsUnauthorized(err) {
			s.invalidate(ctx, err)
		}
		tracing.AddEvent(ctx, "cache.fallback")
		result, cacheErr := s.fromCache(ctx, category, err)
		if cacheErr == nil {
			logging.LogFetchFallback(ctx, s.logger, category, err, len(result.Entities))
		}
		return result, cacheErr
	}

	now := s.now().UTC()
	incoming := make([]entity.Entity, 0, len(remote))
	for _, e := range remote {
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		synced := now
		e.SyncedAt = &synced
		incoming = append(incoming, e)
	}
	held, err := s.cache.RefreshEntities(ctx, incoming)
	if err != nil {
		return emptyResult(SourceRemote), err
	}

	// Entities with unsent local writes keep their cached version so the
	// caller sees its own changes.
	pending, err := s.pendingEntityIDs(ctx)
	if err != nil {
		return emptyResult(SourceRemote), err
	}
	for _, id := range held {
		pending[id] = true
	}

	fresh := make([]entity.Entity, 0, len(incoming))
	for _, e := range incoming {
		if !pending[e.ID] {
			fresh = append(fresh, e)
		}
	}
	if len(pending) > 0 {
		cached, err := s.cache.QueryByStatus(ctx, category)
		if err != nil {
			return emptyResult(SourceRemote), err
		}
		for _, e := range cached {
			if pending[e.ID] {
				fresh = append(fresh, e)
			}
		}
	}

	return &FetchResult{Entities: fresh, Source: SourceRemote}, nil
}

func (s *Service) fromCache(ctx context.Context, category string, cause error) (*FetchResult, error) {
	cached, err := s.cache.QueryByStatus(ctx, category)
	if err != nil {
		return emptyResult(SourceCache), err
	}
	return &FetchResult{Entities: cached, Source: SourceCache, Fallback: cause}, nil
}

func emptyResult(src Source) *FetchResult {
	return &FetchResult{Entities: []entity.Entity{}, Source: src}
}

// pendingEntityIDs returns the entities targeted by live queued mutations.
func (s *Service) pendingEntityIDs(ctx context.Context) (map[string]bool, error) {
	queued, err := s.queue.ListQueuedMutations(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool)
	for _, m := range queued {
		if m.EntityID != "" && !m.Poisoned {
			ids[m.EntityID] = true
		}
	}
	return ids, nil
}

// Write sends or queues a mutation.
//
// Offline writes, and online writes that fail retryably, are queued and the
// optimistic patch is applied to the cache. Client failures and 401s are returned
// without queueing. An online write whose connectivity failure is not queued
// (PolicySurface) is returned as the error.
func (s *Service) Write(ctx context.Context, req Request, opts WriteOptions) (*WriteResult, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if err := mutation.ValidateMethod(method); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return nil, errors.NewError(errors.CodeValidation, "invalid write", errors.ErrEndpointRequired)
	}
	if _, ok := s.session.AccessToken(); !ok {
		return nil, errors.ErrUnauthenticated
	}
	req.Method = method

	offline := opts.Offline || !s.monitor.IsOnline()
	ctx, span := s.tracer.StartAccessSpan(ctx, tracing.SpanWrite, offline)
	result, err := s.write(ctx, req, offline)
	if result != nil {
		tracing.SetAttribute(ctx, "access.status", string(result.Status))
	}
	span.EndWithError(err)
	return result, err
}

func (s *Service) write(ctx context.Context, req Request, offline bool) (*WriteResult, error) {
	if offline {
		return s.enqueue(ctx, req, "offline")
	}

	// Keep per-resource order: a write behind an unsent one for the same resource waits its turn.
	behind, err := s.hasPendingFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if behind {
		return s.enqueue(ctx, req, "pending mutation for resource")
	}

	resp, err := s.remote.Send(ctx, req.Method, req.Endpoint, req.Payload)
	if err == nil {
		s.applyConfirmed(ctx, req.Patch, resp)
		return &WriteResult{Status: StatusSent, Response: resp}, nil
	}

	switch errors.CodeOf(err) {
	case errors.CodeUnauthorized:
		s.invalidate(ctx, err)
		return nil, err
	case errors.CodeServer:
		return s.enqueue(ctx, req, err.Error())
	case errors.CodeConnectivity:
		if s.config.OnlineFailurePolicy == PolicySurface {
			return nil, err
		}
		return s.enqueue(ctx, req, err.Error())
	default:
		return nil, err
	}
}

func (s *Service) hasPendingFor(ctx context.Context, req Request) (bool, error) {
	probe := &mutation.Mutation{Endpoint: req.Endpoint, EntityID: patchEntityID(req.Patch)}
	key := probe.ResourceKey()

	queued, err := s.queue.ListQueuedMutations(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range queued {
		if !m.Poisoned && m.ResourceKey() == key {
			return true, nil
		}
	}
	return false, nil
}

// enqueue stores req durably, then applies its optimistic patch.
func (s *Service) enqueue(ctx context.Context, req Request, reason string) (*WriteResult, error) {
	m, err := mutation.New(req.Method, req.Endpoint, req.Payload, patchEntityID(req.Patch))
	if err != nil {
		return nil, err
	}
	if err := s.queue.EnqueueMutation(ctx, m); err != nil {
		return nil, fmt.Errorf("queue write: %w", err)
	}

	ctx = logging.WithMutationID(ctx, m.ID)
	logging.LogWriteQueued(ctx, s.logger, m.ID, m.Method, m.Endpoint, reason)
	s.applyOptimistic(ctx, req.Patch)

	return &WriteResult{Status: StatusQueued, MutationID: m.ID, Reason: reason}, nil
}

// applyOptimistic reflects a queued write in the cache. The write itself is durable,
// so cache failures are logged rather than returned.
func (s *Service) applyOptimistic(ctx context.Context, patch *entity.Patch) {
	if patch.IsEmpty() {
		return
	}
	now := s.now().UTC()

	var err error
	if patch.Delete {
		err = s.cache.DeleteByID(ctx, patch.EntityID)
	} else {
		err = s.cache.UpdateEntity(ctx, patch.EntityID, func(e *entity.Entity) error {
			patch.Apply(e, now)
			return nil
		})
	}
	if err != nil && !errors.Is(err, errors.ErrEntityNotFound) {
		s.logger.WarnContext(ctx, "optimistic update failed", "entity_id", patch.EntityID, "error", err)
	}
}

// applyConfirmed reflects a sent write in the cache, preferring the server's copy.
func (s *Service) applyConfirmed(ctx context.Context, patch *entity.Patch, resp *ports.RemoteResponse) {
	now := s.now().UTC()

	if patch != nil && patch.Delete && patch.EntityID != "" {
		if err := s.cache.DeleteByID(ctx, patch.EntityID); err != nil {
			s.logger.WarnContext(ctx, "cache delete failed", "entity_id", patch.EntityID, "error", err)
		}
		return
	}

	if server, ok := resp.Entity(); ok {
		if patch != nil && !patch.IsEmpty() && server.ID == patch.EntityID {
			patch.Apply(server, now)
		}
		if server.UpdatedAt.IsZero() {
			server.UpdatedAt = now
		}
		server.SyncedAt = &now
		if err := s.cache.UpsertEntities(ctx, []entity.Entity{*server}); err != nil {
			s.logger.WarnContext(ctx, "cache upsert failed", "entity_id", server.ID, "error", err)
		}
		if patch == nil || patch.EntityID == "" || server.ID == patch.EntityID {
			return
		}
	}

	if patch.IsEmpty() {
		return
	}
	err := s.cache.UpdateEntity(ctx, patch.EntityID, func(e *entity.Entity) error {
		patch.Apply(e, now)
		e.SyncedAt = &now
		return nil
	})
	if err != nil && !errors.Is(err, errors.ErrEntityNotFound) {
		s.logger.WarnContext(ctx, "cache update failed", "entity_id", patch.EntityID, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, cause error) {
	if err := s.session.Invalidate(ctx, errors.RejectedCredential(cause), cause.Error()); err != nil {
		s.logger.ErrorContext(ctx, "could not persist session invalidation", "error", err)
	}
}

func patchEntityID(p *entity.Patch) string {
	if p == nil {
		return ""
	}
	return p.EntityID
}
