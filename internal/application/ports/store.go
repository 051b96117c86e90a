// Package ports defines the application layer port interfaces following hexagonal architecture.
// Ports are abstractions that allow the application core to interact with external systems
// (adapters) without knowing their implementation details.
package ports

import (
	"context"

	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

// EntityStore is the local cache of domain records.
// Implementations must keep exactly one record per ID and run each call in its own transaction.
type EntityStore interface {
	// UpsertEntities inserts or fully replaces records by ID.
	UpsertEntities(ctx context.Context, entities []entity.Entity) error

	// RefreshEntities upserts records except those targeted by a live queued
	// mutation, atomically with respect to EnqueueMutation. It returns the held IDs.
	RefreshEntities(ctx context.Context, entities []entity.Entity) ([]string, error)

	// QueryByStatus returns every cached record whose Status equals status.
	QueryByStatus(ctx context.Context, status string) ([]entity.Entity, error)

	// QueryAll returns every cached record.
	QueryAll(ctx context.Context) ([]entity.Entity, error)

	// Query returns records matching the filter in the requested order.
	Query(ctx context.Context, filter entity.Filter) ([]entity.Entity, error)

	// GetByID returns the record or ErrEntityNotFound.
	GetByID(ctx context.Context, id string) (*entity.Entity, error)

	// UpdateEntity applies fn to the stored record inside one transaction.
	// Returns ErrEntityNotFound if no record exists.
	UpdateEntity(ctx context.Context, id string, fn func(*entity.Entity) error) error

	// DeleteByID removes a record. Deleting a missing record is not an error.
	DeleteByID(ctx context.Context, id string) error

	// ClearAll removes every cached record.
	ClearAll(ctx context.Context) error
}

// MutationQueue is the durable FIFO of pending writes.
type MutationQueue interface {
	// EnqueueMutation appends a mutation to the tail of the queue.
	EnqueueMutation(ctx context.Context, m *mutation.Mutation) error

	// ListQueuedMutations returns every queued mutation, oldest first.
	ListQueuedMutations(ctx context.Context) ([]*mutation.Mutation, error)

	// DequeueMutation removes a mutation after successful replay.
	DequeueMutation(ctx context.Context, id string) error

	// RecordFailure increments Retries and stores the failure reason.
	RecordFailure(ctx context.Context, id string, errMsg string, poisoned bool) error

	// ClearQueue removes every queued mutation.
	ClearQueue(ctx context.Context) error

	// QueueDepth returns the number of queued mutations and how many of those are poisoned.
	QueueDepth(ctx context.Context) (total int, poisoned int, err error)
}

// SessionStore persists small key/value session state across restarts.
type SessionStore interface {
	GetSessionValue(ctx context.Context, key string) (string, bool, error)
	SetSessionValue(ctx context.Context, key, value string) error
	DeleteSessionValue(ctx context.Context, key string) error
}

// DrainHistory records completed replay passes.
type DrainHistory interface {
	RecordDrain(ctx context.Context, run *mutation.DrainRun) error
	RecentDrains(ctx context.Context, limit int) ([]mutation.DrainRun, error)
}

// Store is the full local persistence contract.
type Store interface {
	EntityStore
	MutationQueue
	SessionStore
	DrainHistory
}
