// Package mutation defines queued writes awaiting replay and the summaries of replay passes.
package mutation

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/offsync/internal/domain/errors"
)

// Mutation is a durable pending write. The queue is FIFO by CreatedAt then insertion order.
// Retries only ever increases.
type Mutation struct {
	ID        string    // UUIDv7, never reused
	Endpoint  string    // Path relative to the remote base URL
	Method    string    // POST, PUT, PATCH or DELETE
	Payload   []byte    // Opaque request body
	EntityID  string    // Cached entity the write targets, if any
	CreatedAt time.Time // When the write was first attempted
	Retries   int       // Failed replay attempts
	Poisoned  bool      // Dead-lettered: excluded from drains
	LastError string    // Most recent replay failure
}

// New creates a mutation with a fresh time-ordered ID.
func New(method, endpoint string, payload []byte, entityID string) (*Mutation, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if err := ValidateMethod(method); err != nil {
		return nil, err
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.NewError(errors.CodeValidation, "invalid mutation", errors.ErrEndpointRequired)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("could not generate mutation id: %w", err)
	}

	return &Mutation{
		ID:        id.String(),
		Endpoint:  endpoint,
		Method:    method,
		Payload:   payload,
		EntityID:  entityID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ValidateMethod checks that method is a write verb.
func ValidateMethod(method string) error {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return nil
	}
	return errors.WithContext(
		errors.NewError(errors.CodeValidation, "invalid mutation", errors.ErrInvalidMethod),
		"method", method,
	)
}

// ResourceKey identifies the logical resource a mutation touches.
// Mutations sharing a key must be replayed in their original order.
func (m *Mutation) ResourceKey() string {
	if m.EntityID != "" {
		return "entity:" + m.EntityID
	}
	return "endpoint:" + m.Endpoint
}

// ShouldPoison reports whether the next failure reaches the retry ceiling.
// A ceiling of zero or less disables poisoning.
func (m *Mutation) ShouldPoison(ceiling int) bool {
	return ceiling > 0 && m.Retries+1 >= ceiling
}

// Trigger names what started a replay pass.
type Trigger string

const (
	TriggerReconnect Trigger = "reconnect"
	TriggerManual    Trigger = "manual"
	TriggerPeriodic  Trigger = "periodic"
	TriggerFollowUp  Trigger = "follow_up"
)

// SyncResult summarizes one replay pass.
type SyncResult struct {
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"` // Held back behind an earlier failure on the same resource
	Poisoned int `json:"poisoned"` // Newly dead-lettered during this pass
}

// Total returns the number of queued mutations the pass looked at.
func (r SyncResult) Total() int {
	return r.Synced + r.Failed + r.Deferred
}

// DrainRun is the persisted record of a replay pass.
type DrainRun struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Result     SyncResult
	Error      string
}

// Duration returns how long the pass took.
func (r *DrainRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
