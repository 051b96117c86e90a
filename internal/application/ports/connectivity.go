package ports

import (
	"context"

	"github.com/jbctechsolutions/offsync/internal/domain/connectivity"
)

// TransitionHandler receives connectivity transitions.
type TransitionHandler func(connectivity.Transition)

// Subscription is a handle returned by ConnectivityMonitor.On.
type Subscription interface {
	Unsubscribe()
}

// ConnectivityMonitor exposes the last known reachability and transition events.
type ConnectivityMonitor interface {
	// IsOnline returns the last known state without blocking on I/O.
	IsOnline() bool

	// On registers handler for event.
	On(event connectivity.Event, handler TransitionHandler) Subscription
}

// Session is the credential holder used by the access layer and the replay engine.
type Session interface {
	TokenSource

	// Invalidate marks the credential rejected after a 401. rejected is the
	// credential the server refused; a rejection of one that has since been
	// replaced is ignored. An empty rejected applies to the current credential.
	Invalidate(ctx context.Context, rejected, reason string) error
}
