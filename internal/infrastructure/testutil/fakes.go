package testutil

import (
	"context"
	"sync"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/connectivity"
	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
)

// Call records one request made to a Remote.
type Call struct {
	Method   string
	Endpoint string
	Payload  []byte
}

// Remote is a scripted ports.RemoteClient.
type Remote struct {
	mu    sync.Mutex
	calls []Call

	// FetchFunc answers FetchByStatus. Nil returns an empty list.
	FetchFunc func(ctx context.Context, status string) ([]entity.Entity, error)
	// SendFunc answers Send. Nil succeeds with an empty response.
	SendFunc func(ctx context.Context, method, endpoint string, payload []byte) (*ports.RemoteResponse, error)
}

var _ ports.RemoteClient = (*Remote)(nil)

// FetchByStatus implements ports.RemoteClient.
func (r *Remote) FetchByStatus(ctx context.Context, status string) ([]entity.Entity, error) {
	r.record(Call{Method: "GET", Endpoint: "?status=" + status})
	if r.FetchFunc == nil {
		return []entity.Entity{}, nil
	}
	return r.FetchFunc(ctx, status)
}

// Send implements ports.RemoteClient.
func (r *Remote) Send(ctx context.Context, method, endpoint string, payload []byte) (*ports.RemoteResponse, error) {
	r.record(Call{Method: method, Endpoint: endpoint, Payload: payload})
	if r.SendFunc == nil {
		return &ports.RemoteResponse{StatusCode: 200}, nil
	}
	return r.SendFunc(ctx, method, endpoint, payload)
}

func (r *Remote) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns every request in order.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Sent returns the endpoints of every write in order.
func (r *Remote) Sent() []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Method != "GET" {
			out = append(out, c.Endpoint)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Remote) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Failure builds a remote error with code and HTTP status.
func Failure(code errors.ErrorCode, status int) error {
	err := errors.NewRemoteError(code, status, "injected failure")
	if code == errors.CodeUnauthorized {
		err.Cause = errors.ErrUnauthorized
	}
	return err
}

// Monitor is a ports.ConnectivityMonitor whose state is set by the test.
// SetOnline dispatches transitions synchronously.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	nextID   int
	handlers map[connectivity.Event]map[int]ports.TransitionHandler
}

var _ ports.ConnectivityMonitor = (*Monitor)(nil)

// NewMonitor creates a Monitor in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:   online,
		handlers: make(map[connectivity.Event]map[int]ports.TransitionHandler),
	}
}

// IsOnline implements ports.ConnectivityMonitor.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// On implements ports.ConnectivityMonitor.
func (m *Monitor) On(event connectivity.Event, h ports.TransitionHandler) ports.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]ports.TransitionHandler)
	}
	m.handlers[event][id] = h
	return unsubscribeFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	})
}

// SetOnline changes the state and notifies subscribers if it changed.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	from := connectivity.FromReachable(m.online)
	m.online = online
	to := connectivity.FromReachable(online)
	var hs []ports.TransitionHandler
	for _, h := range m.handlers[connectivity.EventFor(to)] {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(connectivity.Transition{From: from, To: to})
	}
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() { f() }

// Session is an in-memory ports.Session.
type Session struct {
	mu          sync.Mutex
	token       string
	invalidated []string
}

var _ ports.Session = (*Session)(nil)

// NewSession creates a session holding token. An empty token is unauthenticated.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// AccessToken implements ports.TokenSource.
func (s *Session) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Invalidate implements ports.Session. A rejection of a replaced token is ignored.
func (s *Session) Invalidate(_ context.Context, rejected, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rejected != "" && rejected != s.token {
		return nil
	}
	s.token = ""
	s.invalidated = append(s.invalidated, reason)
	return nil
}

// SetToken replaces the token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Invalidations returns the reasons passed to Invalidate.
func (s *Session) Invalidations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.invalidated...)
}
