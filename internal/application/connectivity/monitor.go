// Package connectivity tracks whether the remote service is reachable and
// notifies subscribers of debounced online/offline transitions.
package connectivity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	domain "github.com/jbctechsolutions/offsync/internal/domain/connectivity"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
)

// Config holds monitor timing.
type Config struct {
	// ProbeInterval is how often the background loop re-probes. Zero disables the loop.
	ProbeInterval time.Duration
	// Debounce is how long an observed state must hold before it is committed.
	Debounce time.Duration
}

// DefaultConfig returns a 15s probe loop with a 2s debounce.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 15 * time.Second,
		Debounce:      2 * time.Second,
	}
}

var _ ports.ConnectivityMonitor = (*Monitor)(nil)

// Monitor holds the current connectivity state.
// Before Initialize it reports online.
type Monitor struct {
	prober ports.Prober
	config Config
	logger *logging.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       domain.State
	started     bool
	closed      bool
	pending     *domain.State
	timer       *time.Timer
	generation  uint64
	subscribers map[domain.Event]map[uint64]ports.TransitionHandler
	nextID      uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. Call Initialize to probe and start listening.
func NewMonitor(prober ports.Prober, cfg Config, logger *logging.Logger) *Monitor {
	return &Monitor{
		prober:      prober,
		config:      cfg,
		logger:      logging.OrDiscard(logger),
		now:         time.Now,
		state:       domain.Online,
		subscribers: make(map[domain.Event]map[uint64]ports.TransitionHandler),
	}
}

// Initialize runs one probe, commits its result immediately and starts the
// background probe loop. Later calls do nothing.
func (m *Monitor) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	reachable := m.prober.Probe(ctx)

	m.mu.Lock()
	from := m.state
	to := domain.FromReachable(reachable)
	m.state = to
	var handlers []ports.TransitionHandler
	if from != to {
		handlers = m.snapshot(domain.EventFor(to))
	}
	m.mu.Unlock()

	if from != to {
		m.dispatch(domain.Transition{From: from, To: to, At: m.now()}, handlers)
	}

	if m.config.ProbeInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			cancel()
			return nil
		}
		m.cancel = cancel
		m.wg.Add(1)
		m.mu.Unlock()
		go m.probeLoop(loopCtx)
	}
	return nil
}

// IsOnline returns the last committed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == domain.Online
}

// State returns the last committed state.
func (m *Monitor) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NotifyNetworkChange feeds a platform network-change signal through the debounce path.
func (m *Monitor) NotifyNetworkChange(online bool) {
	m.observe(domain.FromReachable(online))
}

// Refresh probes now and feeds the result through the debounce path.
func (m *Monitor) Refresh(ctx context.Context) bool {
	reachable := m.prober.Probe(ctx)
	m.observe(domain.FromReachable(reachable))
	return reachable
}

// observe records a raw observation. A different state is committed only if no
// contrary observation arrives within the debounce window.
func (m *Monitor) observe(observed domain.State) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if observed == m.state {
		// Flap back before the window elapsed: drop the pending change.
		m.clearPendingLocked()
		m.mu.Unlock()
		return
	}

	if m.pending != nil && *m.pending == observed {
		m.mu.Unlock()
		return
	}

	m.clearPendingLocked()
	m.pending = &observed
	m.generation++
	gen := m.generation

	if m.config.Debounce <= 0 {
		m.mu.Unlock()
		m.commit(gen)
		return
	}
	m.timer = time.AfterFunc(m.config.Debounce, func() { m.commit(gen) })
	m.mu.Unlock()
}

// commit applies the pending state if it is still the one scheduled as gen.
func (m *Monitor) commit(gen uint64) {
	m.mu.Lock()
	if m.closed || m.pending == nil || gen != m.generation {
		m.mu.Unlock()
		return
	}
	from, to := m.state, *m.pending
	m.pending = nil
	m.timer = nil
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	handlers := m.snapshot(domain.EventFor(to))
	m.mu.Unlock()

	m.dispatch(domain.Transition{From: from, To: to, At: m.now()}, handlers)
}

func (m *Monitor) clearPendingLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = nil
	m.generation++
}

func (m *Monitor) snapshot(event domain.Event) []ports.TransitionHandler {
	subs := m.subscribers[event]
	handlers := make([]ports.TransitionHandler, 0, len(subs))
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	// Registration order.
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	return handlers
}

// dispatch calls handlers outside the lock. A panicking handler does not affect the others.
func (m *Monitor) dispatch(t domain.Transition, handlers []ports.TransitionHandler) {
	ctx := context.Background()
	logging.LogTransition(ctx, m.logger, t.From.String(), t.To.String())
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("connectivity handler panicked", "event", string(t.Event()), "panic", r)
				}
			}()
			h(t)
		}()
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeInterval)
			reachable := m.prober.Probe(probeCtx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			m.observe(domain.FromReachable(reachable))
		}
	}
}

// Subscription is returned by On. Unsubscribe is safe to call more than once.
type Subscription struct {
	monitor *Monitor
	event   domain.Event
	id      uint64
	once    sync.Once
}

// Unsubscribe removes the handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		m := s.monitor
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers[s.event], s.id)
	})
}

// On registers handler for event and returns its subscription.
func (m *Monitor) On(event domain.Event, handler ports.TransitionHandler) ports.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	if m.subscribers[event] == nil {
		m.subscribers[event] = make(map[uint64]ports.TransitionHandler)
	}
	if !m.closed {
		m.subscribers[event][m.nextID] = handler
	}
	return &Subscription{monitor: m, event: event, id: m.nextID}
}

// Off removes a subscription returned by On.
func (m *Monitor) Off(sub ports.Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

// SubscriberCount returns the number of handlers registered for event.
func (m *Monitor) SubscriberCount(event domain.Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[event])
}

// Close stops the probe loop, cancels any pending change and removes every subscriber.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.clearPendingLocked()
	m.subscribers = make(map[domain.Event]map[uint64]ports.TransitionHandler)
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
