// Package replay drains the durable mutation queue against the remote service.
//
// A pass snapshots the queue once and replays live entries in FIFO order. A failure
// on one resource defers that resource's later mutations to the next pass, so writes
// to the same entity never reach the server out of order. Only one pass runs at a
// time; a request arriving mid-pass schedules a single follow-up pass.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/connectivity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/tracing"
)

// State is the engine's activity.
type State int

const (
	Idle State = iota
	Draining
)

// String returns the state name.
func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Config holds replay settings.
type Config struct {
	// PoisonRetryCeiling dead-letters a mutation once its retries reach this value. Zero disables.
	PoisonRetryCeiling int
	// DrainOnConnect starts a pass on every offline to online transition.
	DrainOnConnect bool
	// Interval runs a pass periodically while work is queued. Zero disables.
	Interval time.Duration
}

// DefaultConfig returns a ceiling of 5, drain on connect, no periodic pass.
func DefaultConfig() Config {
	return Config{
		PoisonRetryCeiling: 5,
		DrainOnConnect:     true,
	}
}

// Engine replays queued mutations.
type Engine struct {
	queue   ports.MutationQueue
	history ports.DrainHistory
	remote  ports.RemoteClient
	monitor ports.ConnectivityMonitor
	session ports.Session
	config  Config
	logger  *logging.Logger
	tracer  *tracing.Tracer
	now     func() time.Time

	mu        sync.Mutex
	state     State
	followUp  bool
	observers map[int]func(mutation.DrainRun)
	nextObs   int
	sub      ports.Subscription
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine creates an engine. history may be nil.
func NewEngine(
	queue ports.MutationQueue,
	history ports.DrainHistory,
	remote ports.RemoteClient,
	monitor ports.ConnectivityMonitor,
	session ports.Session,
	cfg Config,
	logger *logging.Logger,
	tracer *tracing.Tracer,
) *Engine {
	return &Engine{
		queue:   queue,
		history: history,
		remote:  remote,
		monitor: monitor,
		session: session,
		config:  cfg,
		logger:  logging.OrDiscard(logger),
		tracer:  tracer,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// Start subscribes to online transitions and starts the periodic trigger.
// Passes started in the background use ctx.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	e.baseCtx, e.cancel = context.WithCancel(ctx)

	if e.config.DrainOnConnect {
		e.sub = e.monitor.On(connectivity.EventOnline, func(connectivity.Transition) {
			e.TriggerAsync(mutation.TriggerReconnect)
		})
	}
	if e.config.Interval > 0 {
		e.wg.Add(1)
		go e.periodic(e.baseCtx)
	}
}

// ResumeBacklog starts a reconnect pass when the monitor already reports online
// and live mutations are queued. Call it once the first probe has been committed:
// confirming the initial online state raises no transition. It reports whether
// a pass was started.
func (e *Engine) ResumeBacklog(ctx context.Context) (bool, error) {
	if !e.config.DrainOnConnect || !e.monitor.IsOnline() {
		return false, nil
	}
	total, poisoned, err := e.queue.QueueDepth(ctx)
	if err != nil {
		return false, fmt.Errorf("queue depth: %w", err)
	}
	if total-poisoned == 0 {
		return false, nil
	}
	e.logger.DebugContext(ctx, "resuming queued backlog", "pending", total-poisoned)
	e.TriggerAsync(mutation.TriggerReconnect)
	return true, nil
}

// Stop unsubscribes, cancels background passes and waits for them to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	sub, cancel := e.sub, e.cancel
	e.sub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// State returns whether a pass is running.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnDrain registers fn to receive every finished pass. The returned func removes it.
func (e *Engine) OnDrain(fn func(mutation.DrainRun)) (remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.observers == nil {
		e.observers = make(map[int]func(mutation.DrainRun))
	}
	e.nextObs++
	id := e.nextObs
	e.observers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

// Drain runs a pass now and returns its result. While another pass is running it
// returns ErrDrainInProgress and schedules one follow-up pass.
func (e *Engine) Drain(ctx context.Context) (mutation.SyncResult, error) {
	return e.drain(ctx, mutation.TriggerManual)
}

// TriggerAsync starts a pass in the background. Rejections are logged.
func (e *Engine) TriggerAsync(trigger mutation.Trigger) {
	e.mu.Lock()
	ctx := e.baseCtx
	if ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if _, err := e.drain(ctx, trigger); err != nil {
			e.logger.Debug("background drain not completed", "trigger", string(trigger), "error", err)
		}
	}()
}

func (e *Engine) drain(ctx context.Context, trigger mutation.Trigger) (mutation.SyncResult, error) {
	if err := e.ready(); err != nil {
		return mutation.SyncResult{}, err
	}

	e.mu.Lock()
	if e.state == Draining {
		e.followUp = true
		e.mu.Unlock()
		return mutation.SyncResult{}, errors.ErrDrainInProgress
	}
	e.state = Draining
	e.mu.Unlock()

	result, err := e.pass(ctx, trigger)

	for {
		e.mu.Lock()
		if !e.followUp || ctx.Err() != nil || e.ready() != nil {
			e.followUp = false
			e.state = Idle
			e.mu.Unlock()
			return result, err
		}
		e.followUp = false
		e.mu.Unlock()

		e.pass(ctx, mutation.TriggerFollowUp)
	}
}

// ready reports why a pass cannot start, if it cannot.
func (e *Engine) ready() error {
	if !e.monitor.IsOnline() {
		return errors.ErrOffline
	}
	if _, ok := e.session.AccessToken(); !ok {
		return errors.ErrUnauthenticated
	}
	return nil
}

// pass replays one snapshot of the queue.
func (e *Engine) pass(ctx context.Context, trigger mutation.Trigger) (mutation.SyncResult, error) {
	run := &mutation.DrainRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: e.now().UTC(),
	}
	ctx = logging.WithDrainID(ctx, run.ID)
	ctx, span := e.tracer.StartDrainSpan(ctx, run.ID, string(trigger))

	snapshot, err := e.queue.ListQueuedMutations(ctx)
	if err != nil {
		err = fmt.Errorf("snapshot queue: %w", err)
		e.finish(ctx, run, span, err)
		return run.Result, err
	}

	live := make([]*mutation.Mutation, 0, len(snapshot))
	for _, m := range snapshot {
		if !m.Poisoned {
			live = append(live, m)
		}
	}
	logging.LogDrainStart(ctx, e.logger, string(trigger), len(live))

	var stopErr error
	failedKeys := make(map[string]bool)

	for _, m := range live {
		if ctx.Err() != nil {
			stopErr = ctx.Err()
			break
		}

		key := m.ResourceKey()
		if failedKeys[key] {
			run.Result.Deferred++
			continue
		}

		if _, ok := e.session.AccessToken(); !ok {
			stopErr = errors.ErrUnauthenticated
			break
		}

		outcome, err := e.replay(ctx, m)
		switch outcome {
		case outcomeSynced:
			run.Result.Synced++
		case outcomeFailed:
			run.Result.Failed++
			failedKeys[key] = true
		case outcomePoisoned:
			run.Result.Failed++
			run.Result.Poisoned++
			failedKeys[key] = true
		case outcomeStop:
			run.Result.Failed++
			stopErr = err
		case outcomeStoreError:
			stopErr = err
		}
		if stopErr != nil {
			break
		}
	}

	e.finish(ctx, run, span, stopErr)
	return run.Result, stopErr
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeFailed
	outcomePoisoned
	outcomeStop
	outcomeStoreError
)

// replay sends one mutation and records the result in the queue.
func (e *Engine) replay(ctx context.Context, m *mutation.Mutation) (outcome, error) {
	ctx = logging.WithMutationID(ctx, m.ID)
	mctx, span := e.tracer.StartMutationSpan(ctx, m.ID, m.Method, m.Endpoint, m.Retries)

	_, err := e.remote.Send(mctx, m.Method, m.Endpoint, m.Payload)
	span.EndWithError(err)
	logging.LogMutationReplayed(ctx, e.logger, m.ID, m.Retries, err)

	if err == nil {
		if derr := e.queue.DequeueMutation(ctx, m.ID); derr != nil && !errors.Is(derr, errors.ErrMutationNotFound) {
			// Delivered but still queued: it will be sent again next pass.
			return outcomeStoreError, fmt.Errorf("dequeue %s: %w", m.ID, derr)
		}
		return outcomeSynced, nil
	}

	if ctx.Err() != nil {
		// The send was cut short; whether it arrived is unknown, so it is not counted.
		return outcomeStop, ctx.Err()
	}
	if errors.IsUnauthorized(err) {
		if ierr := e.session.Invalidate(ctx, errors.RejectedCredential(err), err.Error()); ierr != nil {
			e.logger.ErrorContext(ctx, "could not persist session invalidation", "error", ierr)
		}
		return outcomeStop, err
	}

	poison := !errors.IsRetryable(err) || m.ShouldPoison(e.config.PoisonRetryCeiling)
	if rerr := e.queue.RecordFailure(ctx, m.ID, err.Error(), poison); rerr != nil {
		return outcomeStoreError, fmt.Errorf("record failure %s: %w", m.ID, rerr)
	}
	if poison {
		e.logger.WarnContext(ctx, "mutation dead-lettered",
			"retries", m.Retries+1,
			"code", string(errors.CodeOf(err)),
		)
		return outcomePoisoned, err
	}
	return outcomeFailed, err
}

func (e *Engine) finish(ctx context.Context, run *mutation.DrainRun, span *tracing.DrainSpan, err error) {
	run.FinishedAt = e.now().UTC()
	if err != nil {
		run.Error = err.Error()
	}
	if e.history != nil {
		// Recorded even when the pass was cancelled.
		if herr := e.history.RecordDrain(context.WithoutCancel(ctx), run); herr != nil {
			e.logger.WarnContext(ctx, "could not record drain", "error", herr)
		}
	}
	r := run.Result
	logging.LogDrainComplete(ctx, e.logger, r.Synced, r.Failed, r.Deferred, r.Poisoned, run.Duration())
	span.SetResult(r.Synced, r.Failed, r.Deferred, r.Poisoned)
	span.EndWithError(err)

	e.mu.Lock()
	observers := make([]func(mutation.DrainRun), 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.mu.Unlock()
	for _, fn := range observers {
		fn(*run)
	}
}

// periodic triggers a pass every Interval while live mutations are queued.
func (e *Engine) periodic(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, poisoned, err := e.queue.QueueDepth(ctx)
			if err != nil || total-poisoned == 0 {
				continue
			}
			if e.ready() != nil {
				continue
			}
			if _, err := e.drain(ctx, mutation.TriggerPeriodic); err != nil {
				e.logger.Debug("periodic drain not completed", "error", err)
			}
		}
	}
}
