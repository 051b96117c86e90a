package replay

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/offsync/internal/adapters/store/sqlite"
	"github.com/jbctechsolutions/offsync/internal/application/access"
	appconnectivity "github.com/jbctechsolutions/offsync/internal/application/connectivity"
	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/testutil"
)

type harness struct {
	engine  *Engine
	store   *sqlite.Store
	remote  *testutil.Remote
	monitor *testutil.Monitor
	session *testutil.Session
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:   testutil.OpenStore(t),
		remote:  &testutil.Remote{},
		monitor: testutil.NewMonitor(true),
		session: testutil.NewSession("tok"),
	}
	h.engine = NewEngine(h.store, h.store, h.remote, h.monitor, h.session, cfg, nil, nil)
	t.Cleanup(h.engine.Stop)
	return h
}

// enqueue adds mutations with strictly increasing timestamps.
func (h *harness) enqueue(t *testing.T, specs ...[2]string) []*mutation.Mutation {
	t.Helper()
	base := time.Now().UTC()
	out := make([]*mutation.Mutation, 0, len(specs))
	for i, s := range specs {
		m, err := mutation.New(http.MethodPatch, s[0], []byte(`{}`), s[1])
		require.NoError(t, err)
		m.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, h.store.EnqueueMutation(context.Background(), m))
		out = append(out, m)
	}
	return out
}

func (h *harness) queued(t *testing.T) []*mutation.Mutation {
	t.Helper()
	list, err := h.store.ListQueuedMutations(context.Background())
	require.NoError(t, err)
	return list
}

// failOn makes Send fail with err for the given endpoint.
func failOn(endpoint string, err error) func(context.Context, string, string, []byte) (*ports.RemoteResponse, error) {
	return func(_ context.Context, _, ep string, _ []byte) (*ports.RemoteResponse, error) {
		if ep == endpoint {
			return nil, err
		}
		return &ports.RemoteResponse{StatusCode: http.StatusOK}, nil
	}
}

func TestDrain_ReplaysInOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"}, [2]string{"/shoots/b", "b"}, [2]string{"/shoots/c", "c"})

	result, err := h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.SyncResult{Synced: 3}, result)
	require.Equal(t, []string{"/shoots/a", "/shoots/b", "/shoots/c"}, h.remote.Sent())
	require.Empty(t, h.queued(t))

	runs, err := h.store.RecentDrains(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, mutation.TriggerManual, runs[0].Trigger)
	require.Equal(t, 3, runs[0].Result.Synced)
}

func TestDrain_FailureKeepsMutation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ms := h.enqueue(t, [2]string{"/shoots/a", "a"}, [2]string{"/shoots/b", "b"}, [2]string{"/shoots/c", "c"})
	h.remote.SendFunc = failOn("/shoots/b", testutil.Failure(errors.CodeServer, http.StatusServiceUnavailable))

	result, err := h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.SyncResult{Synced: 2, Failed: 1}, result)

	left := h.queued(t)
	require.Len(t, left, 1)
	require.Equal(t, ms[1].ID, left[0].ID)
	require.Equal(t, 1, left[0].Retries)
	require.False(t, left[0].Poisoned)
	require.NotEmpty(t, left[0].LastError)
}

func TestDrain_AtLeastOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"})
	h.remote.SendFunc = failOn("/shoots/a", testutil.Failure(errors.CodeConnectivity, 0))

	_, err := h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, h.queued(t), 1)

	h.remote.SendFunc = nil
	result, err := h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Synced)
	require.Empty(t, h.queued(t))
	require.Equal(t, []string{"/shoots/a", "/shoots/a"}, h.remote.Sent())
}

func TestDrain_DefersLaterWritesToFailedResource(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ms := h.enqueue(t,
		[2]string{"/shoots/x", "x"},
		[2]string{"/shoots/x/notes", "x"},
		[2]string{"/shoots/y", "y"},
	)
	h.remote.SendFunc = failOn("/shoots/x", testutil.Failure(errors.CodeServer, http.StatusBadGateway))

	result, err := h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.SyncResult{Synced: 1, Failed: 1, Deferred: 1}, result)
	require.Equal(t, []string{"/shoots/x", "/shoots/y"}, h.remote.Sent())

	left := h.queued(t)
	require.Len(t, left, 2)
	require.Equal(t, ms[0].ID, left[0].ID)
	require.Equal(t, 1, left[0].Retries)
	require.Equal(t, ms[1].ID, left[1].ID)
	require.Equal(t, 0, left[1].Retries)
}

func TestDrain_Poisoning(t *testing.T) {
	t.Run("retry ceiling", func(t *testing.T) {
		h := newHarness(t, Config{PoisonRetryCeiling: 2})
		h.enqueue(t, [2]string{"/shoots/a", "a"})
		h.remote.SendFunc = failOn("/shoots/a", testutil.Failure(errors.CodeServer, http.StatusInternalServerError))

		first, err := h.engine.Drain(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, first.Poisoned)

		second, err := h.engine.Drain(context.Background())
		require.NoError(t, err)
		require.Equal(t, mutation.SyncResult{Failed: 1, Poisoned: 1}, second)

		left := h.queued(t)
		require.Len(t, left, 1)
		require.True(t, left[0].Poisoned)
		require.Equal(t, 2, left[0].Retries)

		h.remote.Reset()
		third, err := h.engine.Drain(context.Background())
		require.NoError(t, err)
		require.Zero(t, third.Total())
		require.Empty(t, h.remote.Sent())
	})

	t.Run("client failure", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.enqueue(t, [2]string{"/shoots/a", "a"}, [2]string{"/shoots/b", "b"})
		h.remote.SendFunc = failOn("/shoots/a", testutil.Failure(errors.CodeClient, http.StatusUnprocessableEntity))

		result, err := h.engine.Drain(context.Background())
		require.NoError(t, err)
		require.Equal(t, mutation.SyncResult{Synced: 1, Failed: 1, Poisoned: 1}, result)

		total, poisoned, err := h.store.QueueDepth(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, 1, poisoned)
	})
}

func TestDrain_UnauthorizedStops(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ms := h.enqueue(t, [2]string{"/shoots/a", "a"}, [2]string{"/shoots/b", "b"})
	h.remote.SendFunc = failOn("/shoots/a", testutil.Failure(errors.CodeUnauthorized, http.StatusUnauthorized))

	result, err := h.engine.Drain(context.Background())
	require.True(t, errors.IsUnauthorized(err))
	require.Equal(t, mutation.SyncResult{Failed: 1}, result)
	require.Equal(t, []string{"/shoots/a"}, h.remote.Sent())
	require.Len(t, h.session.Invalidations(), 1)

	left := h.queued(t)
	require.Len(t, left, 2)
	require.Equal(t, ms[0].ID, left[0].ID)
	require.Equal(t, 0, left[0].Retries)

	_, err = h.engine.Drain(context.Background())
	require.ErrorIs(t, err, errors.ErrUnauthenticated)
}

func TestDrain_UnauthorizedForReplacedTokenKeepsSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"})
	stale := errors.WithRejectedCredential(
		errors.NewRemoteError(errors.CodeUnauthorized, http.StatusUnauthorized, "expired"), "old-token")
	h.remote.SendFunc = failOn("/shoots/a", stale)

	_, err := h.engine.Drain(context.Background())
	require.True(t, errors.IsUnauthorized(err))
	require.Empty(t, h.session.Invalidations())
	_, ok := h.session.AccessToken()
	require.True(t, ok, "the current token was never rejected")
}

func TestDrain_Preconditions(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.enqueue(t, [2]string{"/shoots/a", "a"})
		h.monitor.SetOnline(false)

		_, err := h.engine.Drain(context.Background())
		require.ErrorIs(t, err, errors.ErrOffline)
		require.Empty(t, h.remote.Calls())
		require.Len(t, h.queued(t), 1)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.enqueue(t, [2]string{"/shoots/a", "a"})
		h.session.SetToken("")

		_, err := h.engine.Drain(context.Background())
		require.ErrorIs(t, err, errors.ErrUnauthenticated)
		require.Empty(t, h.remote.Calls())
	})
}

func TestDrain_SingleFlightWithFollowUp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"})

	release := make(chan struct{})
	h.remote.SendFunc = func(context.Context, string, string, []byte) (*ports.RemoteResponse, error) {
		<-release
		return &ports.RemoteResponse{StatusCode: http.StatusOK}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var first mutation.SyncResult
	var firstErr error
	go func() {
		defer wg.Done()
		first, firstErr = h.engine.Drain(context.Background())
	}()

	require.Eventually(t, func() bool { return len(h.remote.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, Draining, h.engine.State())

	_, err := h.engine.Drain(context.Background())
	require.ErrorIs(t, err, errors.ErrDrainInProgress)
	_, err = h.engine.Drain(context.Background())
	require.ErrorIs(t, err, errors.ErrDrainInProgress)

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.Equal(t, 1, first.Synced)
	require.Equal(t, Idle, h.engine.State())

	runs, err := h.store.RecentDrains(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2, "two rejected requests coalesce into one follow-up")
	require.Equal(t, mutation.TriggerFollowUp, runs[0].Trigger)
	require.Equal(t, mutation.TriggerManual, runs[1].Trigger)
}

func TestEngine_DrainsOnReconnect(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.monitor.SetOnline(false)
	h.enqueue(t, [2]string{"/shoots/a", "a"})

	h.engine.Start(context.Background())
	h.monitor.SetOnline(true)

	require.Eventually(t, func() bool { return len(h.queued(t)) == 0 }, 2*time.Second, 10*time.Millisecond)
	runs, err := h.store.RecentDrains(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, mutation.TriggerReconnect, runs[0].Trigger)
}

type reachable struct{}

func (reachable) Probe(context.Context) bool { return true }

func TestEngine_ResumesBacklogWhenStartedOnline(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"})

	mon := appconnectivity.NewMonitor(reachable{}, appconnectivity.Config{}, nil)
	t.Cleanup(mon.Close)
	eng := NewEngine(h.store, h.store, h.remote, mon, h.session, DefaultConfig(), nil, nil)
	t.Cleanup(eng.Stop)

	ctx := context.Background()
	eng.Start(ctx)
	require.NoError(t, mon.Initialize(ctx))

	started, err := eng.ResumeBacklog(ctx)
	require.NoError(t, err)
	require.True(t, started)
	require.Eventually(t, func() bool { return len(h.queued(t)) == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"/shoots/a"}, h.remote.Sent())
	runs, err := h.store.RecentDrains(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, mutation.TriggerReconnect, runs[0].Trigger)
}

func TestEngine_ResumeBacklogSkips(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		started, err := h.engine.ResumeBacklog(ctx)
		require.NoError(t, err)
		require.False(t, started)
	})

	t.Run("only poisoned", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		ms := h.enqueue(t, [2]string{"/shoots/a", "a"})
		require.NoError(t, h.store.RecordFailure(ctx, ms[0].ID, "rejected", true))
		started, err := h.engine.ResumeBacklog(ctx)
		require.NoError(t, err)
		require.False(t, started)
	})

	t.Run("offline", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.monitor.SetOnline(false)
		h.enqueue(t, [2]string{"/shoots/a", "a"})
		started, err := h.engine.ResumeBacklog(ctx)
		require.NoError(t, err)
		require.False(t, started)
	})
}

func TestEngine_StopDuringSendKeepsRetries(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"})
	sending := make(chan struct{})
	h.remote.SendFunc = func(ctx context.Context, _, _ string, _ []byte) (*ports.RemoteResponse, error) {
		close(sending)
		<-ctx.Done()
		return nil, errors.NewError(errors.CodeConnectivity, "request failed", ctx.Err())
	}

	h.engine.Start(context.Background())
	h.engine.TriggerAsync(mutation.TriggerManual)
	<-sending
	h.engine.Stop()

	left := h.queued(t)
	require.Len(t, left, 1)
	require.Equal(t, 0, left[0].Retries)
	require.False(t, left[0].Poisoned)
}

func TestEngine_PeriodicDrain(t *testing.T) {
	h := newHarness(t, Config{PoisonRetryCeiling: 5, Interval: 20 * time.Millisecond})
	h.engine.Start(context.Background())
	h.enqueue(t, [2]string{"/shoots/a", "a"})

	require.Eventually(t, func() bool { return len(h.queued(t)) == 0 }, 2*time.Second, 10*time.Millisecond)
	runs, err := h.store.RecentDrains(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, mutation.TriggerPeriodic, runs[0].Trigger)
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.engine.Start(context.Background())
	h.engine.Stop()
	h.engine.Stop()

	h.engine.TriggerAsync(mutation.TriggerManual)
	require.Equal(t, Idle, h.engine.State())
}

// An edit made offline survives reconnect, replays, and is visible through a
// fresh online fetch afterwards.
func TestOfflineEditRoundTrip(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	server := map[string]entity.Entity{
		"s1": {ID: "s1", Status: entity.StatusActive, Title: "Beach"},
	}
	var mu sync.Mutex
	h.remote.FetchFunc = func(_ context.Context, status string) ([]entity.Entity, error) {
		mu.Lock()
		defer mu.Unlock()
		var out []entity.Entity
		for _, e := range server {
			if e.Status == status {
				out = append(out, e)
			}
		}
		return out, nil
	}
	h.remote.SendFunc = func(_ context.Context, _, endpoint string, _ []byte) (*ports.RemoteResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if endpoint == "/shoots/s1" {
			e := server["s1"]
			e.Status = entity.StatusUpcoming
			server["s1"] = e
		}
		return &ports.RemoteResponse{StatusCode: http.StatusOK}, nil
	}

	svc := access.NewService(h.store, h.store, h.remote, h.monitor, h.session, access.Config{}, nil, nil)

	_, err := svc.Fetch(ctx, entity.StatusActive, access.FetchOptions{})
	require.NoError(t, err)

	h.engine.Start(ctx)
	h.monitor.SetOnline(false)

	res, err := svc.Write(ctx, access.Request{
		Method:   http.MethodPatch,
		Endpoint: "/shoots/s1",
		Payload:  []byte(`{"status":"upcoming"}`),
		Patch:    &entity.Patch{EntityID: "s1", Status: testutil.Ptr(entity.StatusUpcoming)},
	}, access.WriteOptions{})
	require.NoError(t, err)
	require.Equal(t, access.StatusQueued, res.Status)

	offline, err := svc.Fetch(ctx, entity.StatusUpcoming, access.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, offline.Entities, 1)
	require.Equal(t, "s1", offline.Entities[0].ID)

	h.monitor.SetOnline(true)
	require.Eventually(t, func() bool { return len(h.queued(t)) == 0 }, 2*time.Second, 10*time.Millisecond)

	online, err := svc.Fetch(ctx, entity.StatusUpcoming, access.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, access.SourceRemote, online.Source)
	require.Len(t, online.Entities, 1)
	require.Equal(t, "s1", online.Entities[0].ID)
	require.True(t, online.Entities[0].IsSynced())
}

func TestEngine_OnDrain(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, [2]string{"/shoots/a", "a"})

	var runs []mutation.DrainRun
	remove := h.engine.OnDrain(func(run mutation.DrainRun) {
		runs = append(runs, run)
	})

	_, err := h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, 1, runs[0].Result.Synced)
	require.NotEmpty(t, runs[0].ID)
	require.False(t, runs[0].FinishedAt.IsZero())

	remove()
	_, err = h.engine.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
