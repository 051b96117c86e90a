package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "offsync.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_OpenClose(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "nested", "offsync.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Run("operations before open fail", func(t *testing.T) {
		_, err := s.QueryAll(ctx)
		if !errors.Is(err, errors.ErrStoreNotInitialized) {
			t.Errorf("QueryAll() error = %v, want ErrStoreNotInitialized", err)
		}
		if err := s.EnqueueMutation(ctx, &mutation.Mutation{ID: "m"}); !errors.Is(err, errors.ErrStoreNotInitialized) {
			t.Errorf("EnqueueMutation() error = %v, want ErrStoreNotInitialized", err)
		}
		if errors.CodeOf(err) != errors.CodeStore {
			t.Errorf("CodeOf() = %q, want %q", errors.CodeOf(err), errors.CodeStore)
		}
	})

	t.Run("open is idempotent", func(t *testing.T) {
		if err := s.Open(ctx); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if err := s.Open(ctx); err != nil {
			t.Fatalf("second Open() error = %v", err)
		}
	})

	t.Run("close then use fails", func(t *testing.T) {
		if err := s.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}
		if _, err := s.GetByID(ctx, "x"); !errors.Is(err, errors.ErrStoreNotInitialized) {
			t.Errorf("GetByID() error = %v, want ErrStoreNotInitialized", err)
		}
	})
}

func TestStore_Migrations(t *testing.T) {
	s := newTestStore(t)
	db, err := s.conn.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("applied %d migrations, want %d", count, len(migrations))
	}

	// Re-running is a no-op.
	if err := applyMigrations(context.Background(), db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestStore_UpsertEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("idempotent", func(t *testing.T) {
		e := entity.Entity{ID: "s1", Kind: "shoot", Status: "upcoming", Title: "Beach"}
		for i := 0; i < 2; i++ {
			if err := s.UpsertEntities(ctx, []entity.Entity{e}); err != nil {
				t.Fatalf("UpsertEntities() error = %v", err)
			}
		}
		all, err := s.QueryAll(ctx)
		if err != nil {
			t.Fatalf("QueryAll() error = %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("len = %d, want 1", len(all))
		}
		if all[0].Title != "Beach" {
			t.Errorf("Title = %q", all[0].Title)
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		synced := time.Now().UTC()
		updated := entity.Entity{
			ID:       "s1",
			Kind:     "shoot",
			Status:   "completed",
			Title:    "Beach, day 2",
			Data:     json.RawMessage(`{"id":"s1"}`),
			SyncedAt: &synced,
		}
		if err := s.UpsertEntities(ctx, []entity.Entity{updated}); err != nil {
			t.Fatalf("UpsertEntities() error = %v", err)
		}
		got, err := s.GetByID(ctx, "s1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != "completed" || got.Title != "Beach, day 2" {
			t.Errorf("unexpected entity: %+v", got)
		}
		if string(got.Data) != `{"id":"s1"}` {
			t.Errorf("Data = %s", got.Data)
		}
		if got.SyncedAt == nil || !got.SyncedAt.Equal(synced) {
			t.Errorf("SyncedAt = %v, want %v", got.SyncedAt, synced)
		}
	})

	t.Run("zero timestamps", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		if err := s.UpsertEntities(ctx, []entity.Entity{{ID: "s2"}}); err != nil {
			t.Fatalf("UpsertEntities() error = %v", err)
		}
		got, err := s.GetByID(ctx, "s2")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.UpdatedAt.Before(before) {
			t.Errorf("UpdatedAt = %v, want now", got.UpdatedAt)
		}
		if got.SyncedAt != nil {
			t.Errorf("SyncedAt = %v, want nil", got.SyncedAt)
		}
	})

	t.Run("rejects empty id", func(t *testing.T) {
		err := s.UpsertEntities(ctx, []entity.Entity{{ID: "ok"}, {ID: " "}})
		if errors.CodeOf(err) != errors.CodeValidation {
			t.Fatalf("error = %v, want validation", err)
		}
		if _, err := s.GetByID(ctx, "ok"); !errors.Is(err, errors.ErrEntityNotFound) {
			t.Error("failed batch should roll back")
		}
	})
}

func TestStore_RefreshEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	local := entity.Entity{ID: "x", Status: "upcoming", Title: "local"}
	if err := s.UpsertEntities(ctx, []entity.Entity{local, {ID: "y", Status: "active"}}); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}
	enqueue := func(id, entityID string) {
		t.Helper()
		m := &mutation.Mutation{ID: id, Endpoint: "/shoots/" + entityID, Method: "PATCH", EntityID: entityID}
		if err := s.EnqueueMutation(ctx, m); err != nil {
			t.Fatalf("EnqueueMutation(%s) error = %v", id, err)
		}
	}
	enqueue("m1", "x")
	enqueue("m2", "new")
	enqueue("m3", "y")
	if err := s.RecordFailure(ctx, "m3", "rejected", true); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	server := []entity.Entity{
		{ID: "x", Status: "active", Title: "server"},
		{ID: "y", Status: "completed", Title: "server"},
		{ID: "new", Status: "active", Title: "server"},
		{ID: "z", Status: "active", Title: "server"},
	}
	held, err := s.RefreshEntities(ctx, server)
	if err != nil {
		t.Fatalf("RefreshEntities() error = %v", err)
	}
	if len(held) != 2 || held[0] != "x" || held[1] != "new" {
		t.Errorf("held = %v, want [x new]", held)
	}

	got, err := s.GetByID(ctx, "x")
	if err != nil {
		t.Fatalf("GetByID(x) error = %v", err)
	}
	if got.Title != "local" || got.Status != "upcoming" {
		t.Errorf("pending record overwritten: %+v", got)
	}
	if _, err := s.GetByID(ctx, "new"); !errors.Is(err, errors.ErrEntityNotFound) {
		t.Errorf("GetByID(new) error = %v, want ErrEntityNotFound", err)
	}
	// Poisoned mutations no longer hold their record.
	if got, _ := s.GetByID(ctx, "y"); got == nil || got.Status != "completed" {
		t.Errorf("y = %+v, want server copy", got)
	}
	if got, _ := s.GetByID(ctx, "z"); got == nil || got.Title != "server" {
		t.Errorf("z = %+v, want inserted", got)
	}

	if err := s.DequeueMutation(ctx, "m1"); err != nil {
		t.Fatalf("DequeueMutation() error = %v", err)
	}
	held, err = s.RefreshEntities(ctx, server[:1])
	if err != nil {
		t.Fatalf("RefreshEntities() error = %v", err)
	}
	if len(held) != 0 {
		t.Errorf("held = %v after dequeue", held)
	}
	if got, _ := s.GetByID(ctx, "x"); got == nil || got.Title != "server" {
		t.Errorf("x = %+v, want server copy", got)
	}
}

func TestStore_Query(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []entity.Entity{
		{ID: "a", Kind: "shoot", Status: "upcoming", Title: "Charlie", UpdatedAt: base},
		{ID: "b", Kind: "shoot", Status: "upcoming", Title: "Alpha", UpdatedAt: base.Add(time.Hour)},
		{ID: "c", Kind: "performance", Status: "upcoming", Title: "Bravo", UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "d", Kind: "shoot", Status: "completed", Title: "Delta", UpdatedAt: base.Add(3 * time.Hour)},
	}
	if err := s.UpsertEntities(ctx, seed); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}

	ids := func(list []entity.Entity) []string {
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = e.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter entity.Filter
		want   []string
	}{
		{"default newest first", entity.Filter{}, []string{"d", "c", "b", "a"}},
		{"status", entity.Filter{Status: "upcoming"}, []string{"c", "b", "a"}},
		{"status and kind", entity.Filter{Status: "upcoming", Kind: "shoot"}, []string{"b", "a"}},
		{"by title", entity.Filter{OrderBy: entity.SortByTitle}, []string{"b", "c", "a", "d"}},
		{"limit", entity.Filter{OrderBy: entity.SortByID, Descending: true, Limit: 2}, []string{"d", "c"}},
		{"no match", entity.Filter{Status: "cancelled"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			gotIDs := ids(got)
			if len(gotIDs) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", gotIDs, tt.want)
			}
			for i := range gotIDs {
				if gotIDs[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", gotIDs, tt.want)
				}
			}
		})
	}

	t.Run("unknown sort field", func(t *testing.T) {
		_, err := s.Query(ctx, entity.Filter{OrderBy: "data; DROP TABLE entities"})
		if errors.CodeOf(err) != errors.CodeValidation {
			t.Errorf("error = %v, want validation", err)
		}
	})

	t.Run("QueryByStatus", func(t *testing.T) {
		got, err := s.QueryByStatus(ctx, "completed")
		if err != nil {
			t.Fatalf("QueryByStatus() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "d" {
			t.Errorf("got %v", ids(got))
		}
	})
}

func TestStore_UpdateEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertEntities(ctx, []entity.Entity{{ID: "x", Status: "active", Title: "T"}}); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}

	status := entity.StatusUpcoming
	now := time.Now().UTC()
	err := s.UpdateEntity(ctx, "x", func(e *entity.Entity) error {
		(&entity.Patch{EntityID: "x", Status: &status}).Apply(e, now)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}

	got, err := s.QueryByStatus(ctx, entity.StatusUpcoming)
	if err != nil {
		t.Fatalf("QueryByStatus() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "T" {
		t.Errorf("got %+v", got)
	}

	t.Run("missing entity", func(t *testing.T) {
		err := s.UpdateEntity(ctx, "nope", func(*entity.Entity) error { return nil })
		if !errors.Is(err, errors.ErrEntityNotFound) {
			t.Errorf("error = %v, want ErrEntityNotFound", err)
		}
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		boom := errors.NewError(errors.CodeValidation, "boom", nil)
		err := s.UpdateEntity(ctx, "x", func(e *entity.Entity) error {
			e.Title = "changed"
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want boom", err)
		}
		e, _ := s.GetByID(ctx, "x")
		if e.Title != "T" {
			t.Errorf("Title = %q, want T", e.Title)
		}
	})
}

func TestStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertEntities(ctx, []entity.Entity{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatalf("UpsertEntities() error = %v", err)
	}
	if err := s.DeleteByID(ctx, "a"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if err := s.DeleteByID(ctx, "a"); err != nil {
		t.Fatalf("DeleteByID() on missing record error = %v", err)
	}
	if _, err := s.GetByID(ctx, "a"); !errors.Is(err, errors.ErrEntityNotFound) {
		t.Errorf("GetByID() error = %v, want ErrEntityNotFound", err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	all, _ := s.QueryAll(ctx)
	if len(all) != 0 {
		t.Errorf("len = %d after ClearAll", len(all))
	}
}

func TestStore_Queue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	enqueue := func(id string, at time.Time) {
		t.Helper()
		m := &mutation.Mutation{ID: id, Endpoint: "/shoots/" + id, Method: "PATCH", Payload: []byte(`{}`), CreatedAt: at}
		if err := s.EnqueueMutation(ctx, m); err != nil {
			t.Fatalf("EnqueueMutation(%s) error = %v", id, err)
		}
	}

	// C carries an earlier clock reading than B: insertion order still wins.
	enqueue("A", created)
	enqueue("B", created)
	enqueue("C", created.Add(-time.Minute))

	t.Run("FIFO order", func(t *testing.T) {
		list, err := s.ListQueuedMutations(ctx)
		if err != nil {
			t.Fatalf("ListQueuedMutations() error = %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("len = %d, want 3", len(list))
		}
		for i, want := range []string{"A", "B", "C"} {
			if list[i].ID != want {
				t.Errorf("list[%d] = %s, want %s", i, list[i].ID, want)
			}
		}
		if !list[0].CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", list[0].CreatedAt, created)
		}
		if string(list[0].Payload) != `{}` {
			t.Errorf("Payload = %s", list[0].Payload)
		}
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := s.EnqueueMutation(ctx, &mutation.Mutation{ID: "A", Endpoint: "/x", Method: "POST"})
		if errors.CodeOf(err) != errors.CodeStore {
			t.Errorf("error = %v, want store error", err)
		}
	})

	t.Run("record failure", func(t *testing.T) {
		if err := s.RecordFailure(ctx, "B", "503 unavailable", false); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if err := s.RecordFailure(ctx, "B", "timeout", true); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if err := s.RecordFailure(ctx, "B", "timeout again", false); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		list, _ := s.ListQueuedMutations(ctx)
		b := list[1]
		if b.Retries != 3 {
			t.Errorf("Retries = %d, want 3", b.Retries)
		}
		if !b.Poisoned {
			t.Error("poisoned flag should stick")
		}
		if b.LastError != "timeout again" {
			t.Errorf("LastError = %q", b.LastError)
		}

		total, poisoned, err := s.QueueDepth(ctx)
		if err != nil {
			t.Fatalf("QueueDepth() error = %v", err)
		}
		if total != 3 || poisoned != 1 {
			t.Errorf("QueueDepth() = %d, %d; want 3, 1", total, poisoned)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if err := s.RecordFailure(ctx, "Z", "x", false); !errors.Is(err, errors.ErrMutationNotFound) {
			t.Errorf("RecordFailure() error = %v, want ErrMutationNotFound", err)
		}
		if err := s.DequeueMutation(ctx, "Z"); !errors.Is(err, errors.ErrMutationNotFound) {
			t.Errorf("DequeueMutation() error = %v, want ErrMutationNotFound", err)
		}
	})

	t.Run("dequeue", func(t *testing.T) {
		if err := s.DequeueMutation(ctx, "A"); err != nil {
			t.Fatalf("DequeueMutation() error = %v", err)
		}
		list, _ := s.ListQueuedMutations(ctx)
		if len(list) != 2 || list[0].ID != "B" {
			t.Errorf("unexpected queue after dequeue: %d items", len(list))
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := s.ClearQueue(ctx); err != nil {
			t.Fatalf("ClearQueue() error = %v", err)
		}
		total, _, _ := s.QueueDepth(ctx)
		if total != 0 {
			t.Errorf("QueueDepth() = %d after clear", total)
		}
	})
}

func TestStore_QueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offsync.db")

	s, _ := New(path)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	m, _ := mutation.New("POST", "/shoots", []byte(`{"title":"new"}`), "")
	if err := s.EnqueueMutation(ctx, m); err != nil {
		t.Fatalf("EnqueueMutation() error = %v", err)
	}
	s.Close()

	reopened, _ := New(path)
	if err := reopened.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	list, err := reopened.ListQueuedMutations(ctx)
	if err != nil {
		t.Fatalf("ListQueuedMutations() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("queue after reopen = %+v", list)
	}
}

func TestStore_Session(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.GetSessionValue(ctx, "token"); err != nil || ok {
		t.Fatalf("GetSessionValue() = _, %v, %v; want missing", ok, err)
	}
	if err := s.SetSessionValue(ctx, "token", "abc"); err != nil {
		t.Fatalf("SetSessionValue() error = %v", err)
	}
	if err := s.SetSessionValue(ctx, "token", "def"); err != nil {
		t.Fatalf("SetSessionValue() error = %v", err)
	}
	v, ok, err := s.GetSessionValue(ctx, "token")
	if err != nil || !ok || v != "def" {
		t.Errorf("GetSessionValue() = %q, %v, %v", v, ok, err)
	}
	if err := s.DeleteSessionValue(ctx, "token"); err != nil {
		t.Fatalf("DeleteSessionValue() error = %v", err)
	}
	if _, ok, _ := s.GetSessionValue(ctx, "token"); ok {
		t.Error("value should be gone")
	}
}

func TestStore_Drains(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := &mutation.DrainRun{
			Trigger:    mutation.TriggerManual,
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
			FinishedAt: start.Add(time.Duration(i)*time.Minute + time.Second),
			Result:     mutation.SyncResult{Synced: i, Failed: 1},
		}
		if err := s.RecordDrain(ctx, run); err != nil {
			t.Fatalf("RecordDrain() error = %v", err)
		}
		if run.ID == "" {
			t.Error("RecordDrain() should assign an id")
		}
	}

	runs, err := s.RecentDrains(ctx, 2)
	if err != nil {
		t.Fatalf("RecentDrains() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].Result.Synced != 2 || runs[1].Result.Synced != 1 {
		t.Errorf("runs not newest first: %+v", runs)
	}
	if runs[0].Duration() != time.Second {
		t.Errorf("Duration() = %v", runs[0].Duration())
	}
	if runs[0].Trigger != mutation.TriggerManual {
		t.Errorf("Trigger = %q", runs[0].Trigger)
	}
}
