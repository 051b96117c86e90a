package credentials

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type tokenSink struct {
	mu     sync.Mutex
	tokens []string
}

func (s *tokenSink) handle(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *tokenSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReadTokenFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := ReadTokenFile(path)
	if err != nil {
		t.Fatalf("ReadTokenFile() error = %v", err)
	}
	if got != "abc" {
		t.Errorf("ReadTokenFile() = %q, want %q", got, "abc")
	}

	empty := filepath.Join(dir, "empty")
	os.WriteFile(empty, []byte("\n"), 0o600)
	if _, err := ReadTokenFile(empty); err == nil {
		t.Error("expected error for empty file")
	}

	if _, err := ReadTokenFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("first"), 0o600); err != nil {
		t.Fatal(err)
	}

	sink := &tokenSink{}
	w, err := NewWatcher(path, 20*time.Millisecond, sink.handle, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Run("loads existing file on start", func(t *testing.T) {
		got := sink.snapshot()
		if len(got) != 1 || got[0] != "first" {
			t.Fatalf("tokens = %v, want [first]", got)
		}
	})

	t.Run("reloads on write", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("second\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool {
			got := sink.snapshot()
			return len(got) == 2 && got[1] == "second"
		})
	})

	t.Run("reloads on atomic rename", func(t *testing.T) {
		tmp := filepath.Join(dir, "token.tmp")
		if err := os.WriteFile(tmp, []byte("third"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool {
			got := sink.snapshot()
			return len(got) == 3 && got[2] == "third"
		})
	})

	t.Run("ignores other files and unchanged content", func(t *testing.T) {
		os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o600)
		os.WriteFile(path, []byte("third"), 0o600)
		time.Sleep(150 * time.Millisecond)
		if got := sink.snapshot(); len(got) != 3 {
			t.Errorf("tokens = %v, want 3 entries", got)
		}
	})

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
