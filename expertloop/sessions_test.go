package expertloop

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSessionStoreCreatesAndReuses(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	sess, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("generated id is empty")
	}

	again, err := store.GetOrCreate(sess.ID())
	if err != nil {
		t.Fatalf("GetOrCreate existing: %v", err)
	}
	if again != sess {
		t.Error("existing session not reused")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestSessionSandboxesAreIsolated(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	a, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate a: %v", err)
	}
	b, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate b: %v", err)
	}
	if a.Sandbox().Root() == b.Sandbox().Root() {
		t.Error("sessions share a sandbox root")
	}
}

func TestGetOrCreateNeverDerivesSandboxFromClientID(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := NewSessionStore(root)

	for _, id := range []string{"..", "../../etc", "a/../..", "/tmp/elsewhere", "nested/dir"} {
		sess, err := store.GetOrCreate(id)
		if err != nil {
			t.Fatalf("GetOrCreate(%q): %v", id, err)
		}
		if sess.ID() == id {
			t.Errorf("unknown client id %q was adopted as a session id", id)
		}
		rel, err := filepath.Rel(root, sess.Sandbox().Root())
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			t.Errorf("id %q rooted sandbox at %q, outside workspace root %q", id, sess.Sandbox().Root(), root)
		}
	}
}

func TestSessionHistoryIsAppendOnlyCopy(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	sess, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	sess.Append(NewUserTurn("one"))
	snapshot := sess.History()
	sess.Append(NewUserTurn("two"))

	if len(snapshot) != 1 {
		t.Errorf("snapshot grew after Append: len = %d", len(snapshot))
	}
	snapshot[0].Content = "mutated"
	if sess.History()[0].Content != "one" {
		t.Error("mutating the snapshot changed stored history")
	}
	if sess.Len() != 2 {
		t.Errorf("Len = %d, want 2", sess.Len())
	}
}

func TestTryAcquireTurnEnforcesSingleFlight(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	sess, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	release, ok := sess.TryAcquireTurn()
	if !ok {
		t.Fatal("first acquire failed")
	}
	if _, ok := sess.TryAcquireTurn(); ok {
		t.Fatal("second acquire succeeded while turn in flight")
	}
	release()
	release() // release is idempotent
	if _, ok := sess.TryAcquireTurn(); !ok {
		t.Fatal("acquire failed after release")
	}
}

func TestTryAcquireTurnUnderContention(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	sess, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	const goroutines = 32
	var wg sync.WaitGroup
	acquired := make(chan func(), goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := sess.TryAcquireTurn(); ok {
				acquired <- release
			}
		}()
	}
	wg.Wait()
	close(acquired)

	var releases []func()
	for r := range acquired {
		releases = append(releases, r)
	}
	if len(releases) != 1 {
		t.Fatalf("%d goroutines acquired, want exactly 1", len(releases))
	}
	releases[0]()
}

func TestEvictIdleSkipsActiveSessions(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	idle, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	active, err := store.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	release, ok := active.TryAcquireTurn()
	if !ok {
		t.Fatal("acquire failed")
	}
	defer release()

	idle.mu.Lock()
	idle.lastActivity = time.Now().Add(-time.Hour)
	idle.mu.Unlock()
	active.mu.Lock()
	active.lastActivity = time.Now().Add(-time.Hour)
	active.mu.Unlock()

	evicted := store.EvictIdle(30 * time.Minute)
	if len(evicted) != 1 || evicted[0] != idle.ID() {
		t.Errorf("evicted = %v, want [%s]", evicted, idle.ID())
	}
	if _, ok := store.Get(active.ID()); !ok {
		t.Error("active session was evicted")
	}
}
