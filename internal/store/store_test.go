package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Threads ---

func TestGetOrCreateThreadIsStable(t *testing.T) {
	s := openTestStore(t)

	first, created, err := s.GetOrCreateThread("demo", "coder")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("first call should report created")
	}
	if first.Persona != "coder" {
		t.Errorf("persona = %q, want coder", first.Persona)
	}

	second, created, err := s.GetOrCreateThread("demo", "roaster")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if created {
		t.Error("second call should not report created")
	}
	if second.ID != first.ID {
		t.Errorf("id = %d, want %d", second.ID, first.ID)
	}
	if second.Persona != "coder" {
		t.Errorf("persona changed to %q on second call", second.Persona)
	}
}

func TestGetOrCreateThreadDefaultPersona(t *testing.T) {
	s := openTestStore(t)
	th, _, err := s.GetOrCreateThread("master", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if th.Persona != DefaultPersona {
		t.Errorf("persona = %q, want %q", th.Persona, DefaultPersona)
	}
}

func TestGetOrCreateThreadConcurrent(t *testing.T) {
	s := openTestStore(t)

	const n = 16
	var wg sync.WaitGroup
	ids := make([]int64, n)
	createdCount := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, created, err := s.GetOrCreateThread("race", fmt.Sprintf("p%d", i))
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = th.ID
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d got id %d, want %d", i, ids[i], ids[0])
		}
		if createdCount[i] {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("%d callers inserted, want exactly 1", winners)
	}

	threads, err := s.ListThreads()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(threads))
	}
}

func TestGetThreadNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetThread("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListThreads(t *testing.T) {
	s := openTestStore(t)

	demo, _, err := s.GetOrCreateThread("demo", "coder")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.GetOrCreateThread("empty", "teacher"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(demo.ID, "2+2?", "4"); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	got, err := s.ListThreads()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []ThreadSummary{
		{Name: "demo", Persona: "coder", MessageCount: 2},
		{Name: "empty", Persona: "teacher", MessageCount: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListThreads mismatch (-want +got):\n%s", diff)
	}
}

func TestListThreadsEmptyStore(t *testing.T) {
	s := openTestStore(t)
	got, err := s.ListThreads()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got %#v, want empty non-nil slice", got)
	}
}

// --- Messages ---

func TestHistoryPreservesCallOrder(t *testing.T) {
	s := openTestStore(t)
	th, _, err := s.GetOrCreateThread("demo", "coder")
	if err != nil {
		t.Fatal(err)
	}

	calls := []struct {
		role    Role
		content string
	}{
		{RoleHuman, "hi"},
		{RoleAI, "hello"},
		{RoleHuman, "hi"},
		{RoleHuman, "again"},
		{RoleAI, "hello"},
	}
	for _, c := range calls {
		if _, err := s.AddMessage(th.ID, c.role, c.content); err != nil {
			t.Fatalf("add %q: %v", c.content, err)
		}
	}

	history, err := s.GetHistory(th.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(calls) {
		t.Fatalf("got %d messages, want %d", len(history), len(calls))
	}
	for i, c := range calls {
		if history[i].Role != c.role || history[i].Content != c.content {
			t.Errorf("message %d = {%s %q}, want {%s %q}", i, history[i].Role, history[i].Content, c.role, c.content)
		}
		if i > 0 && history[i].ID <= history[i-1].ID {
			t.Errorf("ids not ascending at %d: %d <= %d", i, history[i].ID, history[i-1].ID)
		}
	}
}

func TestHistoryIsolatedPerThread(t *testing.T) {
	s := openTestStore(t)
	a, _, _ := s.GetOrCreateThread("a", "")
	b, _, _ := s.GetOrCreateThread("b", "")

	if _, err := s.AddMessage(a.ID, RoleHuman, "for a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddMessage(b.ID, RoleHuman, "for b"); err != nil {
		t.Fatal(err)
	}

	history, err := s.GetHistory(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "for a" {
		t.Fatalf("thread a history = %+v", history)
	}
}

func TestAddMessageUnknownThread(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddMessage(42, RoleHuman, "hello")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddMessageInvalidRole(t *testing.T) {
	s := openTestStore(t)
	th, _, _ := s.GetOrCreateThread("demo", "")
	_, err := s.AddMessage(th.ID, Role("system"), "nope")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestUnknownThreadIDOperations(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetHistory(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetHistory err = %v, want ErrNotFound", err)
	}
	if _, err := s.ClearMessages(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("ClearMessages err = %v, want ErrNotFound", err)
	}
	if err := s.AppendTurn(7, "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendTurn err = %v, want ErrNotFound", err)
	}
}

func TestClearMessages(t *testing.T) {
	s := openTestStore(t)
	th, _, _ := s.GetOrCreateThread("demo", "coder")
	other, _, _ := s.GetOrCreateThread("other", "coder")

	if err := s.AppendTurn(th.ID, "q", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(other.ID, "q2", "a2"); err != nil {
		t.Fatal(err)
	}

	n, err := s.ClearMessages(th.ID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}

	history, err := s.GetHistory(th.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history after clear = %d messages, want 0", len(history))
	}

	got, err := s.GetThread("demo")
	if err != nil {
		t.Fatalf("thread should survive clear: %v", err)
	}
	if got.ID != th.ID {
		t.Errorf("thread id changed: %d vs %d", got.ID, th.ID)
	}

	// other threads untouched
	if c, _ := s.CountMessages(other.ID); c != 2 {
		t.Errorf("other thread has %d messages, want 2", c)
	}

	// idempotent
	n, err = s.ClearMessages(th.ID)
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if n != 0 {
		t.Errorf("second clear removed %d", n)
	}
}

func TestMessageIDsNeverReusedAfterClear(t *testing.T) {
	s := openTestStore(t)
	th, _, _ := s.GetOrCreateThread("demo", "")

	m1, err := s.AddMessage(th.ID, RoleHuman, "one")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClearMessages(th.ID); err != nil {
		t.Fatal(err)
	}
	m2, err := s.AddMessage(th.ID, RoleHuman, "two")
	if err != nil {
		t.Fatal(err)
	}
	if m2.ID <= m1.ID {
		t.Errorf("id after clear = %d, want > %d", m2.ID, m1.ID)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neuromind.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	th, _, err := s.GetOrCreateThread("demo", "coder")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(th.ID, "2+2?", "4"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.GetThread("demo")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	history, err := s.GetHistory(got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Role != RoleHuman || history[1].Content != "4" {
		t.Fatalf("history after reopen = %+v", history)
	}
}

func TestStorageErrorWraps(t *testing.T) {
	s := openTestStore(t)
	s.Close()

	_, err := s.ListThreads()
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v (%T), want *StorageError", err, err)
	}
	if se.Op == "" {
		t.Error("storage error has no op")
	}
}
