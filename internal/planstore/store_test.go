package planstore

import (
	"path/filepath"
	"testing"

	"github.com/ralphdev/tix/internal/tix"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(Options{
		LogPath:   filepath.Join(dir, "plan.jsonl"),
		CachePath: filepath.Join(dir, "cache.db"),
		RepoRoot:  dir,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertThenGetRoundTrips(t *testing.T) {
	store := openTestStore(t)
	task := &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "first task", Notes: "n", Accept: "a"}
	if err := store.UpsertTicket(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetTicket("t-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "first task" || got.Status != tix.StatusPending {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetTicket("missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestListTicketsFilteredByStatus(t *testing.T) {
	store := openTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "a"})
	mustUpsert(t, store, &tix.Ticket{ID: "t-2", Type: tix.TypeTask, Status: tix.StatusDone, Name: "b"})

	pending := tix.StatusPending
	tasks, err := store.ListTicketsFiltered(Filter{Type: tix.TypeTask, Status: &pending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-1" {
		t.Fatalf("unexpected filtered list: %+v", tasks)
	}
}

func TestAcceptTombstoneResolvesTicket(t *testing.T) {
	store := openTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusDone, Name: "done task", DoneAt: "abc123"})

	if err := store.AddTombstone("t-1", "abc123", "looks good", "done task", true); err != nil {
		t.Fatalf("add tombstone: %v", err)
	}

	got, err := store.GetTicket("t-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tix.StatusAccepted {
		t.Fatalf("status = %v, want accepted", got.Status)
	}

	tombstones, err := store.ListTombstones()
	if err != nil {
		t.Fatalf("list tombstones: %v", err)
	}
	if len(tombstones) != 1 || !tombstones[0].IsAccept {
		t.Fatalf("unexpected tombstones: %+v", tombstones)
	}
}

func TestValidateFlagsBrokenDependency(t *testing.T) {
	store := openTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "needs ghost", Deps: []string{"t-ghost"}})

	result, err := store.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid due to broken dependency")
	}
}

func TestValidateFlagsDependencyCycle(t *testing.T) {
	store := openTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "a", Deps: []string{"t-2"}})
	mustUpsert(t, store, &tix.Ticket{ID: "t-2", Type: tix.TypeTask, Status: tix.StatusPending, Name: "b", Deps: []string{"t-1"}})

	result, err := store.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid due to dependency cycle")
	}
}

func TestDeleteTicketMarksDeleted(t *testing.T) {
	store := openTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "throwaway"})

	if err := store.DeleteTicket("t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.GetTicket("t-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tix.StatusDeleted {
		t.Fatalf("status = %v, want deleted", got.Status)
	}
}

func mustUpsert(t *testing.T, store *Store, tk *tix.Ticket) {
	t.Helper()
	if err := store.UpsertTicket(tk); err != nil {
		t.Fatalf("upsert %s: %v", tk.ID, err)
	}
}
