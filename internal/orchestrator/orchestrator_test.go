package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

func newTestStore(t *testing.T) *planstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := planstore.Open(planstore.Options{
		LogPath:   filepath.Join(dir, "plan.jsonl"),
		CachePath: filepath.Join(dir, "cache.db"),
		RepoRoot:  dir,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustUpsert(t *testing.T, store *planstore.Store, tk *tix.Ticket) {
	t.Helper()
	if err := store.UpsertTicket(tk); err != nil {
		t.Fatalf("upsert %s: %v", tk.ID, err)
	}
}

// TestNextStateEmptyStoreCompletes covers the §4.9.1 row: an empty
// store (no issues, tasks, or kills) routes to COMPLETE.
func TestNextStateEmptyStoreCompletes(t *testing.T) {
	store := newTestStore(t)
	o := &Orchestrator{store: store}

	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("state = %v, want COMPLETE", state)
	}
}

func TestNextStateKillReasonRoutesToDecompose(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "killed task", KillReason: "context_limit"})

	o := &Orchestrator{store: store}
	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	if state != StateDecompose {
		t.Fatalf("state = %v, want DECOMPOSE", state)
	}
}

func TestNextStatePendingIssueRoutesToInvestigate(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "i-1", Type: tix.TypeIssue, Status: tix.StatusPending, Name: "an issue"})

	o := &Orchestrator{store: store}
	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	if state != StateInvestigate {
		t.Fatalf("state = %v, want INVESTIGATE", state)
	}
}

func TestNextStateReadyTaskRoutesToBuild(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "no deps"})

	o := &Orchestrator{store: store}
	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	if state != StateBuild {
		t.Fatalf("state = %v, want BUILD", state)
	}
}

func TestNextStateBuildPicksAnyReadyTaskOverBlocked(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "blocked", Deps: []string{"t-0"}})
	mustUpsert(t, store, &tix.Ticket{ID: "t-0", Type: tix.TypeTask, Status: tix.StatusPending, Name: "blocker"})

	o := &Orchestrator{store: store}
	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	// t-0 has no deps so it's ready; BUILD still wins via t-0.
	if state != StateBuild {
		t.Fatalf("state = %v, want BUILD (via the unblocked dependency)", state)
	}
}

func TestNextStateAllBlockedRoutesToVerify(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusPending, Name: "blocked", Deps: []string{"missing-dep"}})

	o := &Orchestrator{store: store}
	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	if state != StateVerify {
		t.Fatalf("state = %v, want VERIFY (nothing productive to build)", state)
	}
}

func TestNextStateDoneTaskWithNothingReadyRoutesToVerify(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-1", Type: tix.TypeTask, Status: tix.StatusDone, Name: "built"})

	o := &Orchestrator{store: store}
	state, err := o.nextState()
	if err != nil {
		t.Fatalf("nextState: %v", err)
	}
	if state != StateVerify {
		t.Fatalf("state = %v, want VERIFY", state)
	}
}

func TestDepsSatisfiedRequiresAccepted(t *testing.T) {
	store := newTestStore(t)
	mustUpsert(t, store, &tix.Ticket{ID: "t-0", Type: tix.TypeTask, Status: tix.StatusDone, Name: "done but not accepted"})

	if depsSatisfied(store, []string{"t-0"}) {
		t.Fatal("expected deps unsatisfied: dependency is done, not accepted")
	}

	t0, err := store.GetTicket("t-0")
	if err != nil {
		t.Fatalf("get t-0: %v", err)
	}
	t0.Status = tix.StatusAccepted
	mustUpsert(t, store, t0)

	if !depsSatisfied(store, []string{"t-0"}) {
		t.Fatal("expected deps satisfied once dependency is accepted")
	}
}
