package stage

import (
	"testing"

	"github.com/ralphdev/tix/internal/tix"
)

// TestTransitiveDependentCountCountsWholeChain exercises a three-deep
// dependency chain (t3 -> t2 -> t1 -> t0) to confirm the critical-path
// count follows the whole downstream fan-out rather than only direct
// dependents.
func TestTransitiveDependentCountCountsWholeChain(t *testing.T) {
	reverseDeps := map[string][]string{
		"t0": {"t1"},
		"t1": {"t2"},
		"t2": {"t3"},
	}
	if got := transitiveDependentCount("t0", reverseDeps); got != 3 {
		t.Fatalf("transitiveDependentCount(t0) = %d, want 3", got)
	}
	if got := transitiveDependentCount("t2", reverseDeps); got != 1 {
		t.Fatalf("transitiveDependentCount(t2) = %d, want 1", got)
	}
	if got := transitiveDependentCount("t3", reverseDeps); got != 0 {
		t.Fatalf("transitiveDependentCount(t3) = %d, want 0", got)
	}
}

// TestPrioritizeTicketsRewardsCriticalPath checks that a task on the
// longest transitive dependency chain is scored high even though it has
// only one direct dependent, matching §4.9.2's "on the critical path"
// carve-out.
func TestPrioritizeTicketsRewardsCriticalPath(t *testing.T) {
	pending := []tix.Ticket{
		{ID: "root", Name: "root task", Notes: "short"},
		{ID: "mid", Name: "mid task", Notes: "short", Deps: []string{"root"}},
		{ID: "leaf", Name: "leaf task", Notes: "short", Deps: []string{"mid"}},
	}
	lines, err := prioritizeTickets(pending)
	if err != nil {
		t.Fatalf("prioritizeTickets: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected a priority line per pending task, got %d", len(lines))
	}

	priorities := map[string]tix.Priority{}
	for _, line := range lines {
		ev, err := tix.ParseEventLine(line)
		if err != nil {
			t.Fatalf("parse event: %v", err)
		}
		id, _ := ev.Fields["id"].(string)
		token, _ := ev.Fields["priority"].(string)
		code, ok := tix.PriorityFromToken(token)
		if !ok {
			t.Fatalf("unrecognized priority token %q", token)
		}
		priorities[id] = code
	}
	if priorities["root"] != tix.PriorityHigh {
		t.Fatalf("root priority = %v, want High (head of the critical path)", priorities["root"])
	}
	if priorities["leaf"] == tix.PriorityHigh {
		t.Fatalf("leaf priority = %v, want something other than High (no dependents)", priorities["leaf"])
	}
}
