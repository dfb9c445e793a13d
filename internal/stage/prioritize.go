package stage

import (
	"strings"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// Prioritize re-scores pending tasks without an explicit priority
// (§4.9.2). Called by VERIFY and the `task prioritize` command; the plan
// entry point runs the same scoring through prioritizeTickets.
func Prioritize(store *planstore.Store) ([][]byte, error) {
	pendingStatus := tix.StatusPending
	pending, err := store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, Status: &pendingStatus})
	if err != nil {
		return nil, err
	}
	return prioritizeTickets(pending)
}

// prioritizeTickets holds the scoring logic itself, taking the pending
// task set directly so callers that generate tasks in the same pass
// (PLAN) can fold them in before they've been committed to the store.
func prioritizeTickets(pending []tix.Ticket) ([][]byte, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	reverseDeps := map[string][]string{}
	for _, t := range pending {
		for _, dep := range t.Deps {
			reverseDeps[dep] = append(reverseDeps[dep], t.ID)
		}
	}

	dependents := map[string]int{}
	for _, t := range pending {
		dependents[t.ID] = transitiveDependentCount(t.ID, reverseDeps)
	}
	maxDependents := 0
	for _, c := range dependents {
		if c > maxDependents {
			maxDependents = c
		}
	}

	var lines [][]byte
	for _, t := range pending {
		if t.Priority != tix.PriorityNone {
			continue // explicit priorities are preserved
		}
		complexity := estimateComplexity(t.Name, t.Notes)
		dependentCount := dependents[t.ID]
		onCriticalPath := maxDependents > 0 && dependentCount == maxDependents

		var priority tix.Priority
		switch {
		case (complexity == "small" && dependentCount >= 2) || onCriticalPath:
			priority = tix.PriorityHigh
		case isCleanup(t.Name):
			priority = tix.PriorityLow
		default:
			priority = tix.PriorityMedium
		}

		updated := t
		updated.Priority = priority
		line, err := tix.EncodeTicketEvent(&updated)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// transitiveDependentCount walks reverseDeps breadth-first from id,
// counting every task that depends on it directly or through a chain of
// other pending tasks (§4.9.2 wants the whole downstream fan-out on the
// critical path, not just immediate blockers).
func transitiveDependentCount(id string, reverseDeps map[string][]string) int {
	seen := map[string]bool{}
	queue := append([]string{}, reverseDeps[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, reverseDeps[next]...)
	}
	return len(seen)
}

// estimateComplexity heuristically sizes a task from its name+notes
// length, following §4.9.2's "estimate complexity from name+notes
// length/keyword heuristics".
func estimateComplexity(name, notes string) string {
	length := len(name) + len(notes)
	lower := strings.ToLower(name + " " + notes)
	switch {
	case strings.Contains(lower, "rewrite") || strings.Contains(lower, "migrate") || strings.Contains(lower, "redesign") || length > 600:
		return "large"
	case length > 200:
		return "medium"
	default:
		return "small"
	}
}

func isCleanup(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range []string{"cleanup", "clean up", "docs", "documentation", "nice to have", "nice-to-have", "polish"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
