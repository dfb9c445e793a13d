// Package rejection implements the Rejection Analyzer (§4.9.3): after
// each VERIFY, it scans recent reject tombstones for repeated or
// shared failure patterns and raises issues that feed back into
// INVESTIGATE. Grounded on Factory's kanban.ComputeSystemHealth /
// isThrashing / countRework status-history-cycling detection,
// generalized here from status-cycle counting to tombstone-reason
// fingerprint counting.
package rejection

import (
	"fmt"
	"strings"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// fingerprint normalizes a ticket name + rejection reason for grouping,
// so near-identical names/errors accumulate together.
func fingerprint(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// errorSubstring extracts the most distinguishing token run from a
// rejection reason, used to detect shared failure causes across
// otherwise-unrelated tasks.
func errorSubstring(reason string) string {
	reason = strings.ToLower(reason)
	const maxLen = 80
	if len(reason) > maxLen {
		reason = reason[:maxLen]
	}
	return strings.TrimSpace(reason)
}

// Analyze scans tombstones and returns new issue event lines when a
// task accumulates >= threshold similar rejections, or when >=
// threshold distinct tasks fail with the same error substring
// (§4.9.3).
func Analyze(store *planstore.Store, threshold int) ([][]byte, error) {
	tombstones, err := store.ListTombstones()
	if err != nil {
		return nil, err
	}

	byTask := map[string][]tix.Tombstone{}
	byError := map[string]map[string]bool{}
	for _, ts := range tombstones {
		if ts.IsAccept {
			continue
		}
		task, err := store.GetTicket(ts.ID)
		if err != nil {
			continue // ticket may have been deleted/compacted since; skip stale tombstones
		}
		errKey := errorSubstring(ts.Reason)
		nameKey := fingerprint(task.Name) + "\x00" + errKey
		byTask[nameKey] = append(byTask[nameKey], ts)

		if errKey == "" {
			continue
		}
		if byError[errKey] == nil {
			byError[errKey] = map[string]bool{}
		}
		byError[errKey][ts.ID] = true
	}

	var lines [][]byte
	for _, rejections := range byTask {
		if len(rejections) < threshold {
			continue
		}
		latest := rejections[0] // tombstones are listed most recent first
		task, err := store.GetTicket(latest.ID)
		if err != nil {
			continue
		}
		id, err := tix.NewID(tix.TypeIssue)
		if err != nil {
			return nil, err
		}
		issue := &tix.Ticket{
			ID:       id,
			Type:     tix.TypeIssue,
			Status:   tix.StatusPending,
			Priority: tix.PriorityHigh,
			Name:     "REPEATED REJECTION: " + task.Name,
			Notes:    fmt.Sprintf("task %s (%s) has been rejected %d times with a recurring failure: %q", task.ID, task.Name, len(rejections), latest.Reason),
		}
		line, err := tix.EncodeTicketEvent(issue)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	for errKey, tasks := range byError {
		if len(tasks) < threshold {
			continue
		}
		taskNames := make([]string, 0, len(tasks))
		for id := range tasks {
			if t, err := store.GetTicket(id); err == nil {
				taskNames = append(taskNames, t.Name)
			}
		}
		id, err := tix.NewID(tix.TypeIssue)
		if err != nil {
			return nil, err
		}
		issue := &tix.Ticket{
			ID:       id,
			Type:     tix.TypeIssue,
			Status:   tix.StatusPending,
			Priority: tix.PriorityHigh,
			Name:     "COMMON FAILURE PATTERN: " + errKey,
			Notes:    fmt.Sprintf("%d distinct tasks failed with a shared error substring (%q): %s — investigate the common prerequisite.", len(tasks), errKey, strings.Join(taskNames, ", ")),
		}
		line, err := tix.EncodeTicketEvent(issue)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, nil
}
