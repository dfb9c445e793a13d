package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ralphdev/tix/internal/agent"
	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// investigateReply is the structured JSON the agent returns per issue
// (§4.8 INVESTIGATE).
type investigateReply struct {
	IssueID          string `json:"issue_id"`
	RootCause        string `json:"root_cause"`
	Resolution       string `json:"resolution"` // task | trivial | out_of_scope
	Task             *taskProposal `json:"task,omitempty"`
	TrivialFix       string `json:"trivial_fix,omitempty"`
	OutOfScopeReason string `json:"out_of_scope_reason,omitempty"`
	Research         string `json:"research"`
}

type taskProposal struct {
	Name   string `json:"name"`
	Notes  string `json:"notes"`
	Accept string `json:"accept"`
}

// Investigate converts pending issues into concrete tasks (§4.8).
func Investigate(ctx context.Context, d *Deps) (Result, error) {
	pendingStatus := tix.StatusPending
	issues, err := d.Store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeIssue, Status: &pendingStatus})
	if err != nil {
		return Result{}, err
	}
	if len(issues) == 0 {
		return Result{Outcome: Skip}, nil
	}

	type issueOutcome struct {
		issue   tix.Ticket
		reply   *investigateReply
		metrics agent.Metrics
		err     error
	}

	outcomes := bounded(issues, d.Cfg.MaxParallelSubagents, func(issue tix.Ticket) issueOutcome {
		prompt := investigatePrompt(issue)
		out, err := d.runAgent(ctx, prompt, ".")
		if err != nil {
			return issueOutcome{issue: issue, err: err}
		}
		reply, err := parseInvestigateReply(out.FinalEvent)
		return issueOutcome{issue: issue, reply: reply, metrics: out.Metrics, err: err}
	})

	var metrics []agent.Metrics
	var lines [][]byte
	processed := 0
	for _, o := range outcomes {
		metrics = append(metrics, o.metrics)
		if o.err != nil || o.reply == nil {
			d.Log.Warn("investigate: agent reply unusable", "issue", o.issue.ID, "err", o.err)
			continue
		}
		processed++
		switch o.reply.Resolution {
		case "task":
			if validTaskProposal(o.reply.Task) {
				id, err := tix.NewID(tix.TypeTask)
				if err != nil {
					return Result{}, err
				}
				t := &tix.Ticket{
					ID:          id,
					Type:        tix.TypeTask,
					Status:      tix.StatusPending,
					Name:        o.reply.Task.Name,
					Notes:       o.reply.Task.Notes,
					Accept:      o.reply.Task.Accept,
					Priority:    o.issue.Priority,
					CreatedFrom: o.issue.ID,
				}
				line, err := tix.EncodeTicketEvent(t)
				if err != nil {
					return Result{}, err
				}
				lines = append(lines, line)
			} else {
				id, err := tix.NewID(tix.TypeIssue)
				if err != nil {
					return Result{}, err
				}
				followUp := &tix.Ticket{
					ID:       id,
					Type:     tix.TypeIssue,
					Status:   tix.StatusPending,
					Name:     "clarify: " + o.issue.Name,
					Notes:    "investigation returned an under-specified task proposal: " + o.reply.RootCause,
					Priority: o.issue.Priority,
				}
				line, err := tix.EncodeTicketEvent(followUp)
				if err != nil {
					return Result{}, err
				}
				lines = append(lines, line)
			}
			// The issue itself is now done; it carries no tombstone of
			// its own since it didn't reach a terminal accept/reject —
			// it was translated into the task (or follow-up issue) above.
			doneLine, err := tix.EncodeTicketEvent(&tix.Ticket{ID: o.issue.ID, Type: tix.TypeIssue, Status: tix.StatusDone, Name: o.issue.Name})
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, doneLine)
		case "trivial":
			id, err := tix.NewID(tix.TypeTask)
			if err != nil {
				return Result{}, err
			}
			t := &tix.Ticket{
				ID:          id,
				Type:        tix.TypeTask,
				Status:      tix.StatusPending,
				Name:        "trivial: " + o.issue.Name,
				Notes:       o.reply.TrivialFix,
				Priority:    o.issue.Priority,
				CreatedFrom: o.issue.ID,
			}
			line, err := tix.EncodeTicketEvent(t)
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, line)
			doneLine, err := tix.EncodeTicketEvent(&tix.Ticket{ID: o.issue.ID, Type: tix.TypeIssue, Status: tix.StatusDone, Name: o.issue.Name})
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, doneLine)
		case "out_of_scope":
			// out_of_scope is a legitimate terminal resolution, not a
			// failure — it closes with an accept tombstone carrying the
			// reason as its note.
			line, err := tix.EncodeAcceptEvent(o.issue.ID, "", o.reply.OutOfScopeReason, "investigate", time.Now().Unix())
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, line)
		}
	}

	if processed == 0 {
		return Result{Outcome: Skip, Metrics: sumMetrics(metrics...)}, nil
	}
	return Result{Outcome: Success, NewLines: lines, Metrics: sumMetrics(metrics...)}, nil
}

func validTaskProposal(t *taskProposal) bool {
	if t == nil {
		return false
	}
	if len(t.Notes) < 50 {
		return false
	}
	if strings.TrimSpace(t.Accept) == "" {
		return false
	}
	return true
}

func parseInvestigateReply(final map[string]any) (*investigateReply, error) {
	if final == nil {
		return nil, fmt.Errorf("investigate: no done event")
	}
	result, _ := final["result"].(map[string]any)
	if result == nil {
		result = final
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var reply investigateReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func investigatePrompt(issue tix.Ticket) string {
	return fmt.Sprintf(
		"%s\n\nInvestigate issue %s: %q\n\nNotes: %s\n\nReturn JSON: {issue_id, root_cause, resolution (task|trivial|out_of_scope), task?, trivial_fix?, out_of_scope_reason?, research}.",
		stageHeader("investigate"), issue.ID, issue.Name, issue.Notes,
	)
}
