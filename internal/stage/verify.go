package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ralphdev/tix/internal/agent"
	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// verifyReply is the structured JSON the agent returns per done task
// (§4.8 VERIFY).
type verifyReply struct {
	TaskID  string   `json:"task_id"`
	Verdict string   `json:"verdict"` // accept | reject
	Reason  string   `json:"reason"`
	Gaps    []string `json:"gaps,omitempty"`
}

type specEvalReply struct {
	Tasks  []taskProposal `json:"tasks,omitempty"`
	Issues []taskProposal `json:"issues,omitempty"`
}

// Verify accepts or rejects done tasks and gathers spec gaps (§4.8).
func Verify(ctx context.Context, d *Deps) (Result, error) {
	doneStatus := tix.StatusDone
	doneTasks, err := d.Store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, Status: &doneStatus})
	if err != nil {
		return Result{}, err
	}
	if len(doneTasks) == 0 {
		pendingStatus := tix.StatusPending
		pending, err := d.Store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, Status: &pendingStatus})
		if err != nil {
			return Result{}, err
		}
		if len(pending) == 0 {
			return Result{Outcome: Skip, NextHint: "complete"}, nil
		}
		return Result{Outcome: Skip}, nil
	}

	type verifyOutcome struct {
		task    tix.Ticket
		reply   *verifyReply
		metrics agent.Metrics
		err     error
	}

	outcomes := bounded(doneTasks, d.Cfg.MaxParallelSubagents, func(task tix.Ticket) verifyOutcome {
		out, err := d.runAgent(ctx, verifyPrompt(task), ".")
		if err != nil {
			return verifyOutcome{task: task, err: err}
		}
		reply, err := parseVerifyReply(out.FinalEvent)
		return verifyOutcome{task: task, reply: reply, metrics: out.Metrics, err: err}
	})

	var metrics []agent.Metrics
	var lines [][]byte
	var allGaps []string
	appended := false
	for _, o := range outcomes {
		metrics = append(metrics, o.metrics)
		if o.err != nil || o.reply == nil {
			d.Log.Warn("verify: agent reply unusable", "task", o.task.ID, "err", o.err)
			continue
		}
		allGaps = append(allGaps, o.reply.Gaps...)
		switch o.reply.Verdict {
		case "accept":
			line, err := tix.EncodeAcceptEvent(o.task.ID, o.task.DoneAt, o.reply.Reason, "verify", time.Now().Unix())
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, line)
			appended = true
		case "reject":
			rejectLine, err := tix.EncodeRejectEvent(o.task.ID, o.task.DoneAt, o.reply.Reason, "verify", time.Now().Unix())
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, rejectLine)
			reopened := o.task
			reopened.Status = tix.StatusPending
			reopenLine, err := tix.EncodeTicketEvent(&reopened)
			if err != nil {
				return Result{}, err
			}
			lines = append(lines, reopenLine)
			appended = true
		}
	}

	if len(allGaps) > 0 {
		out, err := d.runAgent(ctx, specEvalPrompt(allGaps), ".")
		if err == nil {
			metrics = append(metrics, out.Metrics)
			if eval, err := parseSpecEvalReply(out.FinalEvent); err == nil && eval != nil {
				for _, tp := range eval.Tasks {
					id, err := tix.NewID(tix.TypeTask)
					if err != nil {
						return Result{}, err
					}
					t := &tix.Ticket{ID: id, Type: tix.TypeTask, Status: tix.StatusPending, Name: tp.Name, Notes: tp.Notes, Accept: tp.Accept}
					line, err := tix.EncodeTicketEvent(t)
					if err != nil {
						return Result{}, err
					}
					lines = append(lines, line)
					appended = true
				}
				for _, ip := range eval.Issues {
					id, err := tix.NewID(tix.TypeIssue)
					if err != nil {
						return Result{}, err
					}
					t := &tix.Ticket{ID: id, Type: tix.TypeIssue, Status: tix.StatusPending, Name: ip.Name, Notes: ip.Notes}
					line, err := tix.EncodeTicketEvent(t)
					if err != nil {
						return Result{}, err
					}
					lines = append(lines, line)
					appended = true
				}
			}
		}
	}

	prioritizeLines, err := Prioritize(d.Store)
	if err != nil {
		return Result{}, err
	}
	if len(prioritizeLines) > 0 {
		lines = append(lines, prioritizeLines...)
		appended = true
	}

	if !appended {
		return Result{Outcome: Skip, Metrics: sumMetrics(metrics...)}, nil
	}
	return Result{Outcome: Success, NewLines: lines, Metrics: sumMetrics(metrics...)}, nil
}

func verifyPrompt(t tix.Ticket) string {
	return fmt.Sprintf(
		"%s\n\nVerify task %s: %s (done at %s).\n\nAcceptance: %s\n\nReturn JSON: {task_id, verdict (accept|reject), reason, gaps?: [string]}.",
		stageHeader("verify"), t.ID, t.Name, t.DoneAt, t.Accept,
	)
}

func specEvalPrompt(gaps []string) string {
	raw, _ := json.Marshal(gaps)
	return fmt.Sprintf("Read the spec and current code in light of these gaps: %s\n\nReturn JSON: {tasks?: [...], issues?: [...]}.", string(raw))
}

func parseVerifyReply(final map[string]any) (*verifyReply, error) {
	if final == nil {
		return nil, fmt.Errorf("verify: no done event")
	}
	result, _ := final["result"].(map[string]any)
	if result == nil {
		result = final
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var reply verifyReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func parseSpecEvalReply(final map[string]any) (*specEvalReply, error) {
	if final == nil {
		return nil, nil
	}
	result, _ := final["result"].(map[string]any)
	if result == nil {
		result = final
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var reply specEvalReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
