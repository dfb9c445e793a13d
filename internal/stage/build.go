package stage

import (
	"context"
	"fmt"
	"time"

	contextmonitor "github.com/ralphdev/tix/internal/context"
	"github.com/ralphdev/tix/internal/tix"
)

// Build executes at most one ready task per invocation (§4.8 BUILD).
func Build(ctx context.Context, d *Deps) (Result, error) {
	ready, pending, err := readySet(d.Store)
	if err != nil {
		return Result{}, err
	}
	if len(ready) == 0 {
		if len(pending) > 0 {
			return Result{Outcome: Skip, NextHint: "pending tasks have unresolved deps"}, nil
		}
		return Result{Outcome: Skip}, nil
	}

	task := ready[0]
	prompt := buildPrompt(task)

	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(d.Cfg.StageTimeoutMS)*time.Millisecond)
	defer cancel()

	out, err := d.runAgent(stageCtx, prompt, ".")
	if err != nil {
		return Result{}, err
	}

	resp := d.Monitor.Respond(out.Metrics.TokensIn+out.Metrics.TokensOut, out.TimedOut)
	if resp.Tier == contextmonitor.TierCompact {
		// Best-effort: summarize what the agent reported so far and
		// re-measure against the warn threshold (§4.7 "resume, or
		// escalate to Kill"). There is no live agent session to hand the
		// summary back to, so "resume" here means the task proceeds to
		// done on this same reply.
		summary := contextmonitor.Compact(contextmonitor.CompactionInput{
			TaskName:   task.Name,
			TaskNotes:  task.Notes,
			TaskAccept: task.Accept,
		})
		switch d.Monitor.PostCompactionTier(contextmonitor.EstimateTokens(summary)) {
		case contextmonitor.TierKill:
			resp = contextmonitor.Response{Tier: contextmonitor.TierKill, KillReason: "context_limit"}
		default:
			resp = contextmonitor.Response{Tier: contextmonitor.TierNormal}
		}
	}
	if resp.Tier == contextmonitor.TierKill {
		killed := task
		killed.KillReason = resp.KillReason
		killed.KillLog = out.EventsLogPath
		line, err := tix.EncodeTicketEvent(&killed)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: Failure, NewLines: [][]byte{line}, Metrics: out.Metrics, KillReason: resp.KillReason}, nil
	}

	head, err := d.Repo.HeadCommit()
	if err != nil {
		head = ""
	}
	done := task
	done.Status = tix.StatusDone
	done.DoneAt = head
	done.Author = d.Cfg.Model
	done.CompletedAt = time.Now().Unix()
	done.Meta = map[string]tix.MetaValue{
		"cost":       tix.NumMeta(out.Metrics.CostUSD),
		"tokens_in":  tix.NumMeta(float64(out.Metrics.TokensIn)),
		"tokens_out": tix.NumMeta(float64(out.Metrics.TokensOut)),
	}
	line, err := tix.EncodeTicketEvent(&done)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Success, NewLines: [][]byte{line}, Metrics: out.Metrics}, nil
}

func buildPrompt(t tix.Ticket) string {
	return fmt.Sprintf(
		"%s\n\nBuild task %s: %s\n\nNotes: %s\n\nAcceptance: %s\n\nFollow project rules and report via the done event when finished.",
		stageHeader("build"), t.ID, t.Name, t.Notes, t.Accept,
	)
}
