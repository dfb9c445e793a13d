// Package orchestrator implements the Construct Orchestrator (§4.9):
// the state machine that drives INVESTIGATE, BUILD, VERIFY, and
// DECOMPOSE to completion over one spec. Grounded on Factory's own
// orchestrator.go Run/runCycle loop — a ticker-driven cycle function
// that reloads state, dispatches to per-status stage processors, and
// persists — generalized here from Factory's nine ticket statuses down
// to the spec's five-state table, and from per-ticket goroutine fan-out
// to the stage executors' own internal fork/join.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ralphdev/tix/internal/config"
	contextmonitor "github.com/ralphdev/tix/internal/context"
	"github.com/ralphdev/tix/internal/gitutil"
	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/rejection"
	"github.com/ralphdev/tix/internal/stage"
	"github.com/ralphdev/tix/internal/tix"
)

// State is one of the five stages the state machine can be in (§4.9.1).
type State string

const (
	StateInvestigate State = "INVESTIGATE"
	StateBuild       State = "BUILD"
	StateVerify      State = "VERIFY"
	StateDecompose   State = "DECOMPOSE"
	StateComplete    State = "COMPLETE"
)

// Status is the terminal outcome of a construct run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusBreaker  Status = "breaker"
	StatusCancelled Status = "cancelled"
)

// Orchestrator drives the five-state loop over a single spec.
type Orchestrator struct {
	store   *planstore.Store
	repo    *gitutil.Repo
	cfg     config.Config
	metrics *config.Metrics
	log     *slog.Logger
	monitor *contextmonitor.Monitor
	deps    *stage.Deps

	consecutiveFailures int
	iterations          int
	startedAt           time.Time
}

// New constructs an Orchestrator wired to the given store and config.
func New(store *planstore.Store, repo *gitutil.Repo, cfg config.Config, log *slog.Logger, deps *stage.Deps) *Orchestrator {
	monitor := contextmonitor.NewMonitor(cfg.ContextWindow, contextmonitor.Thresholds{
		WarnPct:    cfg.ContextWarnPct,
		CompactPct: cfg.ContextCompactPct,
		KillPct:    cfg.ContextKillPct,
	}, log)
	deps.Store = store
	deps.Repo = repo
	deps.Cfg = cfg
	deps.Monitor = monitor
	deps.Log = log

	return &Orchestrator{
		store:   store,
		repo:    repo,
		cfg:     cfg,
		metrics: config.NewMetrics(),
		log:     log,
		monitor: monitor,
		deps:    deps,
	}
}

// RunResult is the final JSON status document (§7 "a final JSON status
// document describing why").
type RunResult struct {
	Status       Status `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Iterations   int    `json:"iterations"`
	TasksDone    int    `json:"tasks_completed"`
	CostUSD      float64 `json:"cost_usd"`
	DurationSecs float64 `json:"duration_seconds"`
}

// Run drives the state machine until COMPLETE or a breaker fires
// (§4.9.1, §6.3 "construct").
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	o.startedAt = time.Now()

	for {
		select {
		case <-ctx.Done():
			return o.finish(StatusCancelled, "user interrupt"), nil
		default:
		}

		o.iterations++
		o.metrics.IterationsDone++
		if o.cfg.MaxIterations > 0 && o.iterations > o.cfg.MaxIterations {
			return o.finish(StatusBreaker, "max_iterations exceeded"), nil
		}
		if o.cfg.ExceedsCostCap(o.metrics) {
			return o.finish(StatusBreaker, "session_cost_cap exceeded"), nil
		}

		next, err := o.nextState()
		if err != nil {
			return nil, err
		}

		if next == StateComplete {
			return o.complete(ctx)
		}

		result, err := o.runStage(ctx, next)
		if err != nil {
			return nil, err
		}

		o.metrics.CostUSD += result.Metrics.CostUSD
		o.metrics.TokensIn += result.Metrics.TokensIn
		o.metrics.TokensOut += result.Metrics.TokensOut
		if result.KillReason != "" {
			o.metrics.RecordKill(result.KillReason)
		}

		if len(result.NewLines) > 0 {
			if err := o.store.AppendBatch(result.NewLines); err != nil {
				return nil, err
			}
		}

		switch result.Outcome {
		case stage.Success:
			o.consecutiveFailures = 0
		case stage.Failure:
			o.consecutiveFailures++
			if o.consecutiveFailures >= o.cfg.MaxFailures {
				return o.finish(StatusBreaker, fmt.Sprintf("%d consecutive failures", o.consecutiveFailures)), nil
			}
		case stage.Skip:
			// no-op: the store condition table will route elsewhere on
			// the next iteration.
		}

		if next == StateVerify && result.Outcome == stage.Success {
			issueLines, err := rejection.Analyze(o.store, o.cfg.RejectionThreshold)
			if err != nil {
				return nil, err
			}
			if len(issueLines) > 0 {
				if err := o.store.AppendBatch(issueLines); err != nil {
					return nil, err
				}
			}
		}
	}
}

// nextState implements the store-condition lookup table verbatim
// (§4.9.1).
func (o *Orchestrator) nextState() (State, error) {
	anyKillReason := ""
	killed, err := o.store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, KillReason: &anyKillReason})
	if err != nil {
		return "", err
	}
	if len(killed) > 0 {
		return StateDecompose, nil
	}

	pendingStatus := tix.StatusPending
	pendingIssues, err := o.store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeIssue, Status: &pendingStatus})
	if err != nil {
		return "", err
	}
	if len(pendingIssues) > 0 {
		return StateInvestigate, nil
	}

	maxStatus := tix.StatusAccepted
	pendingOrDoneTasks, err := o.store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, MaxStatus: &maxStatus})
	if err != nil {
		return "", err
	}
	var pendingTasks, doneTasks []tix.Ticket
	for _, t := range pendingOrDoneTasks {
		switch t.Status {
		case tix.StatusPending:
			pendingTasks = append(pendingTasks, t)
		case tix.StatusDone:
			doneTasks = append(doneTasks, t)
		}
	}

	for _, t := range pendingTasks {
		if depsSatisfied(o.store, t.Deps) {
			return StateBuild, nil
		}
	}
	if len(doneTasks) > 0 {
		return StateVerify, nil
	}
	if len(pendingTasks) == 0 && len(pendingIssues) == 0 && len(doneTasks) == 0 {
		return StateComplete, nil
	}
	// Pending tasks exist but none are ready and none are done: nothing
	// productive to do except let VERIFY's prioritize pass re-examine,
	// so route to VERIFY to avoid spinning.
	return StateVerify, nil
}

func depsSatisfied(store *planstore.Store, deps []string) bool {
	for _, id := range deps {
		dep, err := store.GetTicket(id)
		if err != nil || dep.Status != tix.StatusAccepted {
			return false
		}
	}
	return true
}

func (o *Orchestrator) runStage(ctx context.Context, s State) (stage.Result, error) {
	switch s {
	case StateInvestigate:
		return stage.Investigate(ctx, o.deps)
	case StateBuild:
		return stage.Build(ctx, o.deps)
	case StateVerify:
		return stage.Verify(ctx, o.deps)
	case StateDecompose:
		return stage.Decompose(ctx, o.deps)
	default:
		return stage.Result{}, fmt.Errorf("orchestrator: unknown state %q", s)
	}
}

// complete runs validate, and on a clean result commits with the
// configured prefix (§4.9.1 "On COMPLETE the orchestrator runs
// validate...").
func (o *Orchestrator) complete(ctx context.Context) (*RunResult, error) {
	result, err := o.store.Validate()
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return o.finish(StatusBreaker, fmt.Sprintf("validate failed: %v", result.Errors)), nil
	}

	acceptedStatus := tix.StatusAccepted
	accepted, err := o.store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, Status: &acceptedStatus})
	if err != nil {
		return nil, err
	}

	spec := ""
	if len(accepted) > 0 {
		spec = accepted[0].Spec
	}

	duration := time.Since(o.startedAt)
	msg := fmt.Sprintf("%s complete %s\n\ntasks: %d\nduration: %s\ncost: $%.2f",
		o.cfg.CommitPrefix, spec, len(accepted), duration.Round(time.Second), o.metrics.CostUSD)
	if err := o.repo.Commit(msg); err != nil {
		o.log.Warn("complete: commit failed", "err", err)
	}

	return o.finish(StatusComplete, ""), nil
}

func (o *Orchestrator) finish(status Status, reason string) *RunResult {
	acceptedStatus := tix.StatusAccepted
	accepted, _ := o.store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, Status: &acceptedStatus})
	return &RunResult{
		Status:       status,
		Reason:       reason,
		Iterations:   o.iterations,
		TasksDone:    len(accepted),
		CostUSD:      o.metrics.CostUSD,
		DurationSecs: time.Since(o.startedAt).Seconds(),
	}
}
