// Package stage implements the four stage executors (§4.8): INVESTIGATE,
// BUILD, VERIFY, DECOMPOSE. Each is a pure function of the store at
// entry, returning an Outcome the orchestrator applies atomically.
// Grounded on Factory's orchestrator_prd.go stage-function shape
// (one function per pipeline stage, returning a result struct the
// caller applies) and on uesteibar-ralph's worker.Dispatcher
// active-map+semaphore pattern for the fork/join fan-out.
package stage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ralphdev/tix/internal/agent"
	"github.com/ralphdev/tix/internal/config"
	contextmonitor "github.com/ralphdev/tix/internal/context"
	"github.com/ralphdev/tix/internal/gitutil"
	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

var titleCaser = cases.Title(language.English)

// stageHeader renders the "## Investigate" / "## Build" style header each
// stage prompt opens with, title-casing the stage's lowercase name.
func stageHeader(stage string) string {
	return "## " + titleCaser.String(stage)
}

// Result mirrors §4.8: "{outcome, new_events, next_hint}". Metrics and
// KillReason ride along so the orchestrator can fold agent spend into
// its session totals and record breaker history (§4.5) without re-
// deriving them from the applied ticket events.
type Result struct {
	Outcome    Outcome
	NewLines   [][]byte
	NextHint   string
	Metrics    agent.Metrics
	KillReason string // non-empty when this stage killed a ticket
}

// Outcome is one of success, failure, skip (§4.8).
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
	Skip    Outcome = "skip"
)

// Deps bundles what every executor needs: the store for reads (writes
// happen only through the orchestrator applying NewLines), the agent
// invoker, context monitor, config, git repo, and logger.
type Deps struct {
	Store   *planstore.Store
	Repo    *gitutil.Repo
	Cfg     config.Config
	Monitor *contextmonitor.Monitor
	Log     *slog.Logger

	// AgentCommand/AgentArgs select the external agent binary; tests
	// substitute a stub via AgentRunner.
	AgentCommand string
	AgentArgs    []string
	AgentRunner  func(ctx context.Context, inv agent.Invocation) (*agent.Outcome, error)
	LogDir       string
}

func (d *Deps) runAgent(ctx context.Context, prompt, workDir string) (*agent.Outcome, error) {
	inv := agent.Invocation{
		Command: d.AgentCommand,
		Args:    d.AgentArgs,
		Prompt:  prompt,
		WorkDir: workDir,
		Timeout: time.Duration(d.Cfg.StageTimeoutMS) * time.Millisecond,
		LogDir:  d.LogDir,
	}
	if d.AgentRunner != nil {
		return d.AgentRunner(ctx, inv)
	}
	return agent.Run(ctx, inv)
}

// sortReady orders tasks by (priority desc, created_at asc, id asc) —
// §4.8 BUILD step 2, identical to the cache's own ListByType ordering.
func sortReady(tasks []tix.Ticket) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		if tasks[i].CreatedAt != tasks[j].CreatedAt {
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// readySet returns pending tasks whose deps are all accepted.
func readySet(store *planstore.Store) ([]tix.Ticket, []tix.Ticket, error) {
	pendingStatus := tix.StatusPending
	maxStatus := tix.StatusAccepted
	all, err := store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, MaxStatus: &maxStatus})
	if err != nil {
		return nil, nil, err
	}
	var pending []tix.Ticket
	for _, t := range all {
		if t.Status == pendingStatus {
			pending = append(pending, t)
		}
	}

	var ready []tix.Ticket
	for _, t := range pending {
		if depsAccepted(store, t.Deps) {
			ready = append(ready, t)
		}
	}
	sortReady(ready)
	return ready, pending, nil
}

func depsAccepted(store *planstore.Store, deps []string) bool {
	for _, id := range deps {
		dep, err := store.GetTicket(id)
		if err != nil || dep.Status != tix.StatusAccepted {
			return false
		}
	}
	return true
}

// sumMetrics folds a set of per-agent-call metrics into one total, for
// stages that fan out over several tickets in one invocation.
func sumMetrics(ms ...agent.Metrics) agent.Metrics {
	var total agent.Metrics
	for _, m := range ms {
		total.TokensIn += m.TokensIn
		total.TokensOut += m.TokensOut
		total.CostUSD += m.CostUSD
	}
	return total
}

// bounded runs fn once per item with at most max concurrent goroutines,
// collecting results in input order (§4.9's "subagent replies are
// collected then applied in insertion order").
func bounded[T any, R any](items []T, max int, fn func(T) R) []R {
	if max <= 0 {
		max = 1
	}
	results := make([]R, len(items))
	sem := make(chan struct{}, max)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(item)
		}(i, item)
	}
	wg.Wait()
	return results
}
