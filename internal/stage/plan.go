package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// planReply is the structured JSON the agent returns for the initial
// task-generation pass (§6.3 `plan`).
type planReply struct {
	Tasks []taskProposal `json:"tasks"`
}

// Plan runs the PLAN entry point: it asks the agent to break a spec
// file into an initial set of tasks, then folds in the shared
// prioritization pass (§6.3 "Run only the PLAN entry (initial task
// generation + prioritize)"). Unlike the other stage executors it
// doesn't branch on store state — it always has work while a spec
// path is given.
func Plan(ctx context.Context, d *Deps, specPath string) (Result, error) {
	specText, err := os.ReadFile(specPath)
	if err != nil {
		return Result{}, fmt.Errorf("plan: read spec: %w", err)
	}

	prompt := planPrompt(specPath, string(specText))
	out, err := d.runAgent(ctx, prompt, ".")
	if err != nil {
		return Result{}, err
	}
	reply, err := parsePlanReply(out.FinalEvent)
	if err != nil || reply == nil || len(reply.Tasks) == 0 {
		return Result{Outcome: Failure, Metrics: out.Metrics}, nil
	}

	var lines [][]byte
	var created []tix.Ticket
	for _, tp := range reply.Tasks {
		if !validTaskProposal(&tp) {
			continue
		}
		id, err := tix.NewID(tix.TypeTask)
		if err != nil {
			return Result{}, err
		}
		t := tix.Ticket{
			ID:     id,
			Type:   tix.TypeTask,
			Status: tix.StatusPending,
			Spec:   specPath,
			Name:   tp.Name,
			Notes:  tp.Notes,
			Accept: tp.Accept,
		}
		line, err := tix.EncodeTicketEvent(&t)
		if err != nil {
			return Result{}, err
		}
		lines = append(lines, line)
		created = append(created, t)
	}
	if len(lines) == 0 {
		return Result{Outcome: Failure, Metrics: out.Metrics}, nil
	}

	// Prioritize normally reads pending tasks straight from the store, but
	// these tasks haven't been committed yet (the caller applies NewLines),
	// so fold the freshly generated batch in here rather than running the
	// pass against stale state that doesn't include its own output.
	existingStatus := tix.StatusPending
	existing, err := d.Store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, Status: &existingStatus})
	if err != nil {
		return Result{}, err
	}
	prioritized, err := prioritizeTickets(append(existing, created...))
	if err != nil {
		return Result{}, err
	}
	lines = append(lines, prioritized...)

	return Result{Outcome: Success, NewLines: lines, Metrics: out.Metrics}, nil
}

func planPrompt(specPath, specText string) string {
	return fmt.Sprintf(
		"%s\n\nBreak the specification at %s into an initial set of implementation tasks.\n\n%s\n\nReturn JSON: {tasks: [{name, notes, accept}]}.",
		stageHeader("plan"), specPath, specText,
	)
}

func parsePlanReply(final map[string]any) (*planReply, error) {
	if final == nil {
		return nil, fmt.Errorf("plan: no done event")
	}
	result, _ := final["result"].(map[string]any)
	if result == nil {
		result = final
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var reply planReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
