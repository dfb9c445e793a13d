package stage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// decomposeReply is the structured JSON the agent returns for a killed
// task (§4.8 DECOMPOSE).
type decomposeReply struct {
	Subtasks []taskProposal `json:"subtasks"`
}

// Decompose breaks down the most recently killed ticket into smaller
// subtasks (§4.8).
func Decompose(ctx context.Context, d *Deps) (Result, error) {
	killed, err := mostRecentKilled(d.Store)
	if err != nil {
		return Result{}, err
	}
	if killed == nil {
		return Result{Outcome: Skip}, nil
	}

	depth := decompositionDepth(d.Store, *killed)
	if depth >= d.Cfg.MaxDecomposeDepth {
		id, err := tix.NewID(tix.TypeIssue)
		if err != nil {
			return Result{}, err
		}
		escalation := &tix.Ticket{
			ID:       id,
			Type:     tix.TypeIssue,
			Status:   tix.StatusPending,
			Priority: tix.PriorityHigh,
			Name:     "human intervention needed: " + killed.Name,
			Notes:    fmt.Sprintf("task %s was killed and has reached the maximum decomposition depth (%d); it requires manual review: %s", killed.ID, d.Cfg.MaxDecomposeDepth, killed.KillReason),
		}
		line, err := tix.EncodeTicketEvent(escalation)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: Failure, NewLines: [][]byte{line}}, nil
	}

	headTail := sampleKillLog(killed.KillLog, 50, 100)
	prompt := decomposePrompt(*killed, headTail)

	out, err := d.runAgent(ctx, prompt, ".")
	if err != nil {
		return Result{}, err
	}
	reply, err := parseDecomposeReply(out.FinalEvent)
	if err != nil || reply == nil || len(reply.Subtasks) < 2 || len(reply.Subtasks) > 5 {
		return Result{Outcome: Failure, Metrics: out.Metrics}, nil
	}

	var lines [][]byte
	for _, sub := range reply.Subtasks {
		if !validTaskProposal(&sub) {
			continue
		}
		id, err := tix.NewID(tix.TypeTask)
		if err != nil {
			return Result{}, err
		}
		t := &tix.Ticket{
			ID:       id,
			Type:     tix.TypeTask,
			Status:   tix.StatusPending,
			Name:     sub.Name,
			Notes:    sub.Notes,
			Accept:   sub.Accept,
			Parent:   killed.ID,
			Priority: killed.Priority,
		}
		line, err := tix.EncodeTicketEvent(t)
		if err != nil {
			return Result{}, err
		}
		lines = append(lines, line)
	}
	if len(lines) < 2 {
		return Result{Outcome: Failure, Metrics: out.Metrics}, nil
	}

	deleteLine, err := tix.EncodeDeleteEvent(killed.ID, time.Now().Unix())
	if err != nil {
		return Result{}, err
	}
	lines = append(lines, deleteLine)

	return Result{Outcome: Success, NewLines: lines, Metrics: out.Metrics}, nil
}

func mostRecentKilled(store *planstore.Store) (*tix.Ticket, error) {
	anyKillReason := ""
	all, err := store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask, KillReason: &anyKillReason})
	if err != nil {
		return nil, err
	}
	var latest *tix.Ticket
	for i := range all {
		t := &all[i]
		if latest == nil || t.UpdatedAt > latest.UpdatedAt {
			latest = t
		}
	}
	return latest, nil
}

// decompositionDepth walks the parent chain to measure how many times
// this lineage has already been split (§4.8 DECOMPOSE step 2).
func decompositionDepth(store *planstore.Store, t tix.Ticket) int {
	depth := 0
	cur := t
	for cur.Parent != "" {
		parent, err := store.GetTicket(cur.Parent)
		if err != nil {
			break
		}
		depth++
		cur = *parent
	}
	return depth
}

// sampleKillLog reads only the head and tail of the kill log, never the
// full file — its verbosity is what caused the kill (§4.8 DECOMPOSE
// step 3).
func sampleKillLog(path string, headLines, tailLines int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}

	var head, tail []string
	if len(all) <= headLines+tailLines {
		head = all
	} else {
		head = all[:headLines]
		tail = all[len(all)-tailLines:]
	}

	var b bytes.Buffer
	for _, l := range head {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if len(tail) > 0 {
		b.WriteString("... (truncated) ...\n")
		for _, l := range tail {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func decomposePrompt(t tix.Ticket, killLogSample string) string {
	return fmt.Sprintf(
		"%s\n\nTask %s (%s) was killed: %s\n\nKill log (head+tail only):\n%s\n\nBreak it into 2-5 smaller subtasks. Return JSON: {subtasks: [{name, notes, accept}]}.",
		stageHeader("decompose"), t.ID, t.Name, t.KillReason, killLogSample,
	)
}

func parseDecomposeReply(final map[string]any) (*decomposeReply, error) {
	if final == nil {
		return nil, fmt.Errorf("decompose: no done event")
	}
	result, _ := final["result"].(map[string]any)
	if result == nil {
		result = final
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var reply decomposeReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
