// Package context implements the tiered context-pressure monitor
// (§4.7): warn, compact, and kill thresholds over the agent driver's
// cumulative token counts. There is no direct teacher equivalent for
// this tiered-response shape; its escalation ladder (log-only ->
// intervene -> terminate) is modeled on Factory's own timeout handling
// convention of escalating from a soft warning to a hard stage abort.
package context

import (
	"log/slog"
)

// Tier is the monitor's current pressure level.
type Tier int

const (
	TierNormal Tier = iota
	TierWarn
	TierCompact
	TierKill
)

func (t Tier) String() string {
	switch t {
	case TierWarn:
		return "warn"
	case TierCompact:
		return "compact"
	case TierKill:
		return "kill"
	default:
		return "normal"
	}
}

// Thresholds are the three percentage points from §4.5's config table.
type Thresholds struct {
	WarnPct    int
	CompactPct int
	KillPct    int
}

// Monitor tracks cumulative token usage against a context window budget.
type Monitor struct {
	windowTokens int
	thresholds   Thresholds
	log          *slog.Logger
}

// NewMonitor constructs a Monitor for the given window size.
func NewMonitor(windowTokens int, thresholds Thresholds, log *slog.Logger) *Monitor {
	return &Monitor{windowTokens: windowTokens, thresholds: thresholds, log: log}
}

// PctUsed computes the percentage of the context window consumed by the
// given cumulative token count.
func (m *Monitor) PctUsed(tokens int64) int {
	if m.windowTokens <= 0 {
		return 0
	}
	return int(tokens * 100 / int64(m.windowTokens))
}

// Evaluate reports the tier a cumulative token count falls into.
func (m *Monitor) Evaluate(tokens int64) Tier {
	pct := m.PctUsed(tokens)
	switch {
	case pct >= m.thresholds.KillPct:
		return TierKill
	case pct >= m.thresholds.CompactPct:
		return TierCompact
	case pct >= m.thresholds.WarnPct:
		return TierWarn
	default:
		return TierNormal
	}
}

// CompactionInput is the material a compaction subroutine considers
// (§4.7's preserve/summarize/discard breakdown).
type CompactionInput struct {
	TaskName       string
	TaskNotes      string
	TaskAccept     string
	FilesUnderEdit []string
	DiffSummary    string
	RecentErrors   []string
	KeyDecisions   []string

	Exploration      []string
	TestOutput       []string
	FileReads        []string
	StackTraces      []string
	ProcessedFiles   []string
	PriorCompactions []string
}

// Compact produces a compacted summary string, ordered preserve ->
// summarize, with discard-tier material dropped entirely (§4.7 tier 2).
func Compact(in CompactionInput) string {
	var b []byte
	write := func(s string) { b = append(b, s...) }

	write("## Preserved\n")
	write("task: " + in.TaskName + "\n")
	if in.TaskNotes != "" {
		write("notes: " + in.TaskNotes + "\n")
	}
	if in.TaskAccept != "" {
		write("accept: " + in.TaskAccept + "\n")
	}
	for _, f := range in.FilesUnderEdit {
		write("editing: " + f + "\n")
	}
	if in.DiffSummary != "" {
		write("diff: " + in.DiffSummary + "\n")
	}
	for _, e := range in.RecentErrors {
		write("recent error: " + e + "\n")
	}
	for _, d := range in.KeyDecisions {
		write("decision: " + d + "\n")
	}

	write("\n## Summarized\n")
	for _, e := range in.Exploration {
		write("explored: " + e + "\n")
	}
	for _, t := range in.TestOutput {
		write("tests: " + t + "\n")
	}
	for _, f := range in.FileReads {
		write("read: " + f + "\n")
	}

	// Stack traces, already-processed file contents, redundant
	// exploration, and prior compaction summaries are discarded — they
	// never appear in the output (§4.7 tier 2 discard list).
	return string(b)
}

// Response is the action the caller (a stage executor) should take
// after an Evaluate call escalates.
type Response struct {
	Tier       Tier
	KillReason string // set only when Tier == TierKill
}

// Respond logs at Warn, returns a Compact response for the executor to
// act on at Compact, and returns a Kill response with the appropriate
// kill_reason at Kill or on timeout (§4.7).
func (m *Monitor) Respond(tokens int64, timedOut bool) Response {
	if timedOut {
		m.log.Warn("stage timeout", "kill_reason", "timeout")
		return Response{Tier: TierKill, KillReason: "timeout"}
	}
	tier := m.Evaluate(tokens)
	switch tier {
	case TierWarn:
		m.log.Warn("context pressure", "pct", m.PctUsed(tokens))
	case TierKill:
		m.log.Warn("context limit reached", "pct", m.PctUsed(tokens), "kill_reason", "context_limit")
		return Response{Tier: TierKill, KillReason: "context_limit"}
	}
	return Response{Tier: tier}
}

// charsPerToken is the rough token-length heuristic used to size a
// compacted summary when no tokenizer is available post-compaction.
const charsPerToken = 4

// EstimateTokens approximates a token count from text length, for
// measuring a compaction digest that was never itself sent through the
// agent (so the driver never reported a real token count for it).
func EstimateTokens(s string) int64 {
	return int64(len(s) / charsPerToken)
}

// PostCompactionTier re-evaluates after a compaction attempt: if usage
// dropped below warn, execution resumes; otherwise escalate to kill
// (§4.7 "If post-compaction usage < warn threshold, resume. Otherwise
// escalate to Kill.").
func (m *Monitor) PostCompactionTier(postCompactionTokens int64) Tier {
	if m.PctUsed(postCompactionTokens) < m.thresholds.WarnPct {
		return TierNormal
	}
	return TierKill
}
