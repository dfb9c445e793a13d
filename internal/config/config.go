// Package config loads the construct engine's session configuration
// (§4.5): compiled defaults overlaid by environment variables and then
// CLI flags, with the effective record logged as a config event on
// session start. Grounded on Factory's own layered settings loader
// (environment-variable overrides feeding struct defaults) and on its
// log/slog-based level wiring for TIX_LOG.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config is the session's effective configuration (§4.5).
type Config struct {
	Model      string
	ModelBuild string

	ContextWindow      int
	ContextWarnPct     int
	ContextCompactPct  int
	ContextKillPct     int

	StageTimeoutMS     int
	IterationTimeoutMS int

	MaxFailures       int
	MaxDecomposeDepth int
	MaxIterations     int

	CommitPrefix string

	// Additions beyond spec.md's base table, resolving its Open
	// Questions (recorded in DESIGN.md).
	MaxParallelSubagents int
	RejectionThreshold   int
	SessionCostCap       *float64
}

// Defaults returns the compiled baseline (§4.5 table defaults).
func Defaults() Config {
	return Config{
		ContextWarnPct:       70,
		ContextCompactPct:    85,
		ContextKillPct:       95,
		StageTimeoutMS:       300_000,
		MaxFailures:          3,
		MaxDecomposeDepth:    3,
		CommitPrefix:         "ralph:",
		MaxParallelSubagents: 3,
		RejectionThreshold:   3,
	}
}

// envPrefix namespaces every config override, e.g. TIX_MODEL,
// TIX_CONTEXT_WINDOW.
const envPrefix = "TIX_"

// Load builds the effective config: defaults, then environment
// variables, then the given flag overrides (highest precedence, §4.5
// "layered: compiled defaults -> env vars -> CLI flags").
func Load(flags Config, flagsSet map[string]bool) Config {
	cfg := Defaults()
	cfg.applyEnv()
	cfg.applyFlags(flags, flagsSet)
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv(envPrefix + "MODEL_BUILD"); v != "" {
		c.ModelBuild = v
	}
	if v, ok := envInt(envPrefix + "CONTEXT_WINDOW"); ok {
		c.ContextWindow = v
	}
	if v, ok := envInt(envPrefix + "CONTEXT_WARN_PCT"); ok {
		c.ContextWarnPct = v
	}
	if v, ok := envInt(envPrefix + "CONTEXT_COMPACT_PCT"); ok {
		c.ContextCompactPct = v
	}
	if v, ok := envInt(envPrefix + "CONTEXT_KILL_PCT"); ok {
		c.ContextKillPct = v
	}
	if v, ok := envInt(envPrefix + "STAGE_TIMEOUT_MS"); ok {
		c.StageTimeoutMS = v
	}
	if v, ok := envInt(envPrefix + "ITERATION_TIMEOUT_MS"); ok {
		c.IterationTimeoutMS = v
	}
	if v, ok := envInt(envPrefix + "MAX_FAILURES"); ok {
		c.MaxFailures = v
	}
	if v, ok := envInt(envPrefix + "MAX_DECOMPOSE_DEPTH"); ok {
		c.MaxDecomposeDepth = v
	}
	if v, ok := envInt(envPrefix + "MAX_ITERATIONS"); ok {
		c.MaxIterations = v
	}
	if v := os.Getenv(envPrefix + "COMMIT_PREFIX"); v != "" {
		c.CommitPrefix = v
	}
	if v, ok := envInt(envPrefix + "MAX_PARALLEL_SUBAGENTS"); ok {
		c.MaxParallelSubagents = v
	}
	if v, ok := envInt(envPrefix + "REJECTION_THRESHOLD"); ok {
		c.RejectionThreshold = v
	}
	if v, ok := envFloat(envPrefix + "SESSION_COST_CAP"); ok {
		c.SessionCostCap = &v
	}
}

// applyFlags overlays only the fields the caller explicitly set (tracked
// by name in flagsSet), so an unset cobra flag never clobbers an
// environment override.
func (c *Config) applyFlags(flags Config, set map[string]bool) {
	if set["model"] {
		c.Model = flags.Model
	}
	if set["model_build"] {
		c.ModelBuild = flags.ModelBuild
	}
	if set["context_window"] {
		c.ContextWindow = flags.ContextWindow
	}
	if set["context_warn_pct"] {
		c.ContextWarnPct = flags.ContextWarnPct
	}
	if set["context_compact_pct"] {
		c.ContextCompactPct = flags.ContextCompactPct
	}
	if set["context_kill_pct"] {
		c.ContextKillPct = flags.ContextKillPct
	}
	if set["stage_timeout_ms"] {
		c.StageTimeoutMS = flags.StageTimeoutMS
	}
	if set["iteration_timeout_ms"] {
		c.IterationTimeoutMS = flags.IterationTimeoutMS
	}
	if set["max_failures"] {
		c.MaxFailures = flags.MaxFailures
	}
	if set["max_decompose_depth"] {
		c.MaxDecomposeDepth = flags.MaxDecomposeDepth
	}
	if set["max_iterations"] {
		c.MaxIterations = flags.MaxIterations
	}
	if set["commit_prefix"] {
		c.CommitPrefix = flags.CommitPrefix
	}
	if set["max_parallel_subagents"] {
		c.MaxParallelSubagents = flags.MaxParallelSubagents
	}
	if set["rejection_threshold"] {
		c.RejectionThreshold = flags.RejectionThreshold
	}
	if set["session_cost_cap"] {
		c.SessionCostCap = flags.SessionCostCap
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToFields renders the config as a field map for a config event line.
func (c Config) ToFields() map[string]any {
	m := map[string]any{
		"model":                  c.Model,
		"model_build":            c.ModelBuild,
		"context_window":         c.ContextWindow,
		"context_warn_pct":       c.ContextWarnPct,
		"context_compact_pct":    c.ContextCompactPct,
		"context_kill_pct":       c.ContextKillPct,
		"stage_timeout_ms":       c.StageTimeoutMS,
		"iteration_timeout_ms":   c.IterationTimeoutMS,
		"max_failures":           c.MaxFailures,
		"max_decompose_depth":    c.MaxDecomposeDepth,
		"max_iterations":         c.MaxIterations,
		"commit_prefix":          c.CommitPrefix,
		"max_parallel_subagents": c.MaxParallelSubagents,
		"rejection_threshold":    c.RejectionThreshold,
	}
	if c.SessionCostCap != nil {
		m["session_cost_cap"] = *c.SessionCostCap
	}
	return m
}

// LogLevel parses TIX_LOG into a slog.Level, recognizing an extra
// "trace" tier one step below LevelDebug (AMBIENT A.1).
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("TIX_LOG")) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo
	}
}

// Metrics tracks per-session counters, persisted onto the resolved
// ticket as metadata rows on each completed iteration (§4.5).
type Metrics struct {
	CostUSD           float64
	TokensIn          int64
	TokensOut         int64
	IterationsDone    int
	KillsByReason     map[string]int
	ConsecutiveFailed int
}

// NewMetrics returns a zeroed Metrics record.
func NewMetrics() *Metrics {
	return &Metrics{KillsByReason: map[string]int{}}
}

// RecordKill increments the kill counter for reason.
func (m *Metrics) RecordKill(reason string) {
	m.KillsByReason[reason]++
}

// ExceedsCostCap reports whether cumulative cost has crossed the
// configured cap, if one is set.
func (c Config) ExceedsCostCap(m *Metrics) bool {
	return c.SessionCostCap != nil && m.CostUSD >= *c.SessionCostCap
}
