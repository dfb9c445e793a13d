package stage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralphdev/tix/internal/agent"
	"github.com/ralphdev/tix/internal/config"
	"github.com/ralphdev/tix/internal/planstore"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.StageTimeoutMS = 1000
	return cfg
}

func mustJSONMap(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return m
}

func newTestStore(t *testing.T) *planstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := planstore.Open(planstore.Options{
		LogPath:   filepath.Join(dir, "plan.jsonl"),
		CachePath: filepath.Join(dir, "cache.db"),
		RepoRoot:  dir,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func stubRunner(out *agent.Outcome, err error) func(ctx context.Context, inv agent.Invocation) (*agent.Outcome, error) {
	return func(ctx context.Context, inv agent.Invocation) (*agent.Outcome, error) {
		return out, err
	}
}

func TestPlanCreatesTasksAndPrioritizes(t *testing.T) {
	store := newTestStore(t)

	specPath := filepath.Join(t.TempDir(), "spec.md")
	if err := os.WriteFile(specPath, []byte("# a tiny spec\nbuild a thing"), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	reply := `{"tasks":[
		{"name":"wire the widget","notes":"this is a sufficiently long note describing the widget wiring work in detail","accept":"widget responds to input"},
		{"name":"too terse","notes":"short","accept":"x"}
	]}`
	runner := stubRunner(&agent.Outcome{FinalEvent: map[string]any{"result": mustJSONMap(t, reply)}}, nil)

	d := &Deps{Store: store, AgentRunner: runner, Cfg: testConfig()}
	result, err := Plan(context.Background(), d, specPath)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Outcome != Success {
		t.Fatalf("outcome = %v, want Success", result.Outcome)
	}
	// Only the well-formed task proposal should survive validTaskProposal;
	// its priority line accounts for the rest.
	if len(result.NewLines) < 1 {
		t.Fatalf("expected at least one ticket-create line, got %d", len(result.NewLines))
	}

	if err := store.AppendBatch(result.NewLines); err != nil {
		t.Fatalf("append batch: %v", err)
	}
}

func TestPlanFailsWhenNoUsableTasks(t *testing.T) {
	store := newTestStore(t)
	specPath := filepath.Join(t.TempDir(), "spec.md")
	if err := os.WriteFile(specPath, []byte("spec"), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	reply := `{"tasks":[{"name":"too terse","notes":"short","accept":"x"}]}`
	runner := stubRunner(&agent.Outcome{FinalEvent: map[string]any{"result": mustJSONMap(t, reply)}}, nil)

	d := &Deps{Store: store, AgentRunner: runner, Cfg: testConfig()}
	result, err := Plan(context.Background(), d, specPath)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Outcome != Failure {
		t.Fatalf("outcome = %v, want Failure", result.Outcome)
	}
}
