package cli

import "testing"

func TestNewRootCommandWiresEveryTableCommand(t *testing.T) {
	root := NewRootCommand()
	want := []string{
		"init", "construct", "plan", "query", "status", "report",
		"search", "tree", "validate", "task", "issue", "batch", "compact",
	}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("root command missing %q: %v", name, err)
		}
	}
}

func TestTaskAndIssueSubcommandsWired(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{
		{"task", "add"}, {"task", "done"}, {"task", "accept"}, {"task", "reject"},
		{"task", "delete"}, {"task", "prioritize"}, {"task", "update"},
		{"issue", "add"}, {"issue", "done"}, {"issue", "done-all"}, {"issue", "done-ids"},
		{"report", "velocity"}, {"report", "actors"}, {"report", "models"},
	} {
		if _, _, err := root.Find(path); err != nil {
			t.Errorf("missing subcommand %v: %v", path, err)
		}
	}
}
