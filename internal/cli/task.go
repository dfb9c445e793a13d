package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/stage"
	"github.com/ralphdev/tix/internal/tix"
)

// newTaskCmd groups the task mutation commands (§6.3): add, done,
// accept, reject, delete, prioritize, update.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Mutate task tickets"}
	cmd.AddCommand(
		newTaskAddCmd(),
		newTaskUpdateCmd(),
		newTaskDoneCmd(),
		newTaskAcceptCmd(),
		newTaskRejectCmd(),
		newTaskDeleteCmd(),
		newTaskPrioritizeCmd(),
	)
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var notes, accept, priority string
	var deps []string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := tix.NewID(tix.TypeTask)
			if err != nil {
				return err
			}
			p := tix.PriorityNone
			if priority != "" {
				parsed, ok := tix.PriorityFromToken(priority)
				if !ok {
					return fmt.Errorf("task add: unknown priority %q", priority)
				}
				p = parsed
			}
			t := &tix.Ticket{
				ID: id, Type: tix.TypeTask, Status: tix.StatusPending,
				Name: args[0], Notes: notes, Accept: accept, Priority: p, Deps: deps,
			}
			if err := store.UpsertTicket(t); err != nil {
				return err
			}
			return printJSON(t)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "implementation notes")
	cmd.Flags().StringVar(&accept, "accept", "", "acceptance criteria")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "blocking task id (repeatable)")
	return cmd
}

func newTaskUpdateCmd() *cobra.Command {
	var notes, accept, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Patch a task's mutable fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTicket(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("notes") {
				t.Notes = notes
			}
			if cmd.Flags().Changed("accept") {
				t.Accept = accept
			}
			if cmd.Flags().Changed("priority") {
				parsed, ok := tix.PriorityFromToken(priority)
				if !ok {
					return fmt.Errorf("task update: unknown priority %q", priority)
				}
				t.Priority = parsed
			}
			if err := store.UpsertTicket(t); err != nil {
				return err
			}
			return printJSON(t)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "implementation notes")
	cmd.Flags().StringVar(&accept, "accept", "", "acceptance criteria")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	return cmd
}

func newTaskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done without running BUILD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTicket(args[0])
			if err != nil {
				return err
			}
			t.Status = tix.StatusDone
			if head, err := openRepo().HeadCommit(); err == nil {
				t.DoneAt = head
			}
			if err := store.UpsertTicket(t); err != nil {
				return err
			}
			return printJSON(t)
		},
	}
}

func newTaskAcceptCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Tombstone a done task as accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTicket(args[0])
			if err != nil {
				return err
			}
			if err := store.AddTombstone(t.ID, t.DoneAt, reason, t.Name, true); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "accepted", "id": t.ID})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "acceptance note")
	return cmd
}

func newTaskRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Tombstone a done task as rejected, feeding the rejection analyzer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("task reject: --reason is required")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTicket(args[0])
			if err != nil {
				return err
			}
			if err := store.AddTombstone(t.ID, t.DoneAt, reason, t.Name, false); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "rejected", "id": t.ID})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Mark a ticket deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteTicket(args[0]); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "deleted", "id": args[0]})
		},
	}
}

func newTaskPrioritizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prioritize",
		Short: "Re-score pending tasks without an explicit priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			lines, err := stage.Prioritize(store)
			if err != nil {
				return err
			}
			if len(lines) > 0 {
				if err := store.AppendBatch(lines); err != nil {
					return err
				}
			}
			return printJSON(map[string]any{"updated": len(lines)})
		},
	}
}
