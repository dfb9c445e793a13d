package cli

import (
	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// newIssueCmd groups the issue mutation commands (§6.3): add, done,
// done-all, done-ids.
func newIssueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "issue", Short: "Mutate issue tickets"}
	cmd.AddCommand(newIssueAddCmd(), newIssueDoneCmd(), newIssueDoneAllCmd(), newIssueDoneIDsCmd())
	return cmd
}

func newIssueAddCmd() *cobra.Command {
	var notes, priority string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a pending issue for INVESTIGATE to triage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := tix.NewID(tix.TypeIssue)
			if err != nil {
				return err
			}
			p := tix.PriorityNone
			if priority != "" {
				parsed, ok := tix.PriorityFromToken(priority)
				if ok {
					p = parsed
				}
			}
			t := &tix.Ticket{ID: id, Type: tix.TypeIssue, Status: tix.StatusPending, Name: args[0], Notes: notes, Priority: p}
			if err := store.UpsertTicket(t); err != nil {
				return err
			}
			return printJSON(t)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "issue description")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	return cmd
}

// newIssueDoneCmd marks a single issue resolved directly, bypassing
// INVESTIGATE — for issues a human has already triaged out-of-band.
func newIssueDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a single issue done without running INVESTIGATE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return markIssueDone(store, args[0])
		},
	}
}

func newIssueDoneAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done-all",
		Short: "Mark every pending issue done",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pendingStatus := tix.StatusPending
			issues, err := store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeIssue, Status: &pendingStatus})
			if err != nil {
				return err
			}
			count := 0
			for _, issue := range issues {
				if err := markIssueDone(store, issue.ID); err != nil {
					return err
				}
				count++
			}
			return printJSON(map[string]any{"done": count})
		},
	}
}

func newIssueDoneIDsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done-ids <id> [id...]",
		Short: "Mark the given issue ids done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := markIssueDone(store, id); err != nil {
					return err
				}
			}
			return printJSON(map[string]any{"done": len(args)})
		},
	}
}

func markIssueDone(store *planstore.Store, id string) error {
	t, err := store.GetTicket(id)
	if err != nil {
		return err
	}
	t.Status = tix.StatusDone
	return store.UpsertTicket(t)
}
