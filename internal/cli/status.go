package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// newStatusCmd prints a human-readable dashboard — the one command
// writing text via fmt.Fprintf instead of JSON by default (§6.3). With
// --format html it renders the same summary as a markdown document
// through goldmark, the closest this engine gets to the reference
// dashboard now that there's no HTTP server to view it in.
func newStatusCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a human-readable summary of the plan store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var text, md strings.Builder
			for _, typ := range []tix.Type{tix.TypeIssue, tix.TypeTask, tix.TypeNote} {
				fmt.Fprintf(&text, "%s:\n", typ)
				fmt.Fprintf(&md, "## %s\n\n| status | count |\n|---|---|\n", typ)
				for _, st := range []tix.Status{tix.StatusPending, tix.StatusDone, tix.StatusAccepted, tix.StatusRejected} {
					status := st
					tickets, err := store.ListTicketsFiltered(planstore.Filter{Type: typ, Status: &status})
					if err != nil {
						return err
					}
					fmt.Fprintf(&text, "  %-10s %d\n", status, len(tickets))
					fmt.Fprintf(&md, "| %s | %d |\n", status, len(tickets))
				}
				md.WriteByte('\n')
			}

			refs, err := store.CountRefs()
			if err != nil {
				return err
			}
			fmt.Fprintf(&text, "refs: %d broken, %d stale\n", refs.Broken, refs.Stale)
			fmt.Fprintf(&md, "refs: %d broken, %d stale\n\n", refs.Broken, refs.Stale)

			result, err := store.Validate()
			if err != nil {
				return err
			}
			fmt.Fprintf(&text, "valid: %v (%d errors, %d warnings)\n", result.Valid, len(result.Errors), len(result.Warnings))
			fmt.Fprintf(&md, "valid: %v (%d errors, %d warnings)\n", result.Valid, len(result.Errors), len(result.Warnings))

			if format == "html" {
				return renderMarkdown(os.Stdout, md.String())
			}
			_, err = os.Stdout.WriteString(text.String())
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or html")
	return cmd
}
