package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// newTreeCmd renders the parent/dependency structure as indented JSON
// nodes by default, optionally rooted at a single ticket id. --format md
// instead writes a flat markdown table for piping into other tools; the
// table is written directly, not rendered through goldmark.
func newTreeCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "tree [id]",
		Short: "Render the parent/dependency tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var all []tix.Ticket
			for _, typ := range []tix.Type{tix.TypeIssue, tix.TypeTask, tix.TypeNote} {
				tickets, err := store.ListTicketsFiltered(planstore.Filter{Type: typ})
				if err != nil {
					return err
				}
				all = append(all, tickets...)
			}

			children := map[string][]tix.Ticket{}
			byID := map[string]tix.Ticket{}
			for _, t := range all {
				byID[t.ID] = t
				if t.Parent != "" {
					children[t.Parent] = append(children[t.Parent], t)
				}
			}

			var roots []tix.Ticket
			if len(args) == 1 {
				root, ok := byID[args[0]]
				if !ok {
					return fmt.Errorf("tree: unknown id %q", args[0])
				}
				roots = []tix.Ticket{root}
			} else {
				for _, t := range all {
					if t.Parent == "" {
						roots = append(roots, t)
					}
				}
			}

			if format == "md" {
				var md strings.Builder
				md.WriteString("| id | type | status | parent | name |\n|---|---|---|---|---|\n")
				for _, r := range roots {
					writeTreeRow(&md, r, children)
				}
				_, err := os.Stdout.WriteString(md.String())
				return err
			}

			nodes := make([]map[string]any, 0, len(roots))
			for _, r := range roots {
				nodes = append(nodes, buildNode(r, children))
			}
			return printJSON(nodes)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or md")
	return cmd
}

// writeTreeRow flattens the tree into markdown-table rows, parent
// before children, for the --format md fallback.
func writeTreeRow(md *strings.Builder, t tix.Ticket, children map[string][]tix.Ticket) {
	fmt.Fprintf(md, "| %s | %s | %s | %s | %s |\n", t.ID, t.Type, t.Status, t.Parent, t.Name)
	for _, c := range children[t.ID] {
		writeTreeRow(md, c, children)
	}
}

func buildNode(t tix.Ticket, children map[string][]tix.Ticket) map[string]any {
	kids := children[t.ID]
	childNodes := make([]map[string]any, 0, len(kids))
	for _, c := range kids {
		childNodes = append(childNodes, buildNode(c, children))
	}
	return map[string]any{
		"id":       t.ID,
		"type":     t.Type,
		"status":   t.Status.String(),
		"name":     t.Name,
		"deps":     t.Deps,
		"children": childNodes,
	}
}
