package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// newReportCmd groups the read-only aggregate reports (§6.3 report
// velocity/actors/models) under one nested command.
func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate reports over done tickets",
	}
	cmd.AddCommand(newReportVelocityCmd(), newReportActorsCmd(), newReportModelsCmd())
	return cmd
}

// doneTasks returns tasks that have finished a construct run: done and
// accepted both count, since acceptance moves a task past done.
// Rejected and deleted tasks are left out.
func doneTasks(store *planstore.Store) ([]tix.Ticket, error) {
	all, err := store.ListTicketsFiltered(planstore.Filter{Type: tix.TypeTask})
	if err != nil {
		return nil, err
	}
	out := make([]tix.Ticket, 0, len(all))
	for _, t := range all {
		if t.Status == tix.StatusDone || t.Status == tix.StatusAccepted {
			out = append(out, t)
		}
	}
	return out, nil
}

func metaFloat(t tix.Ticket, key string) float64 {
	v, ok := t.Meta[key]
	if !ok || v.Num == nil {
		return 0
	}
	return *v.Num
}

func newReportVelocityCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "velocity",
		Short: "Tasks completed and cost per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := doneTasks(store)
			if err != nil {
				return err
			}

			type day struct {
				Tasks int     `json:"tasks"`
				Cost  float64 `json:"cost_usd"`
			}
			byDay := map[string]*day{}
			for _, t := range tasks {
				key := time.Unix(t.CompletedAt, 0).UTC().Format("2006-01-02")
				d := byDay[key]
				if d == nil {
					d = &day{}
					byDay[key] = d
				}
				d.Tasks++
				d.Cost += metaFloat(t, "cost")
			}

			keys := make([]string, 0, len(byDay))
			for k := range byDay {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			if format == "html" {
				var md strings.Builder
				md.WriteString("## Velocity\n\n| date | tasks | cost (usd) |\n|---|---|---|\n")
				for _, k := range keys {
					fmt.Fprintf(&md, "| %s | %d | %.2f |\n", k, byDay[k].Tasks, byDay[k].Cost)
				}
				return renderMarkdown(os.Stdout, md.String())
			}

			out := make([]map[string]any, 0, len(keys))
			for _, k := range keys {
				out = append(out, map[string]any{"date": k, "tasks": byDay[k].Tasks, "cost_usd": byDay[k].Cost})
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or html")
	return cmd
}

func newReportActorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actors",
		Short: "Tasks completed and cost per acting author",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := doneTasks(store)
			if err != nil {
				return err
			}
			return printJSON(groupByAuthor(tasks))
		},
	}
}

func newReportModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Tasks completed and cost per model (alias of actors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := doneTasks(store)
			if err != nil {
				return err
			}
			return printJSON(groupByAuthor(tasks))
		},
	}
}

// groupByAuthor aggregates done tasks by Author (§4.8 BUILD stamps the
// configured model there), the same field "actors" and "models"
// reports both read — a construct run has no separate human-actor
// identity, so the two reports are two views of one column.
func groupByAuthor(tasks []tix.Ticket) []map[string]any {
	type agg struct {
		Tasks int
		Cost  float64
	}
	byAuthor := map[string]*agg{}
	for _, t := range tasks {
		key := t.Author
		if key == "" {
			key = "unknown"
		}
		a := byAuthor[key]
		if a == nil {
			a = &agg{}
			byAuthor[key] = a
		}
		a.Tasks++
		a.Cost += metaFloat(t, "cost")
	}

	keys := make([]string, 0, len(byAuthor))
	for k := range byAuthor {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{"name": k, "tasks": byAuthor[k].Tasks, "cost_usd": byAuthor[k].Cost})
	}
	return out
}
