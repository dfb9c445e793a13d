package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/planstore"
)

func newCompactCmd() *cobra.Command {
	var committedCSV string
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the plan log, dropping committed resolved tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			committed := map[string]bool{}
			if committedCSV != "" {
				for _, id := range strings.Split(committedCSV, ",") {
					committed[strings.TrimSpace(id)] = true
				}
			}
			if err := store.PlanCompact(planstore.PlanCompactOptions{Committed: committed}); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "ok"})
		},
	}
	cmd.Flags().StringVar(&committedCSV, "committed", "", "comma-separated ids safe to drop from history")
	return cmd
}
