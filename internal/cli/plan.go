package cli

import (
	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/stage"
)

func newPlanCmd() *cobra.Command {
	var af agentFlags
	cmd := &cobra.Command{
		Use:   "plan <spec>",
		Short: "Run only the PLAN entry: initial task generation + prioritize",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cfg, deps := af.toConfigAndDeps(cmd)
			deps.Store = store
			deps.Cfg = cfg
			deps.Log = logger()

			result, err := stage.Plan(cmd.Context(), deps, args[0])
			if err != nil {
				return err
			}
			if len(result.NewLines) > 0 {
				if err := store.AppendBatch(result.NewLines); err != nil {
					return err
				}
			}
			return printJSON(map[string]any{
				"outcome": string(result.Outcome),
				"tasks":   len(result.NewLines),
			})
		},
	}
	af.register(cmd)
	return cmd
}
