package cli

import (
	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/tix/tql"
)

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <tql>",
		Short: "Run a TQL pipeline against the ticket cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			q, err := tql.Parse(args[0])
			if err != nil {
				return err
			}
			compiled, err := tql.Compile(q)
			if err != nil {
				return err
			}
			rows, err := tql.Run(store.DB(), compiled)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
}
