package cli

import (
	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/tix"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .tix/ layout and ensure the plan log exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			return printJSON(map[string]any{
				"status":   "ok",
				"log_path": tix.DefaultLogPath,
				"db_path":  store.DB().Path(),
			})
		},
	}
}
