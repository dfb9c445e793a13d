package cli

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newBatchCmd applies a file of newline-delimited event lines to the
// plan log in one atomic append (§4.4 append_batch): either every line
// lands or none does.
func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file.jsonl>",
		Short: "Apply a batch of event lines atomically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var lines [][]byte
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				lines = append(lines, []byte(line))
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.AppendBatch(lines); err != nil {
				return err
			}
			return printJSON(map[string]any{"applied": len(lines)})
		},
	}
}
