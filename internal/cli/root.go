// Package cli wires the engine's operations into a cobra command tree
// (§6.3, §A.4): one cobra.Command per table row, nested subcommands
// under task/issue/report, and a thin root that wires --profile,
// --log-level, and --db persistent flags before Execute(). Grounded on
// the pack's cobra-based CLIs for the nesting shape; the reference
// engine's own cmd/factory/main.go informed the flag-to-config wiring
// even though that file itself uses the flat `flag` package.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/config"
	"github.com/ralphdev/tix/internal/gitutil"
	"github.com/ralphdev/tix/internal/planstore"
	"github.com/ralphdev/tix/internal/tix"
)

// globalFlags holds the root command's persistent flags.
type globalFlags struct {
	profile  string
	logLevel string
	dbPath   string
	logPath  string
}

var flags globalFlags

// NewRootCommand builds the tix root command and its full subtree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tix",
		Short:         "Autonomous construct engine: plan store, stage executors, and orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.profile, "profile", os.Getenv("RALPH_PROFILE"), "config profile name")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override TIX_LOG (error|warn|info|debug|trace)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "cache database path (default .tix/cache.db)")
	root.PersistentFlags().StringVar(&flags.logPath, "log", "", "plan log path (default ralph/plan.jsonl)")

	root.AddCommand(
		newInitCmd(),
		newConstructCmd(),
		newPlanCmd(),
		newQueryCmd(),
		newStatusCmd(),
		newReportCmd(),
		newSearchCmd(),
		newTreeCmd(),
		newValidateCmd(),
		newTaskCmd(),
		newIssueCmd(),
		newBatchCmd(),
		newCompactCmd(),
	)
	return root
}

func logger() *slog.Logger {
	if flags.logLevel != "" {
		os.Setenv("TIX_LOG", flags.logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()}))
}

func openStore() (*planstore.Store, error) {
	return planstore.Open(planstore.Options{LogPath: flags.logPath, CachePath: flags.dbPath})
}

func openRepo() *gitutil.Repo {
	return gitutil.Open(".")
}

// printJSON renders v as indented JSON on stdout, the default output
// contract for every command except `status` (§6.3).
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Fail prints a tagged error and exits non-zero (§7 failure contract).
// Exported so cmd/tix's thin main can route Execute()'s error through
// the same kind-tagging path every in-process failure uses.
func Fail(err error) {
	kind := tix.ErrIO
	var se *tix.StoreError
	if errors.As(err, &se) {
		kind = se.Kind
	}
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", kind, err)
	os.Exit(1)
}
