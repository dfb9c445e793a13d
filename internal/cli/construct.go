package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ralphdev/tix/internal/config"
	"github.com/ralphdev/tix/internal/orchestrator"
	"github.com/ralphdev/tix/internal/stage"
	"github.com/ralphdev/tix/internal/tix"
)

// agentFlags are the flag-overridable config fields common to
// construct and plan (§4.5, §A.4).
type agentFlags struct {
	agentCommand string
	agentArgsCSV string
	model        string
	contextWin   int
	maxIters     int
}

func (a *agentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.agentCommand, "agent", "claude", "external agent binary to invoke")
	cmd.Flags().StringVar(&a.agentArgsCSV, "agent-args", "-p,--output-format,stream-json", "comma-separated agent args")
	cmd.Flags().StringVar(&a.model, "model", "", "override the configured model")
	cmd.Flags().IntVar(&a.contextWin, "context-window", 0, "override the context window token budget")
	cmd.Flags().IntVar(&a.maxIters, "max-iterations", 0, "override the hard iteration cap")
}

func (a *agentFlags) toConfigAndDeps(cmd *cobra.Command) (config.Config, *stage.Deps) {
	set := map[string]bool{}
	var overrides config.Config
	if cmd.Flags().Changed("model") {
		set["model"] = true
		overrides.Model = a.model
	}
	if cmd.Flags().Changed("context-window") {
		set["context_window"] = true
		overrides.ContextWindow = a.contextWin
	}
	if cmd.Flags().Changed("max-iterations") {
		set["max_iterations"] = true
		overrides.MaxIterations = a.maxIters
	}
	cfg := config.Load(overrides, set)

	deps := &stage.Deps{
		AgentCommand: a.agentCommand,
		AgentArgs:    strings.Split(a.agentArgsCSV, ","),
		LogDir:       ".tix/logs",
	}
	return cfg, deps
}

func newConstructCmd() *cobra.Command {
	var af agentFlags
	cmd := &cobra.Command{
		Use:   "construct [spec]",
		Short: "Run the state machine until COMPLETE or a breaker fires",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				line, err := tix.EncodeSpecEvent(args[0])
				if err != nil {
					return err
				}
				if err := store.AppendRaw(line); err != nil {
					return err
				}
			}

			cfg, deps := af.toConfigAndDeps(cmd)
			log := logger()
			if cfgLine, err := tix.EncodeConfigEvent(cfg.ToFields()); err == nil {
				_ = store.AppendRaw(cfgLine)
			}

			orch := orchestrator.New(store, openRepo(), cfg, log, deps)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := orch.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	af.register(cmd)
	return cmd
}
