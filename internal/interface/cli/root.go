package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/adapter/presenter"
	appconfig "github.com/hmiyata/weave/internal/app/config"
	"github.com/hmiyata/weave/internal/buildinfo"
	infraconfig "github.com/hmiyata/weave/internal/infra/config"
	"github.com/hmiyata/weave/internal/infrastructure/di"
)

var (
	globalConfig appconfig.Config
	jsonOutput   bool
)

// baseDir resolves the configuration directory: WEAVE_HOME wins, then .weave
func baseDir() string {
	if home := os.Getenv("WEAVE_HOME"); home != "" {
		return home
	}
	return ".weave"
}

// NewRoot builds the root command with all subcommands registered
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "weave",
		Short:         "Weave meta-orchestrator",
		Long:          "Weave coordinates phased executions across worker agents:\nleverage-scored scheduling, exclusive reservations, and serialized merges.",
		Version:       buildinfo.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infraconfig.LoadSettings(baseDir())
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			globalConfig = cfg
			InitGlobalLogger(cfg.StderrLevel())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")

	root.AddCommand(newInitCommand())
	root.AddCommand(newVersionCommand())
	root.AddCommand(newItemCommand())
	root.AddCommand(newExecCommand())
	root.AddCommand(newPhaseCommand())
	root.AddCommand(newUnitCommand())
	root.AddCommand(newGateCommand())
	root.AddCommand(newReserveCommand())
	root.AddCommand(newMergeCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())

	return root
}

// openContainer wires the dependency container from the loaded configuration.
// Callers must Close() it.
func openContainer() (*di.Container, error) {
	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	logger := GetLogger()
	return di.NewContainer(di.Config{
		App:       globalConfig,
		EventSink: NewLogEventSink(logger),
		InfoLog:   logger.Info,
		WarnLog:   logger.Warn,
	})
}

// newPresenter returns the output presenter selected by the --json flag
func newPresenter(cmd *cobra.Command) presenter.Presenter {
	if jsonOutput {
		return presenter.NewJSONPresenter(cmd.OutOrStdout())
	}
	return presenter.NewTextPresenter(cmd.OutOrStdout())
}
