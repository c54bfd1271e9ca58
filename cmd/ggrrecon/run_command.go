package main

import (
	"context"

	"github.com/spf13/cobra"

	"ggrrecon/pkg/pipeline"
)

// preprocessStage runs the preprocess subcommand in-process, with fresh
// flag state per group.
type preprocessStage struct {
	app *appContext
}

func (s *preprocessStage) Run(ctx context.Context, args []string) error {
	cmd := newPreprocessCommand(s.app)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

var _ pipeline.Stage = (*preprocessStage)(nil)

func newRunCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [PREPROCESS_ARGS ...] [-- RECON_ARGS ...]",
		Short: "Run the preprocess and reconstruction stages over every matching group",
		Long: "Arguments before \"--\" go to the preprocess stage, arguments after it to the\n" +
			"reconstruction stage. Without an explicit -f/--filenames list, every complete\n" +
			"acquisition group matching the filters is processed in turn.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ensureConfig()
			if err != nil {
				return err
			}

			reconStage, err := pipeline.NewCommand(cfg.Tools.Recon)
			if err != nil {
				return err
			}

			runner, err := pipeline.NewRunner(&preprocessStage{app: app}, reconStage,
				pipeline.WithDataRoot(cfg.Paths.Data))
			if err != nil {
				return err
			}
			return runner.Run(cmd.Context(), args)
		},
	}
	return cmd
}
