package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"workqueue/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		logLevel    string
		development bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the work queue daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
