package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Clean and build every asset kind once",
		Long: `Clean the destination directory and build every asset kind.

Unlike the default command, build does not watch or serve, and exits
non-zero when any task failed. Use it in CI.

Examples:
  assetpipe build
  ASSETPIPE_LOG=debug assetpipe build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject()
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.config.CheckSources(); err != nil {
				return err
			}

			report, err := p.pipeline.BuildAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				for _, task := range report.Failed {
					errorMsg("%s failed", task)
				}
				return fmt.Errorf("%d task(s) failed: %s", len(report.Failed), strings.Join(report.Failed, ", "))
			}

			success("Built in %s", report.Result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
