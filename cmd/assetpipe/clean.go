package main

import (
	"github.com/spf13/cobra"
)

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the destination directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject()
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.builder.Clean(); err != nil {
				return err
			}
			success("Removed %s", p.config.Rel(p.config.DestRoot()))
			return nil
		},
	}
}
