package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cfg, log)
			if err != nil {
				return err
			}

			if err := app.connect(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				if err := app.manager.Shutdown(); err != nil {
					log.Error("error closing database", "error", err)
				}
			}()

			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
