package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/pg"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			log := newLogger("")
			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied")
			return nil
		},
	}
}
