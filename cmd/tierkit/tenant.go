package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect and maintain tenant state",
	}
	cmd.AddCommand(newTenantShowCmd(), newTenantResetCmd(), newTenantExpireCmd())
	return cmd
}

func newTenantShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Print the entitlement and token balance of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			ent, err := a.svc.Entitlement(ctx, args[0])
			if err != nil {
				return err
			}
			bal, err := a.ledger.Get(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"entitlement": ent, "tokens": bal})
		},
	}
}

func newTenantResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tenant-id>",
		Short: "Offboard a tenant: cancel upstream subscriptions and delete its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.svc.Reset(ctx, args[0]); err != nil {
				return err
			}
			if err := a.ledger.Reset(ctx, args[0]); err != nil {
				return err
			}
			a.log.InfoContext(ctx, "tenant reset", logger.TenantID(args[0]))
			return nil
		},
	}
}

func newTenantExpireCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "expire-reservations <tenant-id>",
		Short: "Refund open reservations abandoned by crashed callers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			n, err := a.ledger.ExpireStale(ctx, args[0], olderThan)
			if err != nil {
				return err
			}
			cmd.Printf("refunded %d reservation(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum reservation age")
	return cmd
}
