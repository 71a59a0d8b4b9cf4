package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookwell.io/internal/migrate"
	"bookwell.io/internal/obs"
	"bookwell.io/internal/store/pg"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")

	run := func(name string, fn func(ctx context.Context, mgr *migrate.Manager) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: name + " migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if opts.cfg.Database.DSN == "" {
					return errors.New("database.dsn is required (BOOKWELL_PG_DSN)")
				}
				store, err := pg.Open(opts.cfg.Database.DSN, pg.PoolOptions{MaxOpenConns: 2})
				if err != nil {
					return fmt.Errorf("open db: %w", err)
				}
				defer store.Close()

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				if err := fn(ctx, migrate.NewManager(store.DB())); err != nil {
					return fmt.Errorf("migrate %s: %w", name, err)
				}
				obs.Logger().Info().Str("command", name).Msg("migrate finished")
				return nil
			},
		}
	}

	up := run("up", func(ctx context.Context, mgr *migrate.Manager) error { return mgr.Up(ctx) })
	up.Short = "Apply pending migrations"
	down := run("down", func(ctx context.Context, mgr *migrate.Manager) error { return mgr.Down(ctx) })
	down.Short = "Roll back the latest migration"
	seed := run("seed", func(ctx context.Context, mgr *migrate.Manager) error { return mgr.Seed(ctx) })
	seed.Short = "Load demo seed data"

	var status *cobra.Command
	status = run("status", func(ctx context.Context, mgr *migrate.Manager) error {
		applied, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			return err
		}
		out := status.OutOrStdout()
		for _, item := range applied {
			fmt.Fprintf(out, "applied  %s\n", item)
		}
		for _, item := range pending {
			fmt.Fprintf(out, "pending  %s\n", item)
		}
		return nil
	})
	status.Short = "List applied and pending migrations"

	cmd.AddCommand(up, down, seed, status)
	return cmd
}
