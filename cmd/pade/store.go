package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gopade/adapters/postgres"
	"gopade/domain/core"
	"gopade/internal/errors"
)

func (a *app) requireDatabase() error {
	if !a.cfg.Database.Enabled() {
		return errors.ConfigInvalid("DATABASE_URL is not set")
	}
	return nil
}

func newMigrateCmd(a *app) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for stored reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDatabase(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			db, err := postgres.Open(ctx, a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			m := postgres.NewMigrator(db, a.logger)
			if !status {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "applied %d migrations\n", len(applied))
			}
			list, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range list {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Fprintf(a.out, "  %s_%s: %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Only show migration status")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var top, limit int
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "List stored runs, or summarize one stored report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDatabase(); err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := postgres.NewResultRepository(db)

			if len(args) == 0 {
				runs, err := repo.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				for _, m := range runs {
					fmt.Fprintf(a.out, "%s\t%s\tseed=%d\t%s\n", m.RunID, m.CreatedAt, m.Seed, m.Fingerprint)
				}
				return nil
			}
			report, err := repo.GetReport(ctx, core.RunID(args[0]))
			if err != nil {
				return err
			}
			return renderSummary(a.out, report, top)
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "Features shown in the summary")
	cmd.Flags().IntVar(&limit, "limit", 20, "Runs listed")
	return cmd
}
