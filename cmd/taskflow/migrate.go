package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskflow.dev/internal/config"
	"taskflow.dev/internal/migrate"
	"taskflow.dev/internal/store/pg"
)

const migrateTimeout = 30 * time.Second

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long:  `Apply, roll back or inspect the embedded schema migrations.`,
	}
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					cmd.Println("schema is up to date")
					return nil
				}
				for _, v := range applied {
					cmd.Printf("applied %d\n", v)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				v, err := m.Down(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("rolled back %d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				rows, err := m.Status(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
				for _, r := range rows {
					at := "pending"
					if r.Applied {
						at = r.AppliedAt.UTC().Format(time.RFC3339)
					}
					_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Version, r.Name, at)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				current, err := m.Version(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("schema version %d\n", current)
				return nil
			})
		},
	})

	return cmd
}

var errNoDSN = errors.New("missing DSN: set --database-dsn or TASKFLOW_DATABASE_DSN")

func withManager(cmd *cobra.Command, fn func(context.Context, *migrate.Manager) error) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errNoDSN
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	m, err := migrate.NewManager(store.DB())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()
	if err := fn(ctx, m); err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
	}
	return nil
}
