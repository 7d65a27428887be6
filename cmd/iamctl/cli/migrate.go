package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/migrations"
)

// NewMigrateCommand builds `migrate up|down [steps]` against the embedded schema.
func NewMigrateCommand(dsn func() string) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back schema migrations"}
	cmd.AddCommand(
		migrateStep("up", "Apply pending migrations (all by default)", db.Up, dsn),
		migrateStep("down", "Roll back applied migrations (one by default)", db.Down, dsn),
	)
	return cmd
}

func migrateStep(use, short string, direction db.Direction, dsn func() string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [steps]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(direction, args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.New(ctx, dsn(), 2)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool, migrations.Postgres, migrations.PostgresDir, direction, steps)
			for _, version := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", direction, version)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to do")
			}
			return nil
		},
	}
}

func parseSteps(direction db.Direction, args []string) (int, error) {
	if len(args) == 0 {
		if direction == db.Down {
			return 1, nil
		}
		return 0, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return steps, nil
}
