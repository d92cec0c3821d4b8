package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/splax/dealership/internal/app/migrate"
	"github.com/splax/dealership/internal/repository/postgres"
	"github.com/splax/dealership/internal/service/catalog"
	"github.com/splax/dealership/pkg/config"
	"github.com/splax/dealership/pkg/logger"
)

var timeout time.Duration

func main() {
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Dealership database migrations",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	rootCmd.AddCommand(upCmd(), statusCmd(), downCmd(), seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, runner migrate.Runner, _ *pgxpool.Pool, _ *slog.Logger) error {
				return runner.Ensure(ctx)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, runner migrate.Runner, _ *pgxpool.Pool, _ *slog.Logger) error {
				statuses, err := runner.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%05d  %-40s  %s\n", s.Version, s.Path, state)
				}
				return nil
			})
		},
	}
}

func downCmd() *cobra.Command {
	var target int64
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration, or down to --target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, runner migrate.Runner, _ *pgxpool.Pool, _ *slog.Logger) error {
				return runner.Down(ctx, target)
			})
		},
	}
	cmd.Flags().Int64Var(&target, "target", 0, "target version to roll back to")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply migrations and populate the car catalog if it is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, runner migrate.Runner, pool *pgxpool.Pool, log *slog.Logger) error {
				if err := runner.Ensure(ctx); err != nil {
					return err
				}
				return catalog.New(postgres.New(pool), log).EnsureSeeded(ctx)
			})
		},
	}
}

func withRunner(parent context.Context, fn func(context.Context, migrate.Runner, *pgxpool.Pool, *slog.Logger) error) error {
	config.LoadDotEnv()
	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return err
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		log.Error("failed to configure migration runner", "error", err)
		return err
	}
	defer runner.Close()

	if err := fn(ctx, runner, pool, log); err != nil {
		log.Error("migrate command failed", "error", err)
		return err
	}
	return nil
}
