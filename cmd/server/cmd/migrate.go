package cmd

import (
	"context"
	"fmt"

	"github.com/Togather-Foundation/eventbook/internal/config"
	"github.com/Togather-Foundation/eventbook/internal/storage/postgres"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	migrationsPath string
	migrateSteps   int
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the SQL migrations in internal/storage/postgres/migrations
and install River's job tables.

Examples:
  # Apply all pending schema migrations
  eventbook migrate up

  # Roll back the last two migrations
  eventbook migrate down --steps 2

  # Install or upgrade River's tables
  eventbook migrate river`,
	}
	cmd.PersistentFlags().StringVar(&migrationsPath, "path", postgres.DefaultMigrationsPath, "directory holding the SQL migrations")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := migrateSetup()
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
				return err
			}
			logger.Info().Msg("schema migrations applied")
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateSteps <= 0 {
				return fmt.Errorf("--steps must be greater than 0")
			}
			cfg, logger, err := migrateSetup()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(cfg.Database.URL, migrationsPath, migrateSteps); err != nil {
				return err
			}
			logger.Info().Int("steps", migrateSteps).Msg("schema migrations rolled back")
			return nil
		},
	}
	down.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := migrateSetup()
			if err != nil {
				return err
			}
			v, dirty, err := postgres.MigrateVersion(cfg.Database.URL, migrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty:   %t\n", v, dirty)
			return nil
		},
	}

	river := &cobra.Command{
		Use:   "river",
		Short: "Install or upgrade River's job tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := migrateSetup()
			if err != nil {
				return err
			}
			return migrateRiver(cmd.Context(), cfg, logger)
		},
	}

	cmd.AddCommand(up, down, version, river)
	return cmd
}

func migrateSetup() (config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config error: %w", err)
	}
	return cfg, config.NewLogger(cfg.Logging), nil
}

func migrateRiver(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	pool, err := postgres.NewPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	applied, err := postgres.MigrateRiver(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info().Int("applied", applied).Msg("river migrations applied")
	return nil
}

// applyMigrations runs the schema and River migrations, as serve --migrate does.
func applyMigrations(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
		return err
	}
	logger.Info().Msg("schema migrations applied")
	return migrateRiver(ctx, cfg, logger)
}
