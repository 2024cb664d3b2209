package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/store"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command will read the database connection parameters from the config file
and apply all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

// loadPostgresConfig reads the config file and returns its postgres
// section, failing when the store is not postgres-backed.
func loadPostgresConfig(cmd *cobra.Command) (*config.PostgresConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.NewLoader().Load(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Store.Type != config.StoreTypePostgres || cfg.Store.Postgres == nil {
		return nil, fmt.Errorf("postgres store configuration is required")
	}
	return cfg.Store.Postgres, nil
}

// confirmMigration prompts unless --yes was passed.
func confirmMigration(cmd *cobra.Command, pgCfg *config.PostgresConfig, action string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	slog.Info("About to "+action+" migrations",
		"host", pgCfg.Host,
		"port", pgCfg.Port,
		"database", pgCfg.Database,
		"user", pgCfg.User)
	fmt.Print("Continue? (yes/no): ")
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	return response == "yes" || response == "y", nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	pgCfg, err := loadPostgresConfig(cmd)
	if err != nil {
		return err
	}

	ok, err := confirmMigration(cmd, pgCfg, "apply")
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	connString, err := store.ConnString(pgCfg)
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	slog.Info("Applying database migrations...")
	if err := store.MigrateUp(ctx, conn); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Migrations applied successfully")
	return nil
}
