package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/stacklok/crosspost-server/internal/store"
)

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert database migrations",
	Long: `Revert the database schema. This drops the engine's tables and the
state they hold; jobs in flight and identity links are lost.`,
	RunE: runMigrateDown,
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	pgCfg, err := loadPostgresConfig(cmd)
	if err != nil {
		return err
	}

	ok, err := confirmMigration(cmd, pgCfg, "revert")
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

	slog.Info("Reverting database migrations...")
	if err := store.MigrateDown(ctx, conn); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	slog.Info("Migrations reverted successfully")
	return nil
}
