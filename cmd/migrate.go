package cmd

import (
	"fmt"

	"github.com/psds-microservice/conversation-router/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (postgres)",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrate(database.MigrateUp),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE:  runMigrate(database.MigrateDown),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print migration status",
	RunE:  runMigrate(database.MigrateStatus),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func runMigrate(fn func(databaseURL string, logger *zap.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if cfg.DB.Driver != "postgres" {
			return fmt.Errorf("migrate: only the postgres driver uses migrations, sqlite is auto-migrated on start")
		}
		if err := fn(cfg.DatabaseURL(), log); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Use, err)
		}
		log.Info("migrate: ok", zap.String("command", cmd.Use))
		return nil
	}
}
