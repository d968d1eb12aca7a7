package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

func ensureDatabase(databaseURL string, logger *zap.Logger) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name is empty in url")
	}
	u.Path = "/postgres"
	db, err := sql.Open("postgres", u.String())
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping admin connection: %w", err)
	}
	var exists bool
	if err := db.QueryRow("SELECT true FROM pg_database WHERE datname = $1", dbName).Scan(&exists); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}
	if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	logger.Info("database: created", zap.String("database", dbName))
	return nil
}

func openMigrator(databaseURL string, logger *zap.Logger) (*sql.DB, error) {
	goose.SetBaseFS(migrations)
	goose.SetLogger(zap.NewStdLog(logger.Named("goose")))
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	return sql.Open("postgres", databaseURL)
}

// MigrateUp создаёт БД при необходимости и применяет миграции.
func MigrateUp(databaseURL string, logger *zap.Logger) error {
	if err := ensureDatabase(databaseURL, logger); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	db, err := openMigrator(databaseURL, logger)
	if err != nil {
		return fmt.Errorf("migrate open: %w", err)
	}
	defer db.Close()

	before, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("migrate version: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return err
	}
	after, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("migrate version: %w", err)
	}
	if before == after {
		logger.Info("migrate: no pending migrations", zap.Int64("version", after))
	} else {
		logger.Info("migrate: up ok", zap.Int64("from", before), zap.Int64("to", after))
	}
	return nil
}

// MigrateDown откатывает последнюю миграцию.
func MigrateDown(databaseURL string, logger *zap.Logger) error {
	db, err := openMigrator(databaseURL, logger)
	if err != nil {
		return fmt.Errorf("migrate open: %w", err)
	}
	defer db.Close()
	return goose.Down(db, "migrations")
}

func MigrateStatus(databaseURL string, logger *zap.Logger) error {
	db, err := openMigrator(databaseURL, logger)
	if err != nil {
		return fmt.Errorf("migrate open: %w", err)
	}
	defer db.Close()
	return goose.Status(db, "migrations")
}
