package database

import (
	"fmt"
	"time"

	"github.com/psds-microservice/conversation-router/internal/config"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open подключается к настроенной БД. Схема SQLite создаётся AutoMigrate,
// схема Postgres — миграциями MigrateUp.
func Open(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DB.SQLitePath)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.DB.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logger, cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.DB.Driver, err)
	}

	if cfg.DB.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// a single writer avoids "database is locked"
		sqlDB.SetMaxOpenConns(1)
		if err := db.AutoMigrate(model.All()...); err != nil {
			return nil, fmt.Errorf("database: auto-migrate: %w", err)
		}
	}
	logger.Info("database connection established", zap.String("driver", cfg.DB.Driver))
	return db, nil
}

// NewGormLogger направляет логи GORM в zap.
func NewGormLogger(logger *zap.Logger, level string) gormlogger.Interface {
	gormLevel := gormlogger.Warn
	switch level {
	case "debug":
		gormLevel = gormlogger.Info
	case "error":
		gormLevel = gormlogger.Error
	}
	return gormlogger.New(
		zap.NewStdLog(logger.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
