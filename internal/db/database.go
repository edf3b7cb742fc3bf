package db

import (
	"fmt"
	"time"

	"lottery-backend/internal/config"
	"lottery-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to the configured database and migrates the schema.
// Returns false when persistence is disabled (no DSN configured).
func InitDB() (bool, error) {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		logrus.Warn("⚠️ [DB] no database DSN configured, epoch persistence disabled")
		return false, nil
	}

	conn, err := Open(config.AppConfig.Database.DSN)
	if err != nil {
		return false, err
	}
	if err := Migrate(conn); err != nil {
		return false, err
	}
	DB = conn
	return true, nil
}

// Open connect with the coordinator's gorm settings
func Open(dsn string) (*gorm.DB, error) {
	logrus.Info("🔌 [DB] connecting to database")

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logrus.Info("✅ [DB] database connected successfully")
	return conn, nil
}

// Migrate creates or updates the coordinator tables, then applies pending data migrations
func Migrate(conn *gorm.DB) error {
	logrus.Info("🚀 [DB] starting schema migration with GORM AutoMigrate...")

	if err := conn.AutoMigrate(
		&models.EpochRecord{},
		&models.DepositRecord{},
		&models.BridgeEvent{},
		&models.ReconciliationRecord{},
	); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := RunDataMigrations(sqlDB); err != nil {
		return fmt.Errorf("data migrations failed: %w", err)
	}

	logrus.Info("✅ [DB] database schema migrated successfully")
	return nil
}

// Close release the global connection pool
func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Warnf("⚠️ [DB] close failed: %v", err)
		}
	}
}
