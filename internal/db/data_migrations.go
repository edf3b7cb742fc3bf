package db

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
	Down        func(*sql.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Backfill reconciliation fingerprints",
			Up:          backfillReconciliationFingerprints,
			Down:        noop,
		},
		{
			Version:     "data_002",
			Description: "Clear payout_pending on paid deposits",
			Up:          clearSettledPayoutPending,
			Down:        noop,
		},
	}
}

func noop(*sql.DB) error { return nil }

// backfillReconciliationFingerprints rows written before dedup existed have no fingerprint
func backfillReconciliationFingerprints(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE reconciliation_records
		SET fingerprint = kind || '/' || epoch_id || '/' || COALESCE(stage, '') || '/' || COALESCE(commitment, '')
		WHERE fingerprint IS NULL OR fingerprint = ''
	`)
	if err != nil {
		return fmt.Errorf("backfill fingerprints: %w", err)
	}
	n, _ := res.RowsAffected()
	logrus.Infof("✅ [DB] backfilled %d reconciliation fingerprints", n)
	return nil
}

// clearSettledPayoutPending a payout tx ref means the payout confirmed
func clearSettledPayoutPending(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE lottery_deposits
		SET payout_pending = FALSE
		WHERE payout_pending = TRUE AND payout_tx_ref IS NOT NULL AND payout_tx_ref <> ''
	`)
	if err != nil {
		return fmt.Errorf("clear payout_pending: %w", err)
	}
	n, _ := res.RowsAffected()
	logrus.Infof("✅ [DB] cleared payout_pending on %d deposits", n)
	return nil
}

// RunDataMigrations applies each migration once, tracked in schema_migrations_log
func RunDataMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations_log (
			id SERIAL PRIMARY KEY,
			version VARCHAR(50) NOT NULL UNIQUE,
			description TEXT,
			executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			rollback_at TIMESTAMP,
			status VARCHAR(20) DEFAULT 'completed'
		)
	`); err != nil {
		return err
	}

	for _, migration := range GetDataMigrations() {
		var count int
		if err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			logrus.Debugf("📋 [DB] data migration %s already applied", migration.Version)
			continue
		}

		logrus.Infof("🚀 [DB] running data migration: %s", migration.Description)
		if err := migration.Up(db); err != nil {
			return err
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			return err
		}
		logrus.Infof("✅ [DB] data migration %s completed", migration.Version)
	}
	return nil
}
