package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"lottery-backend/internal/config"
	"lottery-backend/internal/db"
)

// column width the coordinator relies on
type columnCheck struct {
	table  string
	column string
	min    int64
}

var checks = []columnCheck{
	{"lottery_epochs", "winner_commitment", 66},
	{"lottery_epochs", "total_deposited", 80},
	{"lottery_deposits", "commitment", 66},
	{"lottery_deposits", "amount", 80},
	{"lottery_deposits", "paid_amount", 80},
	{"reconciliation_records", "commitment", 66},
}

func main() {
	fmt.Println("🔍 Verifying database connection and coordinator schema...")
	fmt.Println(strings.Repeat("=", 60))

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	enabled, err := db.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if !enabled {
		log.Fatal("database.dsn is empty, nothing to verify")
	}
	defer db.Close()

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	failed := 0
	for _, ck := range checks {
		size, err := columnSize(sqlDB, ck.table, ck.column)
		switch {
		case err == sql.ErrNoRows:
			fmt.Printf("❌ %s.%s does not exist\n", ck.table, ck.column)
			failed++
		case err != nil:
			log.Fatalf("Failed to query %s.%s: %v", ck.table, ck.column, err)
		case size.Valid && size.Int64 < ck.min:
			fmt.Printf("❌ %s.%s is VARCHAR(%d), need at least %d\n", ck.table, ck.column, size.Int64, ck.min)
			failed++
		default:
			fmt.Printf("✅ %s.%s\n", ck.table, ck.column)
		}
	}

	var epochs, deposits, open int64
	_ = sqlDB.QueryRow("SELECT COUNT(*) FROM lottery_epochs").Scan(&epochs)
	_ = sqlDB.QueryRow("SELECT COUNT(*) FROM lottery_deposits").Scan(&deposits)
	_ = sqlDB.QueryRow("SELECT COUNT(*) FROM reconciliation_records WHERE status = 'pending'").Scan(&open)
	fmt.Printf("📊 epochs=%d deposits=%d pending reconciliations=%d\n", epochs, deposits, open)

	if failed > 0 {
		log.Fatalf("%d schema checks failed", failed)
	}
	fmt.Println("✅ Schema looks good")
}

func columnSize(sqlDB *sql.DB, table, column string) (sql.NullInt64, error) {
	var size sql.NullInt64
	err := sqlDB.QueryRow(`
		SELECT character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = $1
		AND column_name = $2
	`, table, column).Scan(&size)
	return size, err
}
