package main

import (
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/config"
	"lottery-backend/internal/models"
	"lottery-backend/internal/selector"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
)

// epochRow columns of lottery_epochs the audit needs
type epochRow struct {
	ID             uint64
	Status         string
	TotalDeposited string
	YieldAmount    string
	TotalPaid      string
	Winner         string
	Seed           string
}

// depositRow columns of lottery_deposits the audit needs
type depositRow struct {
	Commitment string
	Seq        int
	Amount     string
	Withdrawn  bool
	IsWinner   bool
	PaidAmount string
}

func main() {
	epochID := flag.Uint64("epoch", 0, "epoch id to audit (required)")
	dsn := flag.String("dsn", "", "postgres DSN (default: DATABASE_DSN or config.yaml)")
	hashFamily := flag.String("hash", "", "hash family override: keccak256 | blake2b256")
	flag.Parse()

	if *epochID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	family := *hashFamily
	if *dsn == "" || family == "" {
		cfg, err := config.Load("")
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if *dsn == "" {
			*dsn = cfg.Database.DSN
		}
		if family == "" {
			family = cfg.Coordinator.HashFamily
		}
	}
	if *dsn == "" {
		log.Fatal("No database DSN configured")
	}

	engine, err := commitment.NewEngine(commitment.HashFamily(family))
	if err != nil {
		log.Fatalf("Invalid hash family: %v", err)
	}

	sqlDB, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	fmt.Printf("🔍 Auditing epoch %d (hash=%s)\n", *epochID, engine.Family())
	fmt.Println("============================================================")

	ep, err := loadEpoch(sqlDB, *epochID)
	if err != nil {
		log.Fatalf("Failed to load epoch: %v", err)
	}
	deposits, err := loadDeposits(sqlDB, *epochID)
	if err != nil {
		log.Fatalf("Failed to load deposits: %v", err)
	}
	fmt.Printf("📋 status=%s participants=%d total=%s yield=%s paid=%s\n",
		ep.Status, len(deposits), ep.TotalDeposited, ep.YieldAmount, ep.TotalPaid)

	findings := audit(engine, ep, deposits)
	if len(findings) == 0 {
		fmt.Println("✅ Epoch is consistent")
		return
	}
	for _, f := range findings {
		fmt.Printf("❌ %s\n", f)
	}
	os.Exit(1)
}

func loadEpoch(db *sql.DB, id uint64) (*epochRow, error) {
	var ep epochRow
	var winner, seed sql.NullString
	err := db.QueryRow(`
		SELECT epoch_id, status, total_deposited, yield_amount, total_paid, winner_commitment, randomness_seed
		FROM lottery_epochs
		WHERE epoch_id = $1
	`, id).Scan(&ep.ID, &ep.Status, &ep.TotalDeposited, &ep.YieldAmount, &ep.TotalPaid, &winner, &seed)
	if err != nil {
		return nil, err
	}
	ep.Winner = winner.String
	ep.Seed = seed.String
	return &ep, nil
}

func loadDeposits(db *sql.DB, id uint64) ([]depositRow, error) {
	rows, err := db.Query(`
		SELECT commitment, seq, amount, withdrawn, COALESCE(is_winner, false), COALESCE(paid_amount, '')
		FROM lottery_deposits
		WHERE epoch_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []depositRow
	for rows.Next() {
		var d depositRow
		if err := rows.Scan(&d.Commitment, &d.Seq, &d.Amount, &d.Withdrawn, &d.IsWinner, &d.PaidAmount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// audit recomputes totals and the winner from the stored rows
func audit(engine *commitment.Engine, ep *epochRow, deposits []depositRow) []string {
	var findings []string
	add := func(format string, args ...interface{}) {
		findings = append(findings, fmt.Sprintf(format, args...))
	}

	total := new(uint256.Int)
	paid := new(uint256.Int)
	commitments := make([]common.Hash, 0, len(deposits))
	for i, d := range deposits {
		if d.Seq != i {
			add("deposit %s has seq %d, expected %d", d.Commitment, d.Seq, i)
		}
		amount, err := uint256.FromDecimal(d.Amount)
		if err != nil {
			add("deposit %s: bad amount %q", d.Commitment, d.Amount)
			continue
		}
		total.Add(total, amount)
		if d.PaidAmount != "" {
			p, err := uint256.FromDecimal(d.PaidAmount)
			if err != nil {
				add("deposit %s: bad paid amount %q", d.Commitment, d.PaidAmount)
			} else {
				paid.Add(paid, p)
			}
		}
		cm, err := commitment.ParseCommitment(d.Commitment)
		if err != nil {
			add("deposit %s: %v", d.Commitment, err)
			continue
		}
		commitments = append(commitments, cm)
	}

	if stored, err := uint256.FromDecimal(ep.TotalDeposited); err != nil || !stored.Eq(total) {
		add("total_deposited %s, deposits sum to %s", ep.TotalDeposited, total.Dec())
	}
	if stored, err := uint256.FromDecimal(ep.TotalPaid); err != nil || !stored.Eq(paid) {
		add("total_paid %s, payouts sum to %s", ep.TotalPaid, paid.Dec())
	}

	if ep.Winner == "" {
		return findings
	}
	seed, err := hex.DecodeString(ep.Seed)
	if err != nil || len(seed) == 0 {
		add("winner recorded without a usable randomness seed")
		return findings
	}
	idx, winner, err := selector.Select(engine, commitments, seed)
	if err != nil {
		add("winner recomputation failed: %v", err)
		return findings
	}
	if winner.Hex() != common.HexToHash(ep.Winner).Hex() {
		add("stored winner %s, recomputed %s (index %d)", ep.Winner, winner.Hex(), idx)
	}
	for _, d := range deposits {
		if d.IsWinner != (common.HexToHash(d.Commitment) == winner) {
			add("deposit %s has is_winner=%t", d.Commitment, d.IsWinner)
		}
	}

	if ep.Status == string(models.EpochStatusCompleted) {
		yield, err := uint256.FromDecimal(ep.YieldAmount)
		if err == nil {
			expected := new(uint256.Int).Add(total, yield)
			if !expected.Eq(paid) {
				add("completed epoch paid %s, principal plus yield is %s", paid.Dec(), expected.Dec())
			}
		}
	}
	return findings
}
