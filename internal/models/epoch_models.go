// Lottery epoch database models - coordinator-side view of one bridged epoch
package models

import (
	"time"
)

// EpochStatus lifecycle status of one lottery epoch
type EpochStatus string

const (
	EpochStatusCollecting      EpochStatus = "collecting"       // accepting deposits
	EpochStatusStaking         EpochStatus = "staking"          // pool locked, stake being delegated
	EpochStatusSelectingWinner EpochStatus = "selecting_winner" // stake durable, waiting for randomness
	EpochStatusDistributing    EpochStatus = "distributing"     // winner fixed, withdrawals open
	EpochStatusCompleted       EpochStatus = "completed"        // every deposit withdrawn
)

// IsValid reports whether s is a known status
func (s EpochStatus) IsValid() bool {
	switch s {
	case EpochStatusCollecting, EpochStatusStaking, EpochStatusSelectingWinner,
		EpochStatusDistributing, EpochStatusCompleted:
		return true
	}
	return false
}

// Rank position of the status in the lifecycle, -1 for unknown values
func (s EpochStatus) Rank() int {
	switch s {
	case EpochStatusCollecting:
		return 0
	case EpochStatusStaking:
		return 1
	case EpochStatusSelectingWinner:
		return 2
	case EpochStatusDistributing:
		return 3
	case EpochStatusCompleted:
		return 4
	}
	return -1
}

// SettlementPoolStatus pool status as reported by the settlement chain
type SettlementPoolStatus string

const (
	SettlementPoolOpen      SettlementPoolStatus = "open"      // funds held, no stake
	SettlementPoolStaked    SettlementPoolStatus = "staked"    // delegation durably recorded
	SettlementPoolFinalized SettlementPoolStatus = "finalized" // winner and yield fixed
)

// ProofKind variant requested from the proof provider
type ProofKind string

const (
	ProofKindWinner ProofKind = "winner"
	ProofKindLoser  ProofKind = "loser"
)

// EpochRecord persisted snapshot of an epoch (amounts as decimal strings)
type EpochRecord struct {
	EpochID          uint64      `json:"epoch_id" gorm:"primaryKey;autoIncrement:false"`
	Status           EpochStatus `json:"status" gorm:"type:varchar(32);index;not null"`
	Deadline         time.Time   `json:"deadline" gorm:"not null"`
	MaxParticipants  int         `json:"max_participants" gorm:"not null"`
	MinDeposit       string      `json:"min_deposit" gorm:"type:varchar(80);not null"`
	TotalDeposited   string      `json:"total_deposited" gorm:"type:varchar(80);not null;default:'0'"`
	YieldAmount      string      `json:"yield_amount" gorm:"type:varchar(80);not null;default:'0'"`
	StakedAmount     string      `json:"staked_amount" gorm:"type:varchar(80);not null;default:'0'"`
	TotalPaid        string      `json:"total_paid" gorm:"type:varchar(80);not null;default:'0'"`
	WinnerCommitment string      `json:"winner_commitment" gorm:"type:varchar(66)"`
	RandomnessSeed   string      `json:"randomness_seed" gorm:"type:text"`
	AdminLocked      bool        `json:"admin_locked"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName epoch table
func (EpochRecord) TableName() string {
	return "lottery_epochs"
}

// DepositRecord persisted participant position. Amount never leaves the coordinator.
type DepositRecord struct {
	EpochID       uint64 `json:"epoch_id" gorm:"primaryKey;autoIncrement:false"`
	Commitment    string `json:"commitment" gorm:"primaryKey;type:varchar(66)"`
	Seq           int    `json:"seq" gorm:"not null"` // registration order, drives winner selection
	Amount        string `json:"-" gorm:"type:varchar(80);not null"`
	Withdrawn     bool   `json:"withdrawn" gorm:"not null;default:false"`
	PayoutPending bool   `json:"payout_pending" gorm:"not null;default:false"`
	IsWinner      bool   `json:"is_winner"`
	PaidAmount    string `json:"paid_amount" gorm:"type:varchar(80)"`
	ClaimTxRef    string `json:"claim_tx_ref"`
	ClaimToken    string `json:"claim_token"`
	ClaimProof    string `json:"-" gorm:"type:text"` // hex, accepted claim proof replayed by payout retries
	PayoutTxRef   string `json:"payout_tx_ref"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName deposit table
func (DepositRecord) TableName() string {
	return "lottery_deposits"
}
