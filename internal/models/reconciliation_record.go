package models

import (
	"time"
)

// Reconciliation record status
type ReconciliationStatus string

const (
	ReconciliationStatusPending  ReconciliationStatus = "pending"  // waiting for an operator
	ReconciliationStatusResolved ReconciliationStatus = "resolved" // operator closed it
)

// Reconciliation record kind
type ReconciliationKind string

const (
	ReconciliationKindHalfApplied  ReconciliationKind = "half_applied"  // one chain committed, the other exhausted retries
	ReconciliationKindInconsistent ReconciliationKind = "inconsistent"  // chains report incompatible facts
	ReconciliationKindPayoutFailed ReconciliationKind = "payout_failed" // claim accepted, payout not confirmed
)

// Chain names used in records
const (
	ChainPrivacy    = "privacy"
	ChainSettlement = "settlement"
)

// ReconciliationRecord operator work item. The coordinator never reconciles on its own.
type ReconciliationRecord struct {
	ID     string               `json:"id" gorm:"primaryKey"` // UUID
	Kind   ReconciliationKind   `json:"kind" gorm:"not null;index"`
	Status ReconciliationStatus `json:"status" gorm:"not null;default:pending;index"`

	EpochID     uint64      `json:"epoch_id" gorm:"index"`
	Stage       string      `json:"stage"`
	EpochStatus EpochStatus `json:"epoch_status"` // last known status when recorded

	CommittedChain string `json:"committed_chain"` // chain that already applied its side
	Commitment     string `json:"commitment" gorm:"index"`
	TxRef          string `json:"tx_ref"` // tx ref of the committed side

	// Dedup key so the poller does not flood the table with the same fact
	Fingerprint string `json:"fingerprint" gorm:"index"`

	LastError  string `json:"last_error" gorm:"type:text"`
	Resolution string `json:"resolution" gorm:"type:text"`
	ResolvedBy string `json:"resolved_by"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// TableName reconciliation table
func (ReconciliationRecord) TableName() string {
	return "reconciliation_records"
}

// IsOpen record still needs an operator
func (r *ReconciliationRecord) IsOpen() bool {
	return r.Status == ReconciliationStatusPending
}

// MarkResolved close the record
func (r *ReconciliationRecord) MarkResolved(by, note string) {
	r.Status = ReconciliationStatusResolved
	r.ResolvedBy = by
	r.Resolution = note
	now := time.Now()
	r.ResolvedAt = &now
}
