// Package types provides common type definitions used across the backend
package types

import (
	"time"
)

// Amounts travel as decimal strings in the smallest settlement unit;
// commitments, secrets and proofs as 0x-prefixed hex.

// InitializeEpochRequest opens a new epoch. Empty fields take the configured defaults.
type InitializeEpochRequest struct {
	Deadline        *time.Time `json:"deadline,omitempty"`
	MaxParticipants *int       `json:"max_participants,omitempty"`
	MinDeposit      string     `json:"min_deposit,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
}

// ComputeCommitmentRequest derives a commitment from a secret and amount
type ComputeCommitmentRequest struct {
	Secret string `json:"secret" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// DepositRequest registers a commitment for the active epoch
type DepositRequest struct {
	Commitment string `json:"commitment" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Proof      string `json:"proof,omitempty"`
}

// LockPoolRequest admin lock. Force skips the deadline check.
type LockPoolRequest struct {
	Force bool `json:"force"`
}

// WithdrawalRequest settles one commitment
type WithdrawalRequest struct {
	Commitment string `json:"commitment" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}

// ResolveReconciliationRequest operator note closing a record
type ResolveReconciliationRequest struct {
	Note string `json:"note" binding:"required"`
}

// DepositView public view of one participant. The amount stays sealed.
type DepositView struct {
	Commitment    string `json:"commitment"`
	Seq           int    `json:"seq"`
	Withdrawn     bool   `json:"withdrawn"`
	PayoutPending bool   `json:"payout_pending,omitempty"`
	IsWinner      bool   `json:"is_winner,omitempty"`
	PaidAmount    string `json:"paid_amount,omitempty"`
	PayoutTxRef   string `json:"payout_tx_ref,omitempty"`
}

// EpochResponse public view of an epoch
type EpochResponse struct {
	EpochID          uint64        `json:"epoch_id"`
	Status           string        `json:"status"`
	Deadline         time.Time     `json:"deadline"`
	MaxParticipants  int           `json:"max_participants"`
	MinDeposit       string        `json:"min_deposit"`
	ParticipantCount int           `json:"participant_count"`
	WithdrawnCount   int           `json:"withdrawn_count"`
	TotalDeposited   string        `json:"total_deposited"`
	StakedAmount     string        `json:"staked_amount"`
	YieldAmount      string        `json:"yield_amount"`
	TotalPaid        string        `json:"total_paid"`
	WinnerCommitment string        `json:"winner_commitment,omitempty"`
	RandomnessSeed   string        `json:"randomness_seed,omitempty"`
	AdminLocked      bool          `json:"admin_locked"`
	Deposits         []DepositView `json:"deposits,omitempty"`
}

// DepositResponse result of a registered deposit
type DepositResponse struct {
	Success          bool   `json:"success"`
	EpochID          uint64 `json:"epoch_id"`
	Commitment       string `json:"commitment"`
	TxRef            string `json:"tx_ref"`
	ParticipantCount int    `json:"participant_count"`
}

// WithdrawalResponse result of a settled withdrawal
type WithdrawalResponse struct {
	Success     bool   `json:"success"`
	EpochID     uint64 `json:"epoch_id"`
	Commitment  string `json:"commitment"`
	IsWinner    bool   `json:"is_winner"`
	Principal   string `json:"principal"`
	Yield       string `json:"yield"`
	Total       string `json:"total"`
	ClaimTxRef  string `json:"claim_tx_ref"`
	ClaimToken  string `json:"claim_token,omitempty"`
	PayoutTxRef string `json:"payout_tx_ref"`
	EpochStatus string `json:"epoch_status"`
}

// AdvanceResponse result of one lifecycle step
type AdvanceResponse struct {
	Success bool   `json:"success"`
	EpochID uint64 `json:"epoch_id"`
	Stage   string `json:"stage,omitempty"`
	Status  string `json:"status"`
}
