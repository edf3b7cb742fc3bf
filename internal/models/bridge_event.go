package models

import (
	"time"
)

// BridgeEventType lifecycle milestone
type BridgeEventType string

const (
	BridgeEventEpochInitialized      BridgeEventType = "epoch_initialized"
	BridgeEventDepositSeen           BridgeEventType = "deposit_seen"
	BridgeEventPoolLocked            BridgeEventType = "pool_locked"
	BridgeEventStakingStarted        BridgeEventType = "staking_started"
	BridgeEventYieldUpdated          BridgeEventType = "yield_updated"
	BridgeEventWinnerSelected        BridgeEventType = "winner_selected"
	BridgeEventWithdrawalSettled     BridgeEventType = "withdrawal_settled"
	BridgeEventEpochCompleted        BridgeEventType = "epoch_completed"
	BridgeEventInconsistencyDetected BridgeEventType = "inconsistency_detected"
)

// BridgeEvent immutable fact emitted when a lifecycle milestone completes.
// Seq is assigned by the event bus and is strictly increasing in emission order.
type BridgeEvent struct {
	ID         string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Seq        uint64            `json:"seq" gorm:"uniqueIndex;not null"`
	EpochID    uint64            `json:"epoch_id" gorm:"index;not null"`
	Type       BridgeEventType   `json:"type" gorm:"type:varchar(40);index;not null"`
	Status     EpochStatus       `json:"status" gorm:"type:varchar(32)"` // epoch status after the milestone
	Commitment string            `json:"commitment,omitempty" gorm:"type:varchar(66);index"`
	Amount     string            `json:"amount,omitempty" gorm:"type:varchar(80)"`
	TxRef      string            `json:"tx_ref,omitempty"`
	Details    map[string]string `json:"details,omitempty" gorm:"serializer:json;type:text"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName event log table
func (BridgeEvent) TableName() string {
	return "bridge_events"
}
