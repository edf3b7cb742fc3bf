package clients

import (
	"fmt"

	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Wire format shared by the settlement gateway and the privacy node:
// amounts are decimal strings in the smallest unit, commitments and proofs
// are 0x-prefixed hex.

type txRefResponse struct {
	TxRef string `json:"tx_ref"`
}

type settlementPoolResponse struct {
	TotalDeposited   string `json:"total_deposited"`
	ParticipantCount int    `json:"participant_count"`
	YieldAmount      string `json:"yield_amount"`
	StakedAmount     string `json:"staked_amount"`
	WinnerCommitment string `json:"winner_commitment"`
	Status           string `json:"status"`
}

type initializePoolRequest struct {
	EpochID       uint64 `json:"epoch_id"`
	Deadline      string `json:"deadline"` // RFC3339
	AdminIdentity string `json:"admin_identity"`
}

type stakeRequest struct {
	Amount string `json:"amount"`
}

type stakeResponse struct {
	TxRef        string `json:"tx_ref"`
	StakedAmount string `json:"staked_amount"`
}

type rewardResponse struct {
	TxRef        string `json:"tx_ref"`
	RewardAmount string `json:"reward_amount"`
}

type finalizeRequest struct {
	WinnerCommitment string `json:"winner_commitment"`
	WinnerProof      string `json:"winner_proof"`
	YieldAmount      string `json:"yield_amount"`
}

type payoutRequest struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
	Principal  string `json:"principal"`
	Yield      string `json:"yield,omitempty"`
}

type privacyPoolResponse struct {
	Locked           bool     `json:"locked"`
	WinnerSelected   bool     `json:"winner_selected"`
	ParticipantCount int      `json:"participant_count"`
	Commitments      []string `json:"commitments"`
	WinnerCommitment string   `json:"winner_commitment"`
	Randomness       string   `json:"randomness"`
}

type initializeEpochRequest struct {
	EpochID         uint64 `json:"epoch_id"`
	MaxParticipants int    `json:"max_participants"`
	MinDeposit      string `json:"min_deposit"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type registerDepositRequest struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
}

type declareWinnerRequest struct {
	Commitment string `json:"commitment"`
}

type claimRequest struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
	IsWinner   bool   `json:"is_winner"`
}

type claimResponse struct {
	TxRef      string `json:"tx_ref"`
	ClaimToken string `json:"claim_token"`
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// parseWireAmount empty means zero; anything unparsable is a gateway fault
func parseWireAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s %q in gateway response", types.ErrAdapterFailure, field, s)
	}
	return v, nil
}

func parseWireHash(field, s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: bad %s %q in gateway response", types.ErrAdapterFailure, field, s)
	}
	return common.BytesToHash(raw), nil
}

func encodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}
