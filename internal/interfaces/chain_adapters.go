package interfaces

import (
	"context"
	"time"

	"lottery-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// These interfaces break the dependency between clients (remote gateways and
// in-memory simulators) and the services that drive an epoch.
// Every call is blocking and must honour ctx; callers always pass a deadline.
// Implementations return errors wrapping types.ErrAdapterFailure for transient
// faults and types.ErrRejected when the ledger refused the request.

// SettlementPoolState pool as reported by the settlement chain
type SettlementPoolState struct {
	TotalDeposited   *uint256.Int
	ParticipantCount int
	YieldAmount      *uint256.Int
	StakedAmount     *uint256.Int
	WinnerCommitment common.Hash
	Status           models.SettlementPoolStatus
}

// StakeReceipt result of InitiateStaking
type StakeReceipt struct {
	TxRef        string
	StakedAmount *uint256.Int
}

// RewardReceipt result of ClaimRewards
type RewardReceipt struct {
	TxRef        string
	RewardAmount *uint256.Int
}

// SettlementChainAdapter fund custody, staking delegation and payouts.
// All calls are idempotent at the ledger level or deduplicated by the adapter.
type SettlementChainAdapter interface {
	ReadPoolState(ctx context.Context) (*SettlementPoolState, error)
	InitializePool(ctx context.Context, epochID uint64, deadline time.Time, adminIdentity string) (string, error)
	InitiateStaking(ctx context.Context, amount *uint256.Int) (*StakeReceipt, error)
	ClaimRewards(ctx context.Context) (*RewardReceipt, error)
	FinalizeEpoch(ctx context.Context, winner common.Hash, winnerProof []byte, yield *uint256.Int) (string, error)
	PayWinner(ctx context.Context, c common.Hash, proof []byte, principal, yield *uint256.Int) (string, error)
	PayLoser(ctx context.Context, c common.Hash, proof []byte, principal *uint256.Int) (string, error)
}

// PrivacyPoolState pool as reported by the privacy chain
type PrivacyPoolState struct {
	Locked           bool
	WinnerSelected   bool
	ParticipantCount int
	Commitments      []common.Hash // registration order
	WinnerCommitment common.Hash
	Randomness       []byte // nil until published
}

// ClaimReceipt result of a proof-gated claim
type ClaimReceipt struct {
	TxRef      string
	ClaimToken string
}

// ProofProvider opaque proof generation. A rejected or unavailable proof
// blocks settlement; callers never substitute a default.
type ProofProvider interface {
	GenerateProof(ctx context.Context, kind models.ProofKind, secret []byte, c, winner common.Hash) ([]byte, error)
}

// PrivacyChainAdapter commitment registration, pool locking, winner
// declaration and proof-gated claims.
type PrivacyChainAdapter interface {
	ProofProvider

	ReadPoolState(ctx context.Context) (*PrivacyPoolState, error)
	InitializeEpoch(ctx context.Context, epochID uint64, maxParticipants int, minDeposit *uint256.Int, duration time.Duration) (string, error)
	RegisterDeposit(ctx context.Context, c common.Hash, proof []byte) (string, error)
	LockPool(ctx context.Context) (string, error)
	DeclareWinner(ctx context.Context, c common.Hash) (string, error)
	Claim(ctx context.Context, c common.Hash, proof []byte, isWinner bool) (*ClaimReceipt, error)
}

// TxConfirmer waits until a settlement transaction is durably recorded
type TxConfirmer interface {
	WaitConfirmed(ctx context.Context, txRef string) error
}
