package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// SettlementClient settlement chain gateway. The gateway owns signing and
// transaction construction; this client only speaks its JSON API.
type SettlementClient struct {
	api *jsonClient
}

// SettlementClientOptions transport tuning
type SettlementClientOptions struct {
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// NewSettlementClient Create a settlement gateway client
func NewSettlementClient(baseURL string, opts SettlementClientOptions) *SettlementClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logrus.WithFields(logrus.Fields{"base_url": baseURL, "timeout": opts.Timeout}).Info("🔧 [Settlement] client created")
	return &SettlementClient{
		api: newJSONClient("settlement", baseURL, opts.Timeout, opts.BreakerMaxFailures, opts.BreakerTimeout),
	}
}

var _ interfaces.SettlementChainAdapter = (*SettlementClient)(nil)

// ReadPoolState current pool view
func (c *SettlementClient) ReadPoolState(ctx context.Context) (*interfaces.SettlementPoolState, error) {
	var resp settlementPoolResponse
	if err := c.api.do(ctx, http.MethodGet, "/api/pool", nil, &resp); err != nil {
		return nil, err
	}

	state := &interfaces.SettlementPoolState{
		ParticipantCount: resp.ParticipantCount,
		Status:           models.SettlementPoolStatus(resp.Status),
	}
	switch state.Status {
	case models.SettlementPoolOpen, models.SettlementPoolStaked, models.SettlementPoolFinalized:
	default:
		return nil, fmt.Errorf("%w: unknown settlement pool status %q", types.ErrAdapterFailure, resp.Status)
	}
	var err error
	if state.TotalDeposited, err = parseWireAmount("total_deposited", resp.TotalDeposited); err != nil {
		return nil, err
	}
	if state.YieldAmount, err = parseWireAmount("yield_amount", resp.YieldAmount); err != nil {
		return nil, err
	}
	if state.StakedAmount, err = parseWireAmount("staked_amount", resp.StakedAmount); err != nil {
		return nil, err
	}
	if state.WinnerCommitment, err = parseWireHash("winner_commitment", resp.WinnerCommitment); err != nil {
		return nil, err
	}
	return state, nil
}

// InitializePool opens the custody pool for an epoch
func (c *SettlementClient) InitializePool(ctx context.Context, epochID uint64, deadline time.Time, adminIdentity string) (string, error) {
	var resp txRefResponse
	req := initializePoolRequest{
		EpochID:       epochID,
		Deadline:      deadline.UTC().Format(time.RFC3339),
		AdminIdentity: adminIdentity,
	}
	if err := c.api.do(ctx, http.MethodPost, "/api/pool/initialize", req, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

// InitiateStaking delegates amount
func (c *SettlementClient) InitiateStaking(ctx context.Context, amount *uint256.Int) (*interfaces.StakeReceipt, error) {
	var resp stakeResponse
	if err := c.api.do(ctx, http.MethodPost, "/api/pool/stake", stakeRequest{Amount: decString(amount)}, &resp); err != nil {
		return nil, err
	}
	staked, err := parseWireAmount("staked_amount", resp.StakedAmount)
	if err != nil {
		return nil, err
	}
	return &interfaces.StakeReceipt{TxRef: resp.TxRef, StakedAmount: staked}, nil
}

// ClaimRewards withdraws accrued staking rewards into the pool
func (c *SettlementClient) ClaimRewards(ctx context.Context) (*interfaces.RewardReceipt, error) {
	var resp rewardResponse
	if err := c.api.do(ctx, http.MethodPost, "/api/pool/rewards/claim", struct{}{}, &resp); err != nil {
		return nil, err
	}
	reward, err := parseWireAmount("reward_amount", resp.RewardAmount)
	if err != nil {
		return nil, err
	}
	return &interfaces.RewardReceipt{TxRef: resp.TxRef, RewardAmount: reward}, nil
}

// FinalizeEpoch fixes winner and yield on the settlement chain
func (c *SettlementClient) FinalizeEpoch(ctx context.Context, winner common.Hash, winnerProof []byte, yield *uint256.Int) (string, error) {
	var resp txRefResponse
	req := finalizeRequest{
		WinnerCommitment: winner.Hex(),
		WinnerProof:      encodeBytes(winnerProof),
		YieldAmount:      decString(yield),
	}
	if err := c.api.do(ctx, http.MethodPost, "/api/pool/finalize", req, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

// PayWinner principal + yield to the winning commitment
func (c *SettlementClient) PayWinner(ctx context.Context, cm common.Hash, proof []byte, principal, yield *uint256.Int) (string, error) {
	return c.payout(ctx, "/api/payouts/winner", payoutRequest{
		Commitment: cm.Hex(),
		Proof:      encodeBytes(proof),
		Principal:  decString(principal),
		Yield:      decString(yield),
	})
}

// PayLoser principal back to a non-winning commitment
func (c *SettlementClient) PayLoser(ctx context.Context, cm common.Hash, proof []byte, principal *uint256.Int) (string, error) {
	return c.payout(ctx, "/api/payouts/loser", payoutRequest{
		Commitment: cm.Hex(),
		Proof:      encodeBytes(proof),
		Principal:  decString(principal),
	})
}

func (c *SettlementClient) payout(ctx context.Context, path string, req payoutRequest) (string, error) {
	var resp txRefResponse
	if err := c.api.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	if resp.TxRef == "" {
		return "", fmt.Errorf("%w: payout accepted without tx ref", types.ErrAdapterFailure)
	}
	return resp.TxRef, nil
}
