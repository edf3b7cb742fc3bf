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
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// PrivacyClient privacy chain node client. Proof generation is delegated to
// the configured proof provider (normally the ZKVM service).
type PrivacyClient struct {
	api    *jsonClient
	prover interfaces.ProofProvider
}

// PrivacyClientOptions transport tuning
type PrivacyClientOptions struct {
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// NewPrivacyClient Create a privacy node client
func NewPrivacyClient(baseURL string, prover interfaces.ProofProvider, opts PrivacyClientOptions) *PrivacyClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logrus.WithFields(logrus.Fields{"base_url": baseURL, "timeout": opts.Timeout}).Info("🔧 [Privacy] client created")
	return &PrivacyClient{
		api:    newJSONClient("privacy", baseURL, opts.Timeout, opts.BreakerMaxFailures, opts.BreakerTimeout),
		prover: prover,
	}
}

var _ interfaces.PrivacyChainAdapter = (*PrivacyClient)(nil)

// ZKVMProver adapts ZKVMClient to interfaces.ProofProvider
type ZKVMProver struct {
	Client *ZKVMClient
}

// GenerateProof implements interfaces.ProofProvider
func (p ZKVMProver) GenerateProof(ctx context.Context, kind models.ProofKind, secret []byte, cm, winner common.Hash) ([]byte, error) {
	return p.Client.GenerateClaimProof(ctx, kind, secret, cm, winner)
}

// ReadPoolState current privacy pool view
func (c *PrivacyClient) ReadPoolState(ctx context.Context) (*interfaces.PrivacyPoolState, error) {
	var resp privacyPoolResponse
	if err := c.api.do(ctx, http.MethodGet, "/api/epoch", nil, &resp); err != nil {
		return nil, err
	}
	state := &interfaces.PrivacyPoolState{
		Locked:           resp.Locked,
		WinnerSelected:   resp.WinnerSelected,
		ParticipantCount: resp.ParticipantCount,
		Commitments:      make([]common.Hash, 0, len(resp.Commitments)),
	}
	for _, s := range resp.Commitments {
		h, err := parseWireHash("commitment", s)
		if err != nil {
			return nil, err
		}
		state.Commitments = append(state.Commitments, h)
	}
	var err error
	if state.WinnerCommitment, err = parseWireHash("winner_commitment", resp.WinnerCommitment); err != nil {
		return nil, err
	}
	if resp.Randomness != "" {
		if state.Randomness, err = hexutil.Decode(resp.Randomness); err != nil {
			return nil, fmt.Errorf("%w: bad randomness in node response", types.ErrAdapterFailure)
		}
	}
	return state, nil
}

// InitializeEpoch opens a new epoch on the privacy chain
func (c *PrivacyClient) InitializeEpoch(ctx context.Context, epochID uint64, maxParticipants int, minDeposit *uint256.Int, duration time.Duration) (string, error) {
	var resp txRefResponse
	req := initializeEpochRequest{
		EpochID:         epochID,
		MaxParticipants: maxParticipants,
		MinDeposit:      decString(minDeposit),
		DurationSeconds: int64(duration / time.Second),
	}
	if err := c.api.do(ctx, http.MethodPost, "/api/epoch/initialize", req, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

// RegisterDeposit records a commitment together with its deposit proof
func (c *PrivacyClient) RegisterDeposit(ctx context.Context, cm common.Hash, proof []byte) (string, error) {
	var resp txRefResponse
	req := registerDepositRequest{Commitment: cm.Hex(), Proof: encodeBytes(proof)}
	if err := c.api.do(ctx, http.MethodPost, "/api/deposits", req, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

// LockPool closes registration
func (c *PrivacyClient) LockPool(ctx context.Context) (string, error) {
	var resp txRefResponse
	if err := c.api.do(ctx, http.MethodPost, "/api/epoch/lock", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

// DeclareWinner records the winning commitment
func (c *PrivacyClient) DeclareWinner(ctx context.Context, cm common.Hash) (string, error) {
	var resp txRefResponse
	if err := c.api.do(ctx, http.MethodPost, "/api/epoch/winner", declareWinnerRequest{Commitment: cm.Hex()}, &resp); err != nil {
		return "", err
	}
	return resp.TxRef, nil
}

// GenerateProof delegates to the proof provider
func (c *PrivacyClient) GenerateProof(ctx context.Context, kind models.ProofKind, secret []byte, cm, winner common.Hash) ([]byte, error) {
	if c.prover == nil {
		return nil, fmt.Errorf("%w: no proof provider configured", types.ErrAdapterFailure)
	}
	return c.prover.GenerateProof(ctx, kind, secret, cm, winner)
}

// Claim submits a winner/loser proof; acceptance is the precondition for payout
func (c *PrivacyClient) Claim(ctx context.Context, cm common.Hash, proof []byte, isWinner bool) (*interfaces.ClaimReceipt, error) {
	var resp claimResponse
	req := claimRequest{Commitment: cm.Hex(), Proof: encodeBytes(proof), IsWinner: isWinner}
	if err := c.api.do(ctx, http.MethodPost, "/api/claims", req, &resp); err != nil {
		return nil, err
	}
	if resp.TxRef == "" {
		return nil, fmt.Errorf("%w: claim accepted without tx ref", types.ErrAdapterFailure)
	}
	return &interfaces.ClaimReceipt{TxRef: resp.TxRef, ClaimToken: resp.ClaimToken}, nil
}
