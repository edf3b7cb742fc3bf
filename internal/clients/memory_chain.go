package clients

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Operation names accepted by the fault injection helpers
const (
	OpReadPool        = "read_pool"
	OpInitializePool  = "initialize_pool"
	OpInitiateStaking = "initiate_staking"
	OpClaimRewards    = "claim_rewards"
	OpFinalizeEpoch   = "finalize_epoch"
	OpPayWinner       = "pay_winner"
	OpPayLoser        = "pay_loser"

	OpInitializeEpoch = "initialize_epoch"
	OpRegisterDeposit = "register_deposit"
	OpLockPool        = "lock_pool"
	OpDeclareWinner   = "declare_winner"
	OpGenerateProof   = "generate_proof"
	OpClaim           = "claim"
)

// faults scripted failures for the in-memory chains
type faults struct {
	mu      sync.Mutex
	fail    map[string]int
	reject  map[string]int
	drop    map[string]int
	latency map[string]time.Duration
	calls   map[string]int
}

func newFaults() *faults {
	return &faults{
		fail:    make(map[string]int),
		reject:  make(map[string]int),
		drop:    make(map[string]int),
		latency: make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

// before counts the call, waits the injected latency and returns an injected
// error if one is scheduled.
func (f *faults) before(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	delay := f.latency[op]
	var err error
	switch {
	case f.fail[op] > 0:
		f.fail[op]--
		err = fmt.Errorf("%w: injected %s failure", types.ErrAdapterFailure, op)
	case f.reject[op] > 0:
		f.reject[op]--
		err = fmt.Errorf("%w: injected %s rejection", types.ErrRejected, op)
	}
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", types.ErrAdapterFailure, op, ctx.Err())
		case <-timer.C:
		}
	}
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %s: %v", types.ErrAdapterFailure, op, ctx.Err())
	}
	return err
}

// dropReply true when the operation applied but its answer must be lost
func (f *faults) dropReply(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drop[op] > 0 {
		f.drop[op]--
		return true
	}
	return false
}

// FailNext next n calls of op fail transiently without side effects
func (f *faults) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] += n
}

// RejectNext next n calls of op are refused by the ledger
func (f *faults) RejectNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[op] += n
}

// DropReplyNext next n calls of op apply on the ledger but report a transient failure
func (f *faults) DropReplyNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop[op] += n
}

// SetLatency delay every call of op
func (f *faults) SetLatency(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency[op] = d
}

// Calls number of invocations of op so far
func (f *faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func lostReply(op string) error {
	return fmt.Errorf("%w: %s reply lost", types.ErrAdapterFailure, op)
}

func memTxRef(chain, op string, seq uint64) string {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%s/%d", chain, op, seq))).Hex()
}

// ---------------------------------------------------------------------------
// Settlement chain
// ---------------------------------------------------------------------------

type memPayout struct {
	txRef  string
	amount *uint256.Int
}

// MemorySettlementChain in-process settlement ledger with fault injection
type MemorySettlementChain struct {
	*faults

	mu            sync.Mutex
	seq           uint64
	epochID       uint64
	status        models.SettlementPoolStatus
	funded        map[common.Hash]*uint256.Int
	totalFunded   *uint256.Int
	staked        *uint256.Int
	stakeTx       string
	pendingReward *uint256.Int
	yield         *uint256.Int
	winner        common.Hash
	finalizeTx    string
	payouts       map[common.Hash]memPayout
	totalPaid     *uint256.Int
}

var _ interfaces.SettlementChainAdapter = (*MemorySettlementChain)(nil)

// NewMemorySettlementChain empty ledger
func NewMemorySettlementChain() *MemorySettlementChain {
	s := &MemorySettlementChain{faults: newFaults()}
	s.reset(0)
	return s
}

func (s *MemorySettlementChain) reset(epochID uint64) {
	s.epochID = epochID
	s.status = models.SettlementPoolOpen
	s.funded = make(map[common.Hash]*uint256.Int)
	s.totalFunded = new(uint256.Int)
	s.staked = new(uint256.Int)
	s.stakeTx = ""
	s.pendingReward = new(uint256.Int)
	s.yield = new(uint256.Int)
	s.winner = common.Hash{}
	s.finalizeTx = ""
	s.payouts = make(map[common.Hash]memPayout)
	s.totalPaid = new(uint256.Int)
}

func (s *MemorySettlementChain) nextTx(op string) string {
	s.seq++
	return memTxRef("settlement", op, s.seq)
}

// Fund simulates a participant transferring a deposit into the pool
func (s *MemorySettlementChain) Fund(c common.Hash, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funded[c]; ok {
		return
	}
	s.funded[c] = amount.Clone()
	s.totalFunded = new(uint256.Int).Add(s.totalFunded, amount)
}

// AccrueReward simulates staking rewards becoming claimable
func (s *MemorySettlementChain) AccrueReward(amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingReward = new(uint256.Int).Add(s.pendingReward, amount)
}

// ForceStatus overrides the pool status, for divergence scenarios
func (s *MemorySettlementChain) ForceStatus(status models.SettlementPoolStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// PaidTo amount paid to c, nil if never paid
func (s *MemorySettlementChain) PaidTo(c common.Hash) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[c]
	if !ok {
		return nil
	}
	return p.amount.Clone()
}

// TotalPaid sum of all payouts
func (s *MemorySettlementChain) TotalPaid() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPaid.Clone()
}

// PayoutCount number of distinct commitments paid
func (s *MemorySettlementChain) PayoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payouts)
}

// ReadPoolState implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) ReadPoolState(ctx context.Context) (*interfaces.SettlementPoolState, error) {
	if err := s.before(ctx, OpReadPool); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &interfaces.SettlementPoolState{
		TotalDeposited:   s.totalFunded.Clone(),
		ParticipantCount: len(s.funded),
		YieldAmount:      s.yield.Clone(),
		StakedAmount:     s.staked.Clone(),
		WinnerCommitment: s.winner,
		Status:           s.status,
	}, nil
}

// InitializePool implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) InitializePool(ctx context.Context, epochID uint64, deadline time.Time, adminIdentity string) (string, error) {
	if err := s.before(ctx, OpInitializePool); err != nil {
		return "", err
	}
	if adminIdentity == "" {
		return "", fmt.Errorf("%w: missing admin identity", types.ErrRejected)
	}
	s.mu.Lock()
	if s.epochID != epochID {
		s.reset(epochID)
	}
	tx := s.nextTx(OpInitializePool)
	s.mu.Unlock()
	if s.dropReply(OpInitializePool) {
		return "", lostReply(OpInitializePool)
	}
	return tx, nil
}

// InitiateStaking implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) InitiateStaking(ctx context.Context, amount *uint256.Int) (*interfaces.StakeReceipt, error) {
	if err := s.before(ctx, OpInitiateStaking); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.status != models.SettlementPoolOpen {
		receipt := &interfaces.StakeReceipt{TxRef: s.stakeTx, StakedAmount: s.staked.Clone()}
		s.mu.Unlock()
		return receipt, nil
	}
	if amount == nil || amount.IsZero() || amount.Gt(s.totalFunded) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot stake %s, pool holds %s", types.ErrRejected, decString(amount), s.totalFunded.Dec())
	}
	s.staked = amount.Clone()
	s.stakeTx = s.nextTx(OpInitiateStaking)
	s.status = models.SettlementPoolStaked
	receipt := &interfaces.StakeReceipt{TxRef: s.stakeTx, StakedAmount: s.staked.Clone()}
	s.mu.Unlock()
	if s.dropReply(OpInitiateStaking) {
		return nil, lostReply(OpInitiateStaking)
	}
	return receipt, nil
}

// ClaimRewards implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) ClaimRewards(ctx context.Context) (*interfaces.RewardReceipt, error) {
	if err := s.before(ctx, OpClaimRewards); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.SettlementPoolStaked {
		return nil, fmt.Errorf("%w: rewards only claimable while staked", types.ErrRejected)
	}
	reward := s.pendingReward
	s.pendingReward = new(uint256.Int)
	s.yield = new(uint256.Int).Add(s.yield, reward)
	return &interfaces.RewardReceipt{TxRef: s.nextTx(OpClaimRewards), RewardAmount: reward}, nil
}

// FinalizeEpoch implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) FinalizeEpoch(ctx context.Context, winner common.Hash, winnerProof []byte, yield *uint256.Int) (string, error) {
	if err := s.before(ctx, OpFinalizeEpoch); err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.status == models.SettlementPoolFinalized {
		defer s.mu.Unlock()
		if s.winner != winner {
			return "", fmt.Errorf("%w: epoch already finalized for another winner", types.ErrRejected)
		}
		return s.finalizeTx, nil
	}
	if s.status != models.SettlementPoolStaked {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: pool not staked", types.ErrRejected)
	}
	if len(winnerProof) == 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: missing winner proof", types.ErrRejected)
	}
	if _, ok := s.funded[winner]; !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: winner never funded the pool", types.ErrRejected)
	}
	if yield != nil && !yield.Eq(s.yield) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: yield %s does not match claimed rewards %s", types.ErrRejected, yield.Dec(), s.yield.Dec())
	}
	s.winner = winner
	s.status = models.SettlementPoolFinalized
	s.finalizeTx = s.nextTx(OpFinalizeEpoch)
	tx := s.finalizeTx
	s.mu.Unlock()
	if s.dropReply(OpFinalizeEpoch) {
		return "", lostReply(OpFinalizeEpoch)
	}
	return tx, nil
}

// PayWinner implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) PayWinner(ctx context.Context, c common.Hash, proof []byte, principal, yield *uint256.Int) (string, error) {
	if err := s.before(ctx, OpPayWinner); err != nil {
		return "", err
	}
	return s.pay(OpPayWinner, c, proof, principal, yield, true)
}

// PayLoser implements interfaces.SettlementChainAdapter
func (s *MemorySettlementChain) PayLoser(ctx context.Context, c common.Hash, proof []byte, principal *uint256.Int) (string, error) {
	if err := s.before(ctx, OpPayLoser); err != nil {
		return "", err
	}
	return s.pay(OpPayLoser, c, proof, principal, new(uint256.Int), false)
}

func (s *MemorySettlementChain) pay(op string, c common.Hash, proof []byte, principal, yield *uint256.Int, winner bool) (string, error) {
	s.mu.Lock()
	if p, ok := s.payouts[c]; ok {
		s.mu.Unlock()
		return p.txRef, nil
	}
	if s.status != models.SettlementPoolFinalized {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: epoch not finalized", types.ErrRejected)
	}
	if len(proof) == 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: missing claim proof", types.ErrRejected)
	}
	if winner != (c == s.winner) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s is not eligible for %s", types.ErrRejected, c.Hex(), op)
	}
	funded, ok := s.funded[c]
	if !ok || principal == nil || !principal.Eq(funded) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: principal does not match funded deposit", types.ErrRejected)
	}
	amount := new(uint256.Int).Add(principal, yield)
	available := new(uint256.Int).Add(s.totalFunded, s.yield)
	if new(uint256.Int).Add(s.totalPaid, amount).Gt(available) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: pool balance exhausted", types.ErrRejected)
	}
	tx := s.nextTx(op)
	s.payouts[c] = memPayout{txRef: tx, amount: amount}
	s.totalPaid = new(uint256.Int).Add(s.totalPaid, amount)
	s.mu.Unlock()
	if s.dropReply(op) {
		return "", lostReply(op)
	}
	return tx, nil
}

// ---------------------------------------------------------------------------
// Privacy chain
// ---------------------------------------------------------------------------

// MemoryPrivacyChain in-process privacy ledger and proof provider with fault injection
type MemoryPrivacyChain struct {
	*faults

	mu              sync.Mutex
	seq             uint64
	epochID         uint64
	maxParticipants int
	minDeposit      *uint256.Int
	commitments     []common.Hash
	registered      map[common.Hash]string
	locked          bool
	lockTx          string
	winner          common.Hash
	declareTx       string
	randomness      []byte
	issued          map[common.Hash][]byte
	claims          map[common.Hash]*interfaces.ClaimReceipt
	rejectProofs    bool
}

var _ interfaces.PrivacyChainAdapter = (*MemoryPrivacyChain)(nil)

// NewMemoryPrivacyChain empty ledger
func NewMemoryPrivacyChain() *MemoryPrivacyChain {
	p := &MemoryPrivacyChain{faults: newFaults()}
	p.reset(0)
	return p
}

func (p *MemoryPrivacyChain) reset(epochID uint64) {
	p.epochID = epochID
	p.commitments = nil
	p.registered = make(map[common.Hash]string)
	p.locked = false
	p.lockTx = ""
	p.winner = common.Hash{}
	p.declareTx = ""
	p.randomness = nil
	p.issued = make(map[common.Hash][]byte)
	p.claims = make(map[common.Hash]*interfaces.ClaimReceipt)
}

func (p *MemoryPrivacyChain) nextTx(op string) string {
	p.seq++
	return memTxRef("privacy", op, p.seq)
}

// PublishRandomness makes the public randomness value available
func (p *MemoryPrivacyChain) PublishRandomness(r []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.randomness = append([]byte(nil), r...)
}

// RejectProofs makes the proof provider refuse every request
func (p *MemoryPrivacyChain) RejectProofs(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectProofs = reject
}

// ForceUnlock clears the lock flag, for divergence scenarios
func (p *MemoryPrivacyChain) ForceUnlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
}

// ClaimCount number of accepted claims
func (p *MemoryPrivacyChain) ClaimCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.claims)
}

// ReadPoolState implements interfaces.PrivacyChainAdapter
func (p *MemoryPrivacyChain) ReadPoolState(ctx context.Context) (*interfaces.PrivacyPoolState, error) {
	if err := p.before(ctx, OpReadPool); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return &interfaces.PrivacyPoolState{
		Locked:           p.locked,
		WinnerSelected:   p.declareTx != "",
		ParticipantCount: len(p.commitments),
		Commitments:      append([]common.Hash(nil), p.commitments...),
		WinnerCommitment: p.winner,
		Randomness:       append([]byte(nil), p.randomness...),
	}, nil
}

// InitializeEpoch implements interfaces.PrivacyChainAdapter
func (p *MemoryPrivacyChain) InitializeEpoch(ctx context.Context, epochID uint64, maxParticipants int, minDeposit *uint256.Int, duration time.Duration) (string, error) {
	if err := p.before(ctx, OpInitializeEpoch); err != nil {
		return "", err
	}
	if duration <= 0 {
		return "", fmt.Errorf("%w: non-positive epoch duration", types.ErrRejected)
	}
	p.mu.Lock()
	if p.epochID != epochID {
		p.reset(epochID)
	}
	p.maxParticipants = maxParticipants
	p.minDeposit = minDeposit
	tx := p.nextTx(OpInitializeEpoch)
	p.mu.Unlock()
	if p.dropReply(OpInitializeEpoch) {
		return "", lostReply(OpInitializeEpoch)
	}
	return tx, nil
}

// RegisterDeposit implements interfaces.PrivacyChainAdapter
func (p *MemoryPrivacyChain) RegisterDeposit(ctx context.Context, c common.Hash, proof []byte) (string, error) {
	if err := p.before(ctx, OpRegisterDeposit); err != nil {
		return "", err
	}
	p.mu.Lock()
	if tx, ok := p.registered[c]; ok {
		p.mu.Unlock()
		return tx, nil
	}
	if p.locked {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: pool locked", types.ErrRejected)
	}
	if p.maxParticipants > 0 && len(p.commitments) >= p.maxParticipants {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: pool full", types.ErrRejected)
	}
	tx := p.nextTx(OpRegisterDeposit)
	p.registered[c] = tx
	p.commitments = append(p.commitments, c)
	p.mu.Unlock()
	if p.dropReply(OpRegisterDeposit) {
		return "", lostReply(OpRegisterDeposit)
	}
	return tx, nil
}

// LockPool implements interfaces.PrivacyChainAdapter
func (p *MemoryPrivacyChain) LockPool(ctx context.Context) (string, error) {
	if err := p.before(ctx, OpLockPool); err != nil {
		return "", err
	}
	p.mu.Lock()
	if !p.locked {
		p.locked = true
		p.lockTx = p.nextTx(OpLockPool)
	}
	tx := p.lockTx
	p.mu.Unlock()
	if p.dropReply(OpLockPool) {
		return "", lostReply(OpLockPool)
	}
	return tx, nil
}

// DeclareWinner implements interfaces.PrivacyChainAdapter
func (p *MemoryPrivacyChain) DeclareWinner(ctx context.Context, c common.Hash) (string, error) {
	if err := p.before(ctx, OpDeclareWinner); err != nil {
		return "", err
	}
	p.mu.Lock()
	if p.declareTx != "" {
		defer p.mu.Unlock()
		if p.winner != c {
			return "", fmt.Errorf("%w: winner already declared", types.ErrRejected)
		}
		return p.declareTx, nil
	}
	if !p.locked {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: pool not locked", types.ErrRejected)
	}
	if _, ok := p.registered[c]; !ok {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: unknown commitment", types.ErrRejected)
	}
	p.winner = c
	p.declareTx = p.nextTx(OpDeclareWinner)
	tx := p.declareTx
	p.mu.Unlock()
	if p.dropReply(OpDeclareWinner) {
		return "", lostReply(OpDeclareWinner)
	}
	return tx, nil
}

// GenerateProof implements interfaces.ProofProvider. The proof binds kind,
// commitment and winner; the ledger only accepts proofs it issued.
func (p *MemoryPrivacyChain) GenerateProof(ctx context.Context, kind models.ProofKind, secret []byte, c, winner common.Hash) ([]byte, error) {
	if err := p.before(ctx, OpGenerateProof); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectProofs {
		return nil, fmt.Errorf("%w: proof generation refused", types.ErrRejected)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty witness", types.ErrRejected)
	}
	if (kind == models.ProofKindWinner) != (c == winner) {
		return nil, fmt.Errorf("%w: %s proof requested for %s", types.ErrRejected, kind, c.Hex())
	}
	proof := append([]byte(kind+":"), crypto.Keccak256(secret, c.Bytes(), winner.Bytes())...)
	p.issued[c] = proof
	return append([]byte(nil), proof...), nil
}

// Claim implements interfaces.PrivacyChainAdapter
func (p *MemoryPrivacyChain) Claim(ctx context.Context, c common.Hash, proof []byte, isWinner bool) (*interfaces.ClaimReceipt, error) {
	if err := p.before(ctx, OpClaim); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if r, ok := p.claims[c]; ok {
		p.mu.Unlock()
		return &interfaces.ClaimReceipt{TxRef: r.TxRef, ClaimToken: r.ClaimToken}, nil
	}
	if p.declareTx == "" {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: winner not declared", types.ErrRejected)
	}
	if isWinner != (c == p.winner) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: claim kind mismatch", types.ErrRejected)
	}
	if issued, ok := p.issued[c]; !ok || !bytes.Equal(issued, proof) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: proof does not verify", types.ErrRejected)
	}
	tx := p.nextTx(OpClaim)
	r := &interfaces.ClaimReceipt{TxRef: tx, ClaimToken: crypto.Keccak256Hash([]byte(tx)).Hex()[:18]}
	p.claims[c] = r
	p.mu.Unlock()
	if p.dropReply(OpClaim) {
		return nil, lostReply(OpClaim)
	}
	return &interfaces.ClaimReceipt{TxRef: r.TxRef, ClaimToken: r.ClaimToken}, nil
}
