// Package epoch holds the authoritative in-process view of one lottery epoch.
//
// Machine validates every lifecycle transition and the settlement invariants.
// All transitions take the epoch-global write lock and either apply completely
// or return an error with the epoch untouched. Adapter I/O never happens here.
package epoch

import (
	"fmt"
	"sync"
	"time"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MinParticipants a lottery with fewer participants has nothing to draw
const MinParticipants = 2

// Params epoch policy fixed at initialization
type Params struct {
	MaxParticipants int          // 0 = unlimited
	MinDeposit      *uint256.Int // nil = any positive amount
	Duration        time.Duration
}

// Deposit one participant position
type Deposit struct {
	Commitment    common.Hash
	Amount        *uint256.Int
	Seq           int
	Withdrawn     bool
	PayoutPending bool // withdrawn flag set, settlement payout not yet confirmed
	IsWinner      bool
	PaidAmount    *uint256.Int
	Proof         []byte
	ClaimTxRef    string
	ClaimToken    string
	PayoutTxRef   string
}

func (d *Deposit) clone() Deposit {
	out := *d
	out.Amount = cloneInt(d.Amount)
	out.PaidAmount = cloneInt(d.PaidAmount)
	out.Proof = append([]byte(nil), d.Proof...)
	return out
}

// WithdrawalPlan what a settlement must pay for one commitment
type WithdrawalPlan struct {
	EpochID          uint64
	Commitment       common.Hash
	WinnerCommitment common.Hash
	IsWinner         bool
	Principal        *uint256.Int
	Yield            *uint256.Int // zero for non-winners
	Proof            []byte       // accepted claim proof, set once withdrawn
}

// Total principal + yield
func (p WithdrawalPlan) Total() *uint256.Int {
	return new(uint256.Int).Add(p.Principal, p.Yield)
}

// Kind proof variant the plan requires
func (p WithdrawalPlan) Kind() models.ProofKind {
	if p.IsWinner {
		return models.ProofKindWinner
	}
	return models.ProofKindLoser
}

// Option machine construction option
type Option func(*Machine)

// WithClock overrides the wall clock used for deadline checks
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// Machine epoch aggregate guarded by an epoch-global RW lock plus one
// exclusive section per commitment for withdrawal processing.
type Machine struct {
	mu sync.RWMutex

	id       uint64
	status   models.EpochStatus
	deadline time.Time
	params   Params

	deposits map[common.Hash]*Deposit
	order    []common.Hash

	totalDeposited *uint256.Int
	yieldAmount    *uint256.Int
	stakedAmount   *uint256.Int
	totalPaid      *uint256.Int
	winner         common.Hash
	randomness     []byte
	adminLocked    bool

	now func() time.Time

	commitLocksMu sync.Mutex
	commitLocks   map[common.Hash]*sync.Mutex
}

// New epoch in Collecting
func New(id uint64, deadline time.Time, params Params, opts ...Option) (*Machine, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: epoch id must be positive", types.ErrInvalidInput)
	}
	if deadline.IsZero() {
		return nil, fmt.Errorf("%w: missing deadline", types.ErrInvalidInput)
	}
	if params.MaxParticipants != 0 && params.MaxParticipants < MinParticipants {
		return nil, fmt.Errorf("%w: max participants must be at least %d", types.ErrInvalidInput, MinParticipants)
	}
	params.MinDeposit = cloneInt(params.MinDeposit)

	m := &Machine{
		id:             id,
		status:         models.EpochStatusCollecting,
		deadline:       deadline,
		params:         params,
		deposits:       make(map[common.Hash]*Deposit),
		totalDeposited: new(uint256.Int),
		yieldAmount:    new(uint256.Int),
		stakedAmount:   new(uint256.Int),
		totalPaid:      new(uint256.Int),
		now:            time.Now,
		commitLocks:    make(map[common.Hash]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ID immutable epoch id
func (m *Machine) ID() uint64 {
	return m.id
}

// Deadline immutable collection deadline
func (m *Machine) Deadline() time.Time {
	return m.deadline
}

// Params epoch policy
func (m *Machine) Params() Params {
	p := m.params
	p.MinDeposit = cloneInt(p.MinDeposit)
	return p
}

// Status consistent status read
func (m *Machine) Status() models.EpochStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Commitments registered commitments in registration order
func (m *Machine) Commitments() []common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]common.Hash(nil), m.order...)
}

// ParticipantCount number of registered deposits
func (m *Machine) ParticipantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Deposit copy of the deposit registered under c
func (m *Machine) Deposit(c common.Hash) (Deposit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deposits[c]
	if !ok {
		return Deposit{}, false
	}
	return d.clone(), true
}

// ---------------------------------------------------------------------------
// Collecting
// ---------------------------------------------------------------------------

// CheckDeposit validates a deposit without mutating the epoch
func (m *Machine) CheckDeposit(c common.Hash, amount *uint256.Int) error {
	if err := commitment.ValidateCommitment(c); err != nil {
		return err
	}
	if err := commitment.ValidateAmount(amount); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkDepositLocked(c, amount)
}

func (m *Machine) checkDepositLocked(c common.Hash, amount *uint256.Int) error {
	if m.params.MinDeposit != nil && amount.Lt(m.params.MinDeposit) {
		return fmt.Errorf("%w: deposit %s below minimum %s", types.ErrInvalidInput, amount.Dec(), m.params.MinDeposit.Dec())
	}
	if m.status != models.EpochStatusCollecting {
		return m.transitionErr("deposits closed")
	}
	if !m.now().Before(m.deadline) {
		return m.transitionErr("collection deadline passed")
	}
	if _, dup := m.deposits[c]; dup {
		return fmt.Errorf("%w: commitment %s already registered", types.ErrInvalidTransition, c.Hex())
	}
	if m.params.MaxParticipants > 0 && len(m.order) >= m.params.MaxParticipants {
		return fmt.Errorf("%w: epoch full (%d participants)", types.ErrInvalidTransition, m.params.MaxParticipants)
	}
	if _, overflow := new(uint256.Int).AddOverflow(m.totalDeposited, amount); overflow {
		return fmt.Errorf("%w: total deposited overflows", types.ErrInvalidInput)
	}
	return nil
}

// RegisterDeposit records a deposit already accepted by the privacy chain
func (m *Machine) RegisterDeposit(c common.Hash, amount *uint256.Int, proof []byte) error {
	if err := commitment.ValidateCommitment(c); err != nil {
		return err
	}
	if err := commitment.ValidateAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDepositLocked(c, amount); err != nil {
		return err
	}
	m.deposits[c] = &Deposit{
		Commitment: c,
		Amount:     amount.Clone(),
		Seq:        len(m.order),
		Proof:      append([]byte(nil), proof...),
	}
	m.order = append(m.order, c)
	m.totalDeposited = new(uint256.Int).Add(m.totalDeposited, amount)
	return nil
}

// CanLock reports whether Collecting -> Staking is allowed now
func (m *Machine) CanLock(admin bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canLockLocked(admin)
}

func (m *Machine) canLockLocked(admin bool) error {
	if m.status != models.EpochStatusCollecting {
		return m.transitionErr("pool already locked")
	}
	if len(m.order) < MinParticipants {
		return fmt.Errorf("%w: %d participant(s), need at least %d", types.ErrInvalidTransition, len(m.order), MinParticipants)
	}
	if !admin && m.now().Before(m.deadline) {
		return fmt.Errorf("%w: deadline %s not reached and no admin lock", types.ErrInvalidTransition, m.deadline.UTC().Format(time.RFC3339))
	}
	return nil
}

// Lock Collecting -> Staking
func (m *Machine) Lock(admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.canLockLocked(admin); err != nil {
		return err
	}
	m.status = models.EpochStatusStaking
	m.adminLocked = admin && m.now().Before(m.deadline)
	return nil
}

// TotalDeposited sum of sealed deposit amounts
func (m *Machine) TotalDeposited() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalDeposited.Clone()
}

// ---------------------------------------------------------------------------
// Staking / SelectingWinner
// ---------------------------------------------------------------------------

// ConfirmStake Staking -> SelectingWinner once the settlement chain reports
// the delegation as durably recorded.
func (m *Machine) ConfirmStake(staked *uint256.Int) error {
	if staked == nil {
		return fmt.Errorf("%w: missing staked amount", types.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != models.EpochStatusStaking {
		return m.transitionErr("stake confirmation outside staking")
	}
	if staked.Lt(m.totalDeposited) {
		return fmt.Errorf("%w: staked %s less than deposited %s", types.ErrInconsistentState, staked.Dec(), m.totalDeposited.Dec())
	}
	m.stakedAmount = staked.Clone()
	m.status = models.EpochStatusSelectingWinner
	return nil
}

// AddYield accrues claimed rewards. Frozen once distribution begins.
func (m *Machine) AddYield(amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: missing yield amount", types.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != models.EpochStatusStaking && m.status != models.EpochStatusSelectingWinner {
		return m.transitionErr("yield is frozen")
	}
	sum, overflow := new(uint256.Int).AddOverflow(m.yieldAmount, amount)
	if overflow {
		return fmt.Errorf("%w: yield overflows", types.ErrInvalidInput)
	}
	m.yieldAmount = sum
	return nil
}

// YieldAmount accrued yield
func (m *Machine) YieldAmount() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.yieldAmount.Clone()
}

// CheckWinner validates a winner record without mutating the epoch
func (m *Machine) CheckWinner(winner common.Hash, randomness []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkWinnerLocked(winner, randomness)
}

func (m *Machine) checkWinnerLocked(winner common.Hash, randomness []byte) error {
	if m.status != models.EpochStatusSelectingWinner {
		return m.transitionErr("winner selection not open")
	}
	if len(randomness) == 0 {
		return fmt.Errorf("%w: empty randomness", types.ErrInvalidInput)
	}
	if _, ok := m.deposits[winner]; !ok {
		return fmt.Errorf("%w: winner %s is not a participant", types.ErrInvalidInput, winner.Hex())
	}
	return nil
}

// RecordWinner SelectingWinner -> Distributing. Irreversible.
func (m *Machine) RecordWinner(winner common.Hash, randomness []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWinnerLocked(winner, randomness); err != nil {
		return err
	}
	m.winner = winner
	m.randomness = append([]byte(nil), randomness...)
	m.deposits[winner].IsWinner = true
	m.status = models.EpochStatusDistributing
	return nil
}

// Winner winning commitment and randomness; zero values before selection
func (m *Machine) Winner() (common.Hash, []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.winner, append([]byte(nil), m.randomness...)
}

// ---------------------------------------------------------------------------
// Distributing
// ---------------------------------------------------------------------------

// LockCommitment enters the exclusive section for c. Call the returned func to leave.
func (m *Machine) LockCommitment(c common.Hash) func() {
	m.commitLocksMu.Lock()
	l, ok := m.commitLocks[c]
	if !ok {
		l = &sync.Mutex{}
		m.commitLocks[c] = l
	}
	m.commitLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// PlanWithdrawal settlement plan for c, status must be Distributing
func (m *Machine) PlanWithdrawal(c common.Hash) (WithdrawalPlan, error) {
	if err := commitment.ValidateCommitment(c); err != nil {
		return WithdrawalPlan{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.withdrawableLocked(c)
	if err != nil {
		return WithdrawalPlan{}, err
	}
	return m.planLocked(d), nil
}

func (m *Machine) withdrawableLocked(c common.Hash) (*Deposit, error) {
	if m.status != models.EpochStatusDistributing {
		return nil, m.transitionErr("withdrawals not open")
	}
	d, ok := m.deposits[c]
	if !ok {
		return nil, fmt.Errorf("%w: unknown commitment %s", types.ErrInvalidInput, c.Hex())
	}
	if d.Withdrawn {
		return nil, fmt.Errorf("%w: commitment %s", types.ErrAlreadyWithdrawn, c.Hex())
	}
	return d, nil
}

func (m *Machine) planLocked(d *Deposit) WithdrawalPlan {
	p := WithdrawalPlan{
		EpochID:          m.id,
		Commitment:       d.Commitment,
		WinnerCommitment: m.winner,
		IsWinner:         d.Commitment == m.winner,
		Principal:        d.Amount.Clone(),
		Yield:            new(uint256.Int),
		Proof:            append([]byte(nil), d.Proof...),
	}
	if p.IsWinner {
		p.Yield = m.yieldAmount.Clone()
	}
	return p
}

// MarkWithdrawn atomic check-and-set of the withdrawn flag after the privacy
// chain accepted the claim. Must precede the payout call.
func (m *Machine) MarkWithdrawn(c common.Hash, proof []byte, claimTxRef, claimToken string) (WithdrawalPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.withdrawableLocked(c)
	if err != nil {
		return WithdrawalPlan{}, err
	}
	d.Withdrawn = true
	d.PayoutPending = true
	d.Proof = append([]byte(nil), proof...)
	d.ClaimTxRef = claimTxRef
	d.ClaimToken = claimToken
	return m.planLocked(d), nil
}

// PendingPayout plan for a withdrawn deposit whose payout is unconfirmed
func (m *Machine) PendingPayout(c common.Hash) (WithdrawalPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deposits[c]
	if !ok {
		return WithdrawalPlan{}, fmt.Errorf("%w: unknown commitment %s", types.ErrInvalidInput, c.Hex())
	}
	if !d.Withdrawn || !d.PayoutPending {
		return WithdrawalPlan{}, fmt.Errorf("%w: no pending payout for %s", types.ErrInvalidTransition, c.Hex())
	}
	return m.planLocked(d), nil
}

// RecordPayout confirms the settlement payout for c
func (m *Machine) RecordPayout(c common.Hash, txRef string, paid *uint256.Int) error {
	if paid == nil {
		return fmt.Errorf("%w: missing paid amount", types.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deposits[c]
	if !ok {
		return fmt.Errorf("%w: unknown commitment %s", types.ErrInvalidInput, c.Hex())
	}
	if !d.Withdrawn || !d.PayoutPending {
		return fmt.Errorf("%w: no pending payout for %s", types.ErrInvalidTransition, c.Hex())
	}
	d.PayoutPending = false
	d.PayoutTxRef = txRef
	d.PaidAmount = paid.Clone()
	m.totalPaid = new(uint256.Int).Add(m.totalPaid, paid)
	return nil
}

// CanComplete reports whether Distributing -> Completed is allowed
func (m *Machine) CanComplete() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canCompleteLocked()
}

func (m *Machine) canCompleteLocked() error {
	if m.status != models.EpochStatusDistributing {
		return m.transitionErr("epoch not distributing")
	}
	open := 0
	for _, d := range m.deposits {
		if !d.Withdrawn || d.PayoutPending {
			open++
		}
	}
	if open > 0 {
		return fmt.Errorf("%w: %d deposit(s) not settled", types.ErrInvalidTransition, open)
	}
	expected := new(uint256.Int).Add(m.totalDeposited, m.yieldAmount)
	if !m.totalPaid.Eq(expected) {
		return fmt.Errorf("%w: paid %s, pool holds %s", types.ErrInconsistentState, m.totalPaid.Dec(), expected.Dec())
	}
	return nil
}

// Complete Distributing -> Completed
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.canCompleteLocked(); err != nil {
		return err
	}
	m.status = models.EpochStatusCompleted
	return nil
}

func (m *Machine) transitionErr(reason string) error {
	return fmt.Errorf("%w: %s (status %s)", types.ErrInvalidTransition, reason, m.status)
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
