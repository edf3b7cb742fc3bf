package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/epoch"
	"lottery-backend/internal/events"
	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/metrics"
	"lottery-backend/internal/models"
	"lottery-backend/internal/selector"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Stage names used in errors, metrics and reconciliation records
const (
	StageInitialize   = "initialize_epoch"
	StageDeposit      = "deposit"
	StageLock         = "lock_pool"
	StageStake        = "start_staking"
	StageYield        = "accrue_yield"
	StageSelectWinner = "select_winner"
	StageWithdraw     = "withdraw"
	StagePayout       = "payout"
	StageComplete     = "complete"
)

const persistTimeout = 10 * time.Second

// CoordinatorOptions dependencies and policy of a Coordinator
type CoordinatorOptions struct {
	Engine        *commitment.Engine
	Retry         RetryPolicy
	AdminIdentity string
	Params        epoch.Params
	Confirmer     interfaces.TxConfirmer            // optional
	Store         interfaces.EpochStore             // optional
	Recorder      interfaces.ReconciliationRecorder // optional
	Bus           *events.Bus                       // optional, a private bus is created when nil
	Clock         func() time.Time                  // optional
}

// InitializeRequest optional overrides for a new epoch
type InitializeRequest struct {
	Deadline time.Time     // zero = now + Params.Duration
	Params   *epoch.Params // nil = coordinator defaults
}

// DepositResult outcome of a registered deposit
type DepositResult struct {
	EpochID          uint64
	Commitment       common.Hash
	TxRef            string
	ParticipantCount int
}

// AdvanceResult what one Advance call did
type AdvanceResult struct {
	EpochID uint64
	Stage   string // empty when nothing was due
	Status  models.EpochStatus
}

// Coordinator drives one epoch at a time across the settlement chain and the
// privacy chain. Stage transitions run one at a time and exclude deposits.
// Deposits are serialized among themselves, privacy-chain call included, so
// both ledgers see the same registration order. Withdrawals are serialized
// per commitment only.
type Coordinator struct {
	settlement interfaces.SettlementChainAdapter
	privacy    interfaces.PrivacyChainAdapter

	engine        *commitment.Engine
	retry         RetryPolicy
	adminIdentity string
	params        epoch.Params
	confirmer     interfaces.TxConfirmer
	store         interfaces.EpochStore
	recorder      interfaces.ReconciliationRecorder
	bus           *events.Bus
	now           func() time.Time

	// stage drivers hold stageMu exclusively, deposits and polling share it
	stageMu sync.RWMutex
	// privacy-chain and local registration happen in the same order
	depositMu sync.Mutex
	// snapshot and save happen together so saves land in snapshot order
	persistMu sync.Mutex

	mu          sync.RWMutex
	machine     *epoch.Machine
	lastEpochID uint64
}

// NewCoordinator create a coordinator with no active epoch
func NewCoordinator(settlement interfaces.SettlementChainAdapter, privacy interfaces.PrivacyChainAdapter, opts CoordinatorOptions) *Coordinator {
	if opts.Engine == nil {
		opts.Engine = commitment.Default()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(events.DefaultHistory)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Params.Duration <= 0 {
		opts.Params.Duration = 24 * time.Hour
	}
	return &Coordinator{
		settlement:    settlement,
		privacy:       privacy,
		engine:        opts.Engine,
		retry:         opts.Retry.withDefaults(),
		adminIdentity: opts.AdminIdentity,
		params:        opts.Params,
		confirmer:     opts.Confirmer,
		store:         opts.Store,
		recorder:      opts.Recorder,
		bus:           opts.Bus,
		now:           opts.Clock,
	}
}

// Engine commitment engine shared with handlers and tools
func (c *Coordinator) Engine() *commitment.Engine {
	return c.engine
}

// Bus event bus observers subscribe to
func (c *Coordinator) Bus() *events.Bus {
	return c.bus
}

// Params default epoch parameters
func (c *Coordinator) Params() epoch.Params {
	return c.params
}

// OnEvent register an observer for bridge events
func (c *Coordinator) OnEvent(name string, handler events.Handler) {
	c.bus.OnEvent(name, handler)
}

func (c *Coordinator) current() *epoch.Machine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.machine
}

func (c *Coordinator) active(op string) (*epoch.Machine, error) {
	m := c.current()
	if m == nil {
		return nil, &types.CoordinatorError{Op: op, Err: types.ErrNoActiveEpoch}
	}
	return m, nil
}

// Snapshot consistent copy of the active epoch
func (c *Coordinator) Snapshot() (*epoch.Snapshot, error) {
	m, err := c.active("snapshot")
	if err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// Restore load the latest persisted epoch. Missing store or empty store is not an error.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	rec, deposits, err := c.store.LoadLatestEpoch(ctx)
	if err != nil {
		return fmt.Errorf("load latest epoch: %w", err)
	}
	if rec == nil {
		logrus.Info("ℹ️ [Coordinator] no persisted epoch, starting fresh")
		return nil
	}
	snap, err := epoch.SnapshotFromRecords(rec, deposits)
	if err != nil {
		return err
	}
	m, err := epoch.Restore(snap, epoch.WithClock(c.now))
	if err != nil {
		return err
	}

	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	c.mu.Lock()
	c.machine = m
	c.lastEpochID = m.ID()
	c.mu.Unlock()

	metrics.SetEpochStatus(string(m.Status()))
	metrics.EpochParticipants.Set(float64(m.ParticipantCount()))
	logrus.WithFields(logrus.Fields{
		"epoch":        m.ID(),
		"status":       m.Status(),
		"participants": m.ParticipantCount(),
	}).Info("♻️ [Coordinator] epoch restored")
	return nil
}

// ---------------------------------------------------------------------------
// Stages
// ---------------------------------------------------------------------------

// InitializeEpoch opens the next epoch on both chains. The previous epoch
// must be Completed.
func (c *Coordinator) InitializeEpoch(ctx context.Context, req InitializeRequest) (*epoch.Snapshot, error) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	start := time.Now()

	c.mu.RLock()
	prev, nextID := c.machine, c.lastEpochID+1
	c.mu.RUnlock()
	if prev != nil && prev.Status() != models.EpochStatusCompleted {
		return nil, c.fail(StageInitialize, prev, fmt.Errorf("%w: epoch %d still %s", types.ErrInvalidTransition, prev.ID(), prev.Status()))
	}

	params := c.params
	if req.Params != nil {
		params = *req.Params
		if params.Duration <= 0 {
			params.Duration = c.params.Duration
		}
	}
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = c.now().Add(params.Duration)
	} else if !deadline.After(c.now()) {
		return nil, c.fail(StageInitialize, prev, fmt.Errorf("%w: deadline already passed", types.ErrInvalidInput))
	}
	m, err := epoch.New(nextID, deadline, params, epoch.WithClock(c.now))
	if err != nil {
		return nil, c.fail(StageInitialize, prev, err)
	}

	log := logrus.WithField("epoch", nextID)
	log.Info("🚀 [Coordinator] initializing epoch")

	minDeposit := params.MinDeposit
	if minDeposit == nil {
		minDeposit = new(uint256.Int)
	}
	var privacyTx string
	err = c.call(ctx, chainPrivacy, "initialize_epoch", func(ctx context.Context) error {
		tx, err := c.privacy.InitializeEpoch(ctx, nextID, params.MaxParticipants, minDeposit, deadline.Sub(c.now()))
		privacyTx = tx
		return err
	})
	if err != nil {
		return nil, c.stageFailed(StageInitialize, prev, start, err)
	}

	var settlementTx string
	err = c.call(ctx, chainSettlement, "initialize_pool", func(ctx context.Context) error {
		tx, err := c.settlement.InitializePool(ctx, nextID, deadline, c.adminIdentity)
		settlementTx = tx
		return err
	})
	if err != nil {
		c.reconcile(ctx, &models.ReconciliationRecord{
			Kind:           models.ReconciliationKindHalfApplied,
			EpochID:        nextID,
			Stage:          StageInitialize,
			CommittedChain: models.ChainPrivacy,
			TxRef:          privacyTx,
			LastError:      err.Error(),
		})
		return nil, c.stageFailed(StageInitialize, prev, start, err)
	}

	c.mu.Lock()
	c.machine = m
	c.lastEpochID = nextID
	c.mu.Unlock()

	c.persist(m)
	metrics.SetEpochStatus(string(m.Status()))
	metrics.EpochParticipants.Set(0)
	c.observe(StageInitialize, start, nil)
	c.emit(m, models.BridgeEvent{
		Type:  models.BridgeEventEpochInitialized,
		TxRef: settlementTx,
		Details: map[string]string{
			"deadline":         deadline.UTC().Format(time.RFC3339),
			"max_participants": strconv.Itoa(params.MaxParticipants),
			"min_deposit":      minDeposit.Dec(),
			"privacy_tx":       privacyTx,
		},
	})
	log.WithField("deadline", deadline).Info("✅ [Coordinator] epoch initialized")
	return m.Snapshot(), nil
}

// Deposit registers a sealed deposit. The amount stays inside the coordinator;
// the privacy chain only ever sees the commitment and its deposit proof.
func (c *Coordinator) Deposit(ctx context.Context, cm common.Hash, amount *uint256.Int, proof []byte) (*DepositResult, error) {
	if err := commitment.ValidateCommitment(cm); err != nil {
		return nil, &types.CoordinatorError{Op: StageDeposit, Err: err}
	}
	if err := commitment.ValidateAmount(amount); err != nil {
		return nil, &types.CoordinatorError{Op: StageDeposit, Err: err}
	}

	c.stageMu.RLock()
	defer c.stageMu.RUnlock()

	m, err := c.active(StageDeposit)
	if err != nil {
		return nil, err
	}
	c.depositMu.Lock()
	defer c.depositMu.Unlock()
	if err := m.CheckDeposit(cm, amount); err != nil {
		return nil, c.fail(StageDeposit, m, err)
	}
	if err := c.requireSealedRandomness(ctx, m, StageDeposit); err != nil {
		return nil, c.fail(StageDeposit, m, err)
	}

	var txRef string
	err = c.call(ctx, chainPrivacy, "register_deposit", func(ctx context.Context) error {
		tx, err := c.privacy.RegisterDeposit(ctx, cm, proof)
		txRef = tx
		return err
	})
	if err != nil {
		return nil, c.fail(StageDeposit, m, err)
	}

	if err := m.RegisterDeposit(cm, amount, proof); err != nil {
		if _, dup := m.Deposit(cm); !dup {
			c.reconcile(ctx, &models.ReconciliationRecord{
				Kind:           models.ReconciliationKindHalfApplied,
				EpochID:        m.ID(),
				Stage:          StageDeposit,
				EpochStatus:    m.Status(),
				CommittedChain: models.ChainPrivacy,
				Commitment:     cm.Hex(),
				TxRef:          txRef,
				LastError:      err.Error(),
			})
		}
		return nil, c.fail(StageDeposit, m, err)
	}

	count := m.ParticipantCount()
	metrics.EpochParticipants.Set(float64(count))
	c.persist(m)
	c.emit(m, models.BridgeEvent{
		Type:       models.BridgeEventDepositSeen,
		Commitment: cm.Hex(),
		TxRef:      txRef,
		Details:    map[string]string{"participants": strconv.Itoa(count)},
	})
	logrus.WithFields(logrus.Fields{
		"epoch":        m.ID(),
		"commitment":   cm.Hex(),
		"participants": count,
	}).Info("📥 [Coordinator] deposit registered")

	return &DepositResult{EpochID: m.ID(), Commitment: cm, TxRef: txRef, ParticipantCount: count}, nil
}

// LockPool Collecting -> Staking. Without admin the collection deadline must
// have elapsed; either way at least two participants are required.
func (c *Coordinator) LockPool(ctx context.Context, admin bool) (*epoch.Snapshot, error) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	start := time.Now()

	m, err := c.active(StageLock)
	if err != nil {
		return nil, err
	}
	if err := m.CanLock(admin); err != nil {
		return nil, c.fail(StageLock, m, err)
	}
	if err := c.requireSealedRandomness(ctx, m, StageLock); err != nil {
		return nil, c.stageFailed(StageLock, m, start, err)
	}

	var txRef string
	err = c.call(ctx, chainPrivacy, "lock_pool", func(ctx context.Context) error {
		tx, err := c.privacy.LockPool(ctx)
		txRef = tx
		return err
	})
	if err != nil {
		return nil, c.stageFailed(StageLock, m, start, err)
	}
	if err := m.Lock(admin); err != nil {
		c.reconcile(ctx, &models.ReconciliationRecord{
			Kind:           models.ReconciliationKindHalfApplied,
			EpochID:        m.ID(),
			Stage:          StageLock,
			EpochStatus:    m.Status(),
			CommittedChain: models.ChainPrivacy,
			TxRef:          txRef,
			LastError:      err.Error(),
		})
		return nil, c.fail(StageLock, m, err)
	}

	c.transitioned(m, StageLock, start)
	c.emit(m, models.BridgeEvent{
		Type:   models.BridgeEventPoolLocked,
		TxRef:  txRef,
		Amount: m.TotalDeposited().Dec(),
		Details: map[string]string{
			"participants": strconv.Itoa(m.ParticipantCount()),
			"admin":        strconv.FormatBool(admin),
		},
	})
	return m.Snapshot(), nil
}

// StartStaking delegates the pooled funds and waits until the settlement
// chain reports the stake as durably recorded. Staking -> SelectingWinner.
func (c *Coordinator) StartStaking(ctx context.Context) (*epoch.Snapshot, error) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	start := time.Now()

	m, err := c.active(StageStake)
	if err != nil {
		return nil, err
	}
	if m.Status() != models.EpochStatusStaking {
		return nil, c.fail(StageStake, m, fmt.Errorf("%w: staking not open (status %s)", types.ErrInvalidTransition, m.Status()))
	}
	total := m.TotalDeposited()

	state, err := c.readSettlement(ctx)
	if err != nil {
		return nil, c.stageFailed(StageStake, m, start, err)
	}

	var txRef string
	if state.Status == models.SettlementPoolOpen {
		var receipt *interfaces.StakeReceipt
		err = c.call(ctx, chainSettlement, "initiate_staking", func(ctx context.Context) error {
			r, err := c.settlement.InitiateStaking(ctx, total)
			receipt = r
			return err
		})
		if err != nil {
			return nil, c.stageFailed(StageStake, m, start, err)
		}
		txRef = receipt.TxRef
		if err := c.waitConfirmed(ctx, chainSettlement, txRef); err != nil {
			return nil, c.stageFailed(StageStake, m, start, err)
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"epoch":  m.ID(),
			"status": state.Status,
		}).Info("ℹ️ [Coordinator] settlement pool already staked, confirming")
	}

	// durable means the chain itself now reports the stake
	err = c.call(ctx, chainSettlement, "read_pool", func(ctx context.Context) error {
		s, err := c.settlement.ReadPoolState(ctx)
		if err != nil {
			return err
		}
		if s.Status == models.SettlementPoolOpen {
			return fmt.Errorf("%w: stake not yet recorded", types.ErrAdapterFailure)
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, c.stageFailed(StageStake, m, start, err)
	}

	if err := m.ConfirmStake(state.StakedAmount); err != nil {
		if errors.Is(err, types.ErrInconsistentState) {
			c.inconsistent(ctx, m, StageStake, err)
		}
		return nil, c.fail(StageStake, m, err)
	}

	c.transitioned(m, StageStake, start)
	c.emit(m, models.BridgeEvent{
		Type:   models.BridgeEventStakingStarted,
		TxRef:  txRef,
		Amount: state.StakedAmount.Dec(),
	})
	return m.Snapshot(), nil
}

// AccrueYield claims outstanding staking rewards and adds them to the epoch yield.
func (c *Coordinator) AccrueYield(ctx context.Context) (*uint256.Int, error) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	start := time.Now()

	m, err := c.active(StageYield)
	if err != nil {
		return nil, err
	}
	if err := c.accrueLocked(ctx, m); err != nil {
		return nil, c.stageFailed(StageYield, m, start, err)
	}
	c.observe(StageYield, start, nil)
	return m.YieldAmount(), nil
}

func (c *Coordinator) accrueLocked(ctx context.Context, m *epoch.Machine) error {
	status := m.Status()
	if status != models.EpochStatusSelectingWinner && status != models.EpochStatusStaking {
		return fmt.Errorf("%w: yield is frozen (status %s)", types.ErrInvalidTransition, status)
	}
	var receipt *interfaces.RewardReceipt
	err := c.call(ctx, chainSettlement, "claim_rewards", func(ctx context.Context) error {
		r, err := c.settlement.ClaimRewards(ctx)
		receipt = r
		return err
	})
	if err != nil {
		return err
	}
	if receipt.RewardAmount == nil || receipt.RewardAmount.IsZero() {
		return nil
	}
	if err := m.AddYield(receipt.RewardAmount); err != nil {
		c.reconcile(ctx, &models.ReconciliationRecord{
			Kind:           models.ReconciliationKindHalfApplied,
			EpochID:        m.ID(),
			Stage:          StageYield,
			EpochStatus:    m.Status(),
			CommittedChain: models.ChainSettlement,
			TxRef:          receipt.TxRef,
			LastError:      err.Error(),
		})
		return err
	}
	c.persist(m)
	c.emit(m, models.BridgeEvent{
		Type:    models.BridgeEventYieldUpdated,
		TxRef:   receipt.TxRef,
		Amount:  m.YieldAmount().Dec(),
		Details: map[string]string{"reward": receipt.RewardAmount.Dec()},
	})
	return nil
}

// SelectWinner fixes the winner once the privacy chain has published its
// randomness: declare on the privacy chain, finalize on the settlement
// chain, then SelectingWinner -> Distributing. Irreversible.
func (c *Coordinator) SelectWinner(ctx context.Context) (*epoch.Snapshot, error) {
	c.stageMu.Lock()
	defer c.stageMu.Unlock()
	start := time.Now()

	m, err := c.active(StageSelectWinner)
	if err != nil {
		return nil, err
	}
	if m.Status() != models.EpochStatusSelectingWinner {
		return nil, c.fail(StageSelectWinner, m, fmt.Errorf("%w: winner selection not open (status %s)", types.ErrInvalidTransition, m.Status()))
	}

	privacy, err := c.readPrivacy(ctx)
	if err != nil {
		return nil, c.stageFailed(StageSelectWinner, m, start, err)
	}
	if !privacy.Locked {
		err := fmt.Errorf("%w: privacy pool reports unlocked after stake", types.ErrInconsistentState)
		c.inconsistent(ctx, m, StageSelectWinner, err)
		return nil, c.fail(StageSelectWinner, m, err)
	}
	if len(privacy.Randomness) == 0 {
		return nil, c.fail(StageSelectWinner, m, fmt.Errorf("%w: randomness not yet published", types.ErrInvalidTransition))
	}
	commitments := m.Commitments()
	if !sameOrder(commitments, privacy.Commitments) {
		err := fmt.Errorf("%w: privacy chain holds %d commitment(s) in a different order than the %d registered", types.ErrInconsistentState, len(privacy.Commitments), len(commitments))
		c.inconsistent(ctx, m, StageSelectWinner, err)
		return nil, c.fail(StageSelectWinner, m, err)
	}

	idx, winner, err := selector.Select(c.engine, commitments, privacy.Randomness)
	if err != nil {
		return nil, c.fail(StageSelectWinner, m, err)
	}
	if err := m.CheckWinner(winner, privacy.Randomness); err != nil {
		return nil, c.fail(StageSelectWinner, m, err)
	}
	log := logrus.WithFields(logrus.Fields{"epoch": m.ID(), "winner": winner.Hex(), "index": idx})

	settlement, err := c.readSettlement(ctx)
	if err != nil {
		return nil, c.stageFailed(StageSelectWinner, m, start, err)
	}
	switch settlement.Status {
	case models.SettlementPoolFinalized:
		if settlement.WinnerCommitment != winner {
			err := fmt.Errorf("%w: settlement chain finalized %s, selection yields %s", types.ErrInconsistentState, settlement.WinnerCommitment.Hex(), winner.Hex())
			c.inconsistent(ctx, m, StageSelectWinner, err)
			return nil, c.fail(StageSelectWinner, m, err)
		}
		log.Info("ℹ️ [Coordinator] settlement already finalized, resuming")
	case models.SettlementPoolStaked:
		// last rewards before the yield freezes
		if err := c.accrueLocked(ctx, m); err != nil {
			return nil, c.stageFailed(StageSelectWinner, m, start, err)
		}
	default:
		err := fmt.Errorf("%w: settlement pool %s after stake confirmation", types.ErrInconsistentState, settlement.Status)
		c.inconsistent(ctx, m, StageSelectWinner, err)
		return nil, c.fail(StageSelectWinner, m, err)
	}

	var declareTx string
	if privacy.WinnerSelected {
		if privacy.WinnerCommitment != winner {
			err := fmt.Errorf("%w: privacy chain declared %s, selection yields %s", types.ErrInconsistentState, privacy.WinnerCommitment.Hex(), winner.Hex())
			c.inconsistent(ctx, m, StageSelectWinner, err)
			return nil, c.fail(StageSelectWinner, m, err)
		}
		log.Info("ℹ️ [Coordinator] winner already declared on privacy chain, resuming")
	} else {
		err = c.call(ctx, chainPrivacy, "declare_winner", func(ctx context.Context) error {
			tx, err := c.privacy.DeclareWinner(ctx, winner)
			declareTx = tx
			return err
		})
		if err != nil {
			return nil, c.stageFailed(StageSelectWinner, m, start, err)
		}
	}

	yield := m.YieldAmount()
	winnerProof := selector.Digest(c.engine, commitments, privacy.Randomness).Bytes()
	var finalizeTx string
	err = c.call(ctx, chainSettlement, "finalize_epoch", func(ctx context.Context) error {
		tx, err := c.settlement.FinalizeEpoch(ctx, winner, winnerProof, yield)
		finalizeTx = tx
		return err
	})
	if err == nil {
		err = c.waitConfirmed(ctx, chainSettlement, finalizeTx)
	}
	if err != nil {
		c.reconcile(ctx, &models.ReconciliationRecord{
			Kind:           models.ReconciliationKindHalfApplied,
			EpochID:        m.ID(),
			Stage:          StageSelectWinner,
			EpochStatus:    m.Status(),
			CommittedChain: models.ChainPrivacy,
			Commitment:     winner.Hex(),
			TxRef:          declareTx,
			LastError:      err.Error(),
		})
		return nil, c.stageFailed(StageSelectWinner, m, start, err)
	}

	if err := m.RecordWinner(winner, privacy.Randomness); err != nil {
		return nil, c.fail(StageSelectWinner, m, err)
	}

	c.transitioned(m, StageSelectWinner, start)
	c.emit(m, models.BridgeEvent{
		Type:       models.BridgeEventWinnerSelected,
		Commitment: winner.Hex(),
		TxRef:      finalizeTx,
		Amount:     yield.Dec(),
		Details: map[string]string{
			"index":      strconv.Itoa(idx),
			"randomness": hex.EncodeToString(privacy.Randomness),
			"declare_tx": declareTx,
		},
	})
	log.Info("🏆 [Coordinator] winner selected")
	return m.Snapshot(), nil
}

// Advance runs whichever stage is due for the active epoch. Nothing due is not an error.
func (c *Coordinator) Advance(ctx context.Context) (*AdvanceResult, error) {
	m, err := c.active("advance")
	if err != nil {
		return nil, err
	}
	res := &AdvanceResult{EpochID: m.ID()}

	switch m.Status() {
	case models.EpochStatusCollecting:
		if m.CanLock(false) == nil {
			res.Stage = StageLock
			_, err = c.LockPool(ctx, false)
		}
	case models.EpochStatusStaking:
		res.Stage = StageStake
		_, err = c.StartStaking(ctx)
	case models.EpochStatusSelectingWinner:
		var privacy *interfaces.PrivacyPoolState
		privacy, err = c.readPrivacy(ctx)
		if err != nil {
			err = c.fail("advance", m, err)
			break
		}
		if len(privacy.Randomness) > 0 {
			res.Stage = StageSelectWinner
			_, err = c.SelectWinner(ctx)
		} else {
			res.Stage = StageYield
			_, err = c.AccrueYield(ctx)
		}
	case models.EpochStatusDistributing:
		if m.CanComplete() == nil {
			res.Stage = StageComplete
			err = c.tryComplete(ctx, m)
		}
	}
	res.Status = m.Status()
	return res, err
}

// tryComplete Distributing -> Completed when every deposit is settled
func (c *Coordinator) tryComplete(ctx context.Context, m *epoch.Machine) error {
	err := m.CanComplete()
	if err != nil {
		if errors.Is(err, types.ErrInconsistentState) {
			c.inconsistent(ctx, m, StageComplete, err)
			return c.fail(StageComplete, m, err)
		}
		return nil
	}
	if err := m.Complete(); err != nil {
		// a concurrent withdrawal completed it first
		if m.Status() == models.EpochStatusCompleted {
			return nil
		}
		return c.fail(StageComplete, m, err)
	}
	snap := m.Snapshot()
	metrics.SetEpochStatus(string(snap.Status))
	c.persist(m)
	c.emit(m, models.BridgeEvent{
		Type:    models.BridgeEventEpochCompleted,
		Amount:  snap.TotalPaid.Dec(),
		Details: map[string]string{"participants": strconv.Itoa(snap.ParticipantCount())},
	})
	logrus.WithFields(logrus.Fields{
		"epoch":      m.ID(),
		"total_paid": snap.TotalPaid.Dec(),
	}).Info("🎉 [Coordinator] epoch completed")
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (c *Coordinator) call(ctx context.Context, chain, op string, fn func(ctx context.Context) error) error {
	return callAdapter(ctx, c.retry, c.retry.CallTimeout, chain, op, fn)
}

func (c *Coordinator) readSettlement(ctx context.Context) (*interfaces.SettlementPoolState, error) {
	var state *interfaces.SettlementPoolState
	err := c.call(ctx, chainSettlement, "read_pool", func(ctx context.Context) error {
		s, err := c.settlement.ReadPoolState(ctx)
		state = s
		return err
	})
	return state, err
}

func (c *Coordinator) readPrivacy(ctx context.Context) (*interfaces.PrivacyPoolState, error) {
	var state *interfaces.PrivacyPoolState
	err := c.call(ctx, chainPrivacy, "read_pool", func(ctx context.Context) error {
		s, err := c.privacy.ReadPoolState(ctx)
		state = s
		return err
	})
	return state, err
}

// waitConfirmed blocks until txRef has the configured confirmations; no-op
// without a confirmer or for empty refs.
func (c *Coordinator) waitConfirmed(ctx context.Context, chain, txRef string) error {
	if c.confirmer == nil || txRef == "" {
		return nil
	}
	return callAdapter(ctx, c.retry, c.retry.ConfirmTimeout, chain, "wait_confirmed", func(ctx context.Context) error {
		return c.confirmer.WaitConfirmed(ctx, txRef)
	})
}

// fail wraps err with the epoch's current status
func (c *Coordinator) fail(op string, m *epoch.Machine, err error) error {
	var ce *types.CoordinatorError
	if errors.As(err, &ce) {
		return err
	}
	out := &types.CoordinatorError{Op: op, Err: err}
	if m != nil {
		out.EpochID = m.ID()
		out.Status = m.Status()
	}
	return out
}

// stageFailed records metrics for a stage that did not advance
func (c *Coordinator) stageFailed(stage string, m *epoch.Machine, start time.Time, err error) error {
	c.observe(stage, start, err)
	if errors.Is(err, types.ErrStageFailed) {
		metrics.StageFailures.WithLabelValues(stage).Inc()
	}
	fields := logrus.Fields{"stage": stage}
	if m != nil {
		fields["epoch"] = m.ID()
		fields["status"] = m.Status()
	}
	logrus.WithFields(fields).Errorf("❌ [Coordinator] stage failed: %v", err)
	return c.fail(stage, m, err)
}

func (c *Coordinator) observe(stage string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StageDuration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}

// transitioned bookkeeping after a successful status change
func (c *Coordinator) transitioned(m *epoch.Machine, stage string, start time.Time) {
	status := m.Status()
	metrics.SetEpochStatus(string(status))
	c.observe(stage, start, nil)
	c.persist(m)
	logrus.WithFields(logrus.Fields{
		"epoch":  m.ID(),
		"stage":  stage,
		"status": status,
	}).Info("✅ [Coordinator] stage completed")
}

func (c *Coordinator) emit(m *epoch.Machine, event models.BridgeEvent) models.BridgeEvent {
	event.EpochID = m.ID()
	event.Status = m.Status()
	return c.bus.Emit(event)
}

// persist best-effort snapshot write; the chains stay canonical
func (c *Coordinator) persist(m *epoch.Machine) {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	snap := m.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.SaveEpoch(ctx, snap.Record(), snap.DepositRecords()); err != nil {
		logrus.WithField("epoch", snap.EpochID).Warnf("⚠️ [Coordinator] failed to persist epoch: %v", err)
	}
}

// reconcile hands a record to the operator queue
func (c *Coordinator) reconcile(ctx context.Context, rec *models.ReconciliationRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.ReconciliationStatusPending
	}
	if rec.Fingerprint == "" {
		rec.Fingerprint = fmt.Sprintf("%s/%d/%s/%s", rec.Kind, rec.EpochID, rec.Stage, rec.Commitment)
	}
	logrus.WithFields(logrus.Fields{
		"kind":       rec.Kind,
		"epoch":      rec.EpochID,
		"stage":      rec.Stage,
		"committed":  rec.CommittedChain,
		"commitment": rec.Commitment,
	}).Error("🚨 [Coordinator] manual reconciliation required")
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logrus.Errorf("❌ [Coordinator] failed to store reconciliation record: %v", err)
	}
}

// inconsistent reports a cross-chain disagreement found during a stage
// requireSealedRandomness refuses to go on with deposits still open when the
// privacy chain already discloses the selection randomness.
func (c *Coordinator) requireSealedRandomness(ctx context.Context, m *epoch.Machine, stage string) error {
	state, err := c.readPrivacy(ctx)
	if err != nil {
		return err
	}
	if len(state.Randomness) == 0 {
		return nil
	}
	err = fmt.Errorf("%w: selection randomness published before deposits closed", types.ErrInconsistentState)
	c.inconsistent(ctx, m, stage, err)
	return err
}

func (c *Coordinator) inconsistent(ctx context.Context, m *epoch.Machine, stage string, err error) {
	metrics.InconsistenciesDetected.Inc()
	c.reconcile(ctx, &models.ReconciliationRecord{
		Kind:        models.ReconciliationKindInconsistent,
		EpochID:     m.ID(),
		Stage:       stage,
		EpochStatus: m.Status(),
		LastError:   err.Error(),
	})
	c.emit(m, models.BridgeEvent{
		Type:    models.BridgeEventInconsistencyDetected,
		Details: map[string]string{"stage": stage, "error": err.Error()},
	})
}

func sameOrder(a, b []common.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
