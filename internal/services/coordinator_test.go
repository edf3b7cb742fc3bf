package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"lottery-backend/internal/clients"
	"lottery-backend/internal/epoch"
	"lottery-backend/internal/models"
	"lottery-backend/internal/selector"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*models.ReconciliationRecord
}

func (r *fakeRecorder) Record(ctx context.Context, rec *models.ReconciliationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeRecorder) count(kind models.ReconciliationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

type fakeStore struct {
	mu       sync.Mutex
	epoch    *models.EpochRecord
	deposits []models.DepositRecord
	saves    int
}

func (s *fakeStore) SaveEpoch(ctx context.Context, e *models.EpochRecord, deposits []models.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.epoch = &cp
	s.deposits = append([]models.DepositRecord(nil), deposits...)
	s.saves++
	return nil
}

func (s *fakeStore) LoadLatestEpoch(ctx context.Context) (*models.EpochRecord, []models.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == nil {
		return nil, nil, nil
	}
	cp := *s.epoch
	return &cp, append([]models.DepositRecord(nil), s.deposits...), nil
}

type participant struct {
	secret []byte
	amount *uint256.Int
	cm     common.Hash
}

type harness struct {
	t          *testing.T
	settlement *clients.MemorySettlementChain
	privacy    *clients.MemoryPrivacyChain
	clock      *testClock
	recorder   *fakeRecorder
	store      *fakeStore
	coord      *Coordinator

	mu     sync.Mutex
	events []models.BridgeEvent
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		Base:           time.Millisecond,
		Cap:            4 * time.Millisecond,
		MaxRetries:     3,
		CallTimeout:    time.Second,
		ConfirmTimeout: time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRetry(t, fastRetry())
}

func newHarnessWithRetry(t *testing.T, policy RetryPolicy) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		settlement: clients.NewMemorySettlementChain(),
		privacy:    clients.NewMemoryPrivacyChain(),
		clock:      &testClock{now: t0},
		recorder:   &fakeRecorder{},
		store:      &fakeStore{},
	}
	h.coord = NewCoordinator(h.settlement, h.privacy, CoordinatorOptions{
		Retry:         policy,
		AdminIdentity: "operator",
		Params:        epoch.Params{Duration: time.Hour},
		Store:         h.store,
		Recorder:      h.recorder,
		Clock:         h.clock.Now,
	})
	h.coord.OnEvent("test", func(e models.BridgeEvent) error {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
		return nil
	})
	return h
}

func (h *harness) eventTypes() []models.BridgeEventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.BridgeEventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func (h *harness) initialize() {
	h.t.Helper()
	_, err := h.coord.InitializeEpoch(context.Background(), InitializeRequest{})
	require.NoError(h.t, err)
}

func (h *harness) deposit(i int, amount uint64) participant {
	h.t.Helper()
	p := participant{secret: []byte(fmt.Sprintf("secret-%d", i)), amount: uint256.NewInt(amount)}
	c, err := h.coord.Engine().Commit(p.secret, p.amount)
	require.NoError(h.t, err)
	p.cm = c
	h.settlement.Fund(c, p.amount)
	_, err = h.coord.Deposit(context.Background(), c, p.amount, []byte("deposit-proof"))
	require.NoError(h.t, err)
	return p
}

func (h *harness) lockAndStake() {
	h.t.Helper()
	h.clock.Advance(2 * time.Hour)
	_, err := h.coord.LockPool(context.Background(), false)
	require.NoError(h.t, err)
	_, err = h.coord.StartStaking(context.Background())
	require.NoError(h.t, err)
}

// distributing initializes, deposits amounts, stakes, accrues yield and selects a winner
func (h *harness) distributing(yield uint64, amounts ...uint64) []participant {
	h.t.Helper()
	h.initialize()
	ps := make([]participant, len(amounts))
	for i, a := range amounts {
		ps[i] = h.deposit(i, a)
	}
	h.lockAndStake()
	h.settlement.AccrueReward(uint256.NewInt(yield))
	h.privacy.PublishRandomness([]byte("public randomness R"))
	_, err := h.coord.SelectWinner(context.Background())
	require.NoError(h.t, err)
	return ps
}

func (h *harness) status() models.EpochStatus {
	snap, err := h.coord.Snapshot()
	require.NoError(h.t, err)
	return snap.Status
}

func TestFullEpochPaysPrincipalPlusYield(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100, 100)
	require.Equal(t, models.EpochStatusDistributing, h.status())

	commitments := []common.Hash{ps[0].cm, ps[1].cm, ps[2].cm}
	idx, winner, err := selector.Select(h.coord.Engine(), commitments, []byte("public randomness R"))
	require.NoError(t, err)
	snap, _ := h.coord.Snapshot()
	assert.Equal(t, winner, snap.WinnerCommitment)

	total := new(uint256.Int)
	for i, p := range ps {
		s, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
		require.NoError(t, err)
		if i == idx {
			assert.True(t, s.IsWinner)
			assert.Equal(t, uint64(105), s.Total.Uint64())
		} else {
			assert.False(t, s.IsWinner)
			assert.Equal(t, uint64(100), s.Total.Uint64())
		}
		total.Add(total, s.Total)
	}

	assert.Equal(t, uint64(305), total.Uint64())
	assert.Equal(t, uint64(305), h.settlement.TotalPaid().Uint64())
	assert.Equal(t, models.EpochStatusCompleted, h.status())
	assert.Equal(t, 3, h.privacy.ClaimCount())
}

func TestEventsFollowLifecycleOrder(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100, 100)
	for _, p := range ps {
		_, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
		require.NoError(t, err)
	}

	assert.Equal(t, []models.BridgeEventType{
		models.BridgeEventEpochInitialized,
		models.BridgeEventDepositSeen,
		models.BridgeEventDepositSeen,
		models.BridgeEventDepositSeen,
		models.BridgeEventPoolLocked,
		models.BridgeEventStakingStarted,
		models.BridgeEventYieldUpdated,
		models.BridgeEventWinnerSelected,
		models.BridgeEventWithdrawalSettled,
		models.BridgeEventWithdrawalSettled,
		models.BridgeEventWithdrawalSettled,
		models.BridgeEventEpochCompleted,
	}, h.eventTypes())

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 1; i < len(h.events); i++ {
		assert.Greater(t, h.events[i].Seq, h.events[i-1].Seq)
	}
	for _, e := range h.events {
		if e.Type == models.BridgeEventDepositSeen {
			assert.Empty(t, e.Amount, "deposit events must not reveal amounts")
		}
	}
}

func TestPanickingObserverDoesNotStopLifecycle(t *testing.T) {
	h := newHarness(t)
	h.coord.OnEvent("boom", func(models.BridgeEvent) error { panic("observer bug") })
	h.coord.OnEvent("failing", func(models.BridgeEvent) error { return fmt.Errorf("observer down") })

	ps := h.distributing(0, 50, 70)
	for _, p := range ps {
		_, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
		require.NoError(t, err)
	}
	assert.Equal(t, models.EpochStatusCompleted, h.status())
	assert.Contains(t, h.eventTypes(), models.BridgeEventEpochCompleted)
}

func TestOperationsWithoutEpoch(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Snapshot()
	assert.ErrorIs(t, err, types.ErrNoActiveEpoch)
	_, err = h.coord.LockPool(context.Background(), true)
	assert.ErrorIs(t, err, types.ErrNoActiveEpoch)
	_, err = h.coord.Advance(context.Background())
	assert.ErrorIs(t, err, types.ErrNoActiveEpoch)
}

func TestInitializeRequiresCompletedPredecessor(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	_, err := h.coord.InitializeEpoch(context.Background(), InitializeRequest{})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, models.EpochStatusCollecting, types.StatusOf(err))

	_, err = h.coord.InitializeEpoch(context.Background(), InitializeRequest{Deadline: t0.Add(-time.Minute)})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestSecondEpochAfterCompletion(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(1, 10, 20)
	for _, p := range ps {
		_, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
		require.NoError(t, err)
	}

	snap, err := h.coord.InitializeEpoch(context.Background(), InitializeRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.EpochID)
	assert.Equal(t, models.EpochStatusCollecting, snap.Status)
	assert.Zero(t, snap.ParticipantCount())
}

func TestDepositValidationHappensBeforeIO(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	_, err := h.coord.Deposit(context.Background(), common.Hash{}, uint256.NewInt(10), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = h.coord.Deposit(context.Background(), common.HexToHash("0x01"), uint256.NewInt(0), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Zero(t, h.privacy.Calls(clients.OpRegisterDeposit))
}

func TestDuplicateDepositRejected(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	p := h.deposit(0, 100)

	_, err := h.coord.Deposit(context.Background(), p.cm, p.amount, nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	snap, _ := h.coord.Snapshot()
	assert.Equal(t, 1, snap.ParticipantCount())
}

func TestConcurrentDepositsAllRegistered(t *testing.T) {
	h := newHarness(t)
	h.initialize()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := uint256.NewInt(uint64(10 + i))
			c, err := h.coord.Engine().Commit([]byte(fmt.Sprintf("s-%d", i)), amount)
			if !assert.NoError(t, err) {
				return
			}
			_, err = h.coord.Deposit(context.Background(), c, amount, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, _ := h.coord.Snapshot()
	assert.Equal(t, 20, snap.ParticipantCount())
	state, err := h.privacy.ReadPoolState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Commitments(), state.Commitments)
}

func TestLockNeedsTwoParticipants(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)

	_, err := h.coord.LockPool(context.Background(), true)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, models.EpochStatusCollecting, types.StatusOf(err))
	assert.Zero(t, h.privacy.Calls(clients.OpLockPool))

	h.deposit(1, 100)
	h.clock.Advance(2 * time.Hour)
	_, err = h.coord.LockPool(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, models.EpochStatusStaking, h.status())
}

func TestLockBeforeDeadlineNeedsAdmin(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)

	_, err := h.coord.LockPool(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	snap, err := h.coord.LockPool(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, snap.AdminLocked)

	_, err = h.coord.Deposit(context.Background(), common.HexToHash("0xabc"), uint256.NewInt(5), nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.clock.Advance(2 * time.Hour)

	h.privacy.FailNext(clients.OpLockPool, 2)
	_, err := h.coord.LockPool(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, h.privacy.Calls(clients.OpLockPool))
	assert.Equal(t, models.EpochStatusStaking, h.status())
}

func TestExhaustedRetriesLeaveStatusUnchanged(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.clock.Advance(2 * time.Hour)
	_, err := h.coord.LockPool(context.Background(), false)
	require.NoError(t, err)

	h.settlement.FailNext(clients.OpInitiateStaking, 4)
	_, err = h.coord.StartStaking(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStageFailed)
	assert.Equal(t, models.EpochStatusStaking, types.StatusOf(err))
	assert.Equal(t, models.EpochStatusStaking, h.status())
	assert.Equal(t, 4, h.settlement.Calls(clients.OpInitiateStaking))

	// next attempt succeeds once the chain recovers
	_, err = h.coord.StartStaking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.EpochStatusSelectingWinner, h.status())
}

func TestTimedOutCallIsNotSuccess(t *testing.T) {
	policy := fastRetry()
	policy.CallTimeout = 20 * time.Millisecond
	policy.MaxRetries = 1
	h := newHarnessWithRetry(t, policy)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.clock.Advance(2 * time.Hour)

	h.privacy.SetLatency(clients.OpLockPool, 200*time.Millisecond)
	_, err := h.coord.LockPool(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrStageFailed)
	assert.Equal(t, models.EpochStatusCollecting, h.status())

	state, err := h.privacy.ReadPoolState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Locked)
}

func TestRejectionIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)

	h.privacy.RejectNext(clients.OpRegisterDeposit, 1)
	amount := uint256.NewInt(7)
	c, err := h.coord.Engine().Commit([]byte("rejected"), amount)
	require.NoError(t, err)
	calls := h.privacy.Calls(clients.OpRegisterDeposit)
	_, err = h.coord.Deposit(context.Background(), c, amount, nil)
	assert.ErrorIs(t, err, types.ErrRejected)
	assert.Equal(t, calls+1, h.privacy.Calls(clients.OpRegisterDeposit))
	_, found := h.coord.current().Deposit(c)
	assert.False(t, found)
}

func TestStakeConfirmationReadsSettlementChain(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 150)
	h.lockAndStake()

	snap, _ := h.coord.Snapshot()
	assert.Equal(t, models.EpochStatusSelectingWinner, snap.Status)
	assert.Equal(t, uint64(250), snap.StakedAmount.Uint64())
	assert.Equal(t, 1, h.settlement.Calls(clients.OpInitiateStaking))
}

func TestSelectWinnerWaitsForRandomness(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.lockAndStake()

	_, err := h.coord.SelectWinner(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, models.EpochStatusSelectingWinner, types.StatusOf(err))
	assert.Zero(t, h.privacy.Calls(clients.OpDeclareWinner))
}

func TestRandomnessPublishedBeforeLockIsRefused(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.privacy.PublishRandomness([]byte("early randomness"))

	err := h.coord.CrossCheck(context.Background())
	assert.ErrorIs(t, err, types.ErrInconsistentState)

	late := participant{secret: []byte("secret-late"), amount: uint256.NewInt(100)}
	late.cm, err = h.coord.Engine().Commit(late.secret, late.amount)
	require.NoError(t, err)
	_, err = h.coord.Deposit(context.Background(), late.cm, late.amount, []byte("deposit-proof"))
	assert.ErrorIs(t, err, types.ErrInconsistentState)
	assert.Equal(t, models.EpochStatusCollecting, types.StatusOf(err))
	assert.Equal(t, 2, h.privacy.Calls(clients.OpRegisterDeposit))
	assert.Equal(t, 1, h.recorder.count(models.ReconciliationKindInconsistent))
	assert.Equal(t, 1, countEvents(h, models.BridgeEventInconsistencyDetected))

	h.clock.Advance(2 * time.Hour)
	_, err = h.coord.LockPool(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrInconsistentState)
	assert.Equal(t, models.EpochStatusCollecting, h.status())
	assert.Zero(t, h.privacy.Calls(clients.OpLockPool))
}

func TestHalfAppliedSelectionIsReportedThenResumed(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.lockAndStake()
	h.settlement.AccrueReward(uint256.NewInt(3))
	h.privacy.PublishRandomness([]byte("R"))

	h.settlement.FailNext(clients.OpFinalizeEpoch, 4)
	_, err := h.coord.SelectWinner(context.Background())
	assert.ErrorIs(t, err, types.ErrStageFailed)
	assert.Equal(t, models.EpochStatusSelectingWinner, h.status())
	assert.Equal(t, 1, h.recorder.count(models.ReconciliationKindHalfApplied))

	_, err = h.coord.SelectWinner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.EpochStatusDistributing, h.status())
	assert.Equal(t, 1, h.privacy.Calls(clients.OpDeclareWinner), "winner must not be declared twice")

	snap, _ := h.coord.Snapshot()
	assert.Equal(t, uint64(3), snap.YieldAmount.Uint64())
}

func TestLostReplyHealsThroughIdempotentRetry(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.lockAndStake()
	h.privacy.PublishRandomness([]byte("R"))

	h.privacy.DropReplyNext(clients.OpDeclareWinner, 1)
	_, err := h.coord.SelectWinner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.privacy.Calls(clients.OpDeclareWinner))
	assert.Zero(t, h.recorder.count(models.ReconciliationKindHalfApplied))
}

func TestAdvanceDrivesDueStages(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)

	res, err := h.coord.Advance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Stage, "nothing due before the deadline")

	h.clock.Advance(2 * time.Hour)
	res, err = h.coord.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageLock, res.Stage)
	assert.Equal(t, models.EpochStatusStaking, res.Status)

	res, err = h.coord.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.EpochStatusSelectingWinner, res.Status)

	h.settlement.AccrueReward(uint256.NewInt(4))
	res, err = h.coord.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageYield, res.Stage)
	assert.Equal(t, uint64(4), h.coord.current().YieldAmount().Uint64())

	h.privacy.PublishRandomness([]byte("R"))
	res, err = h.coord.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageSelectWinner, res.Stage)
	assert.Equal(t, models.EpochStatusDistributing, res.Status)
}

func TestRestoreResumesPersistedEpoch(t *testing.T) {
	h := newHarness(t)
	h.distributing(2, 30, 40)
	before, _ := h.coord.Snapshot()

	restored := NewCoordinator(h.settlement, h.privacy, CoordinatorOptions{
		Retry:    fastRetry(),
		Store:    h.store,
		Recorder: h.recorder,
		Clock:    h.clock.Now,
	})
	require.NoError(t, restored.Restore(context.Background()))
	after, err := restored.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, before.EpochID, after.EpochID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.WinnerCommitment, after.WinnerCommitment)
	assert.Equal(t, before.Commitments(), after.Commitments())
	assert.True(t, before.TotalDeposited.Eq(after.TotalDeposited))
	assert.True(t, before.YieldAmount.Eq(after.YieldAmount))
}

func TestRestoreWithEmptyStore(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coord.Restore(context.Background()))
	_, err := h.coord.Snapshot()
	assert.ErrorIs(t, err, types.ErrNoActiveEpoch)
}
