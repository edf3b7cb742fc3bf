package epoch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMachine(t *testing.T, params Params) (*Machine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	m, err := New(1, t0.Add(time.Hour), params, WithClock(clock.Now))
	require.NoError(t, err)
	return m, clock
}

func cm(i int) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("c-%d", i)))
}

func deposit(t *testing.T, m *Machine, i int, amount uint64) {
	t.Helper()
	require.NoError(t, m.RegisterDeposit(cm(i), uint256.NewInt(amount), []byte("proof")))
}

// distributing drives a fresh machine to Distributing with n deposits of 100
// and the given yield; deposit 0 wins.
func distributing(t *testing.T, n int, yield uint64) *Machine {
	t.Helper()
	m, _ := newMachine(t, Params{})
	for i := 0; i < n; i++ {
		deposit(t, m, i, 100)
	}
	require.NoError(t, m.Lock(true))
	require.NoError(t, m.ConfirmStake(m.TotalDeposited()))
	require.NoError(t, m.AddYield(uint256.NewInt(yield)))
	require.NoError(t, m.RecordWinner(cm(0), []byte("rand")))
	return m
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(0, t0, Params{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = New(1, time.Time{}, Params{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = New(1, t0, Params{MaxParticipants: 1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestLockRequiresTwoParticipants(t *testing.T) {
	m, _ := newMachine(t, Params{})

	assert.ErrorIs(t, m.Lock(true), types.ErrInvalidTransition)
	deposit(t, m, 1, 100)
	assert.ErrorIs(t, m.Lock(true), types.ErrInvalidTransition)
	assert.Equal(t, models.EpochStatusCollecting, m.Status())

	deposit(t, m, 2, 100)
	require.NoError(t, m.Lock(true))
	assert.Equal(t, models.EpochStatusStaking, m.Status())
	assert.True(t, m.Snapshot().AdminLocked)
}

func TestLockWaitsForDeadlineWithoutAdmin(t *testing.T) {
	m, clock := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	deposit(t, m, 2, 100)

	assert.ErrorIs(t, m.Lock(false), types.ErrInvalidTransition)
	clock.Advance(time.Hour)
	require.NoError(t, m.CanLock(false))
	require.NoError(t, m.Lock(false))
	assert.False(t, m.Snapshot().AdminLocked)
}

func TestDepositRules(t *testing.T) {
	m, clock := newMachine(t, Params{MaxParticipants: 2, MinDeposit: uint256.NewInt(10)})

	assert.ErrorIs(t, m.RegisterDeposit(common.Hash{}, uint256.NewInt(10), nil), types.ErrInvalidInput)
	assert.ErrorIs(t, m.RegisterDeposit(cm(1), nil, nil), types.ErrInvalidInput)
	assert.ErrorIs(t, m.RegisterDeposit(cm(1), uint256.NewInt(9), nil), types.ErrInvalidInput)

	deposit(t, m, 1, 10)
	assert.ErrorIs(t, m.RegisterDeposit(cm(1), uint256.NewInt(50), nil), types.ErrInvalidTransition, "duplicate")
	deposit(t, m, 2, 40)
	assert.ErrorIs(t, m.CheckDeposit(cm(3), uint256.NewInt(10)), types.ErrInvalidTransition, "full")
	assert.Equal(t, "50", m.TotalDeposited().Dec())
	assert.Equal(t, []common.Hash{cm(1), cm(2)}, m.Commitments())

	clock.Advance(2 * time.Hour)
	m2, _ := newMachine(t, Params{})
	m2.now = clock.Now
	assert.ErrorIs(t, m2.RegisterDeposit(cm(5), uint256.NewInt(1), nil), types.ErrInvalidTransition, "after deadline")
}

func TestDepositAfterLockRejected(t *testing.T) {
	m, _ := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	deposit(t, m, 2, 100)
	require.NoError(t, m.Lock(true))

	err := m.RegisterDeposit(cm(3), uint256.NewInt(100), nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, 2, m.ParticipantCount())
	assert.Equal(t, "200", m.TotalDeposited().Dec())
}

func TestStakeAndYield(t *testing.T) {
	m, _ := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	deposit(t, m, 2, 100)

	assert.ErrorIs(t, m.ConfirmStake(uint256.NewInt(200)), types.ErrInvalidTransition)
	assert.ErrorIs(t, m.AddYield(uint256.NewInt(1)), types.ErrInvalidTransition)
	require.NoError(t, m.Lock(true))

	assert.ErrorIs(t, m.ConfirmStake(uint256.NewInt(150)), types.ErrInconsistentState)
	assert.Equal(t, models.EpochStatusStaking, m.Status())

	require.NoError(t, m.AddYield(uint256.NewInt(2)))
	require.NoError(t, m.ConfirmStake(uint256.NewInt(200)))
	assert.Equal(t, models.EpochStatusSelectingWinner, m.Status())
	require.NoError(t, m.AddYield(uint256.NewInt(3)))
	assert.Equal(t, "5", m.YieldAmount().Dec())
}

func TestRecordWinnerIsIrreversible(t *testing.T) {
	m, _ := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	deposit(t, m, 2, 100)
	require.NoError(t, m.Lock(true))

	assert.ErrorIs(t, m.RecordWinner(cm(1), []byte("r")), types.ErrInvalidTransition, "before stake")
	require.NoError(t, m.ConfirmStake(uint256.NewInt(200)))

	assert.ErrorIs(t, m.RecordWinner(cm(9), []byte("r")), types.ErrInvalidInput, "not a participant")
	assert.ErrorIs(t, m.RecordWinner(cm(1), nil), types.ErrInvalidInput, "no randomness")

	require.NoError(t, m.RecordWinner(cm(2), []byte("r")))
	assert.Equal(t, models.EpochStatusDistributing, m.Status())

	assert.ErrorIs(t, m.RecordWinner(cm(1), []byte("other")), types.ErrInvalidTransition)
	w, r := m.Winner()
	assert.Equal(t, cm(2), w)
	assert.Equal(t, []byte("r"), r)
	assert.ErrorIs(t, m.AddYield(uint256.NewInt(1)), types.ErrInvalidTransition, "yield frozen")
}

func TestWithdrawalPlanAndMarking(t *testing.T) {
	m := distributing(t, 3, 5)

	winner, err := m.PlanWithdrawal(cm(0))
	require.NoError(t, err)
	assert.True(t, winner.IsWinner)
	assert.Equal(t, models.ProofKindWinner, winner.Kind())
	assert.Equal(t, "105", winner.Total().Dec())

	loser, err := m.PlanWithdrawal(cm(1))
	require.NoError(t, err)
	assert.False(t, loser.IsWinner)
	assert.Equal(t, models.ProofKindLoser, loser.Kind())
	assert.Equal(t, "100", loser.Total().Dec())

	_, err = m.PlanWithdrawal(cm(42))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = m.MarkWithdrawn(cm(1), []byte("p"), "claim-1", "tok")
	require.NoError(t, err)
	_, err = m.MarkWithdrawn(cm(1), []byte("p"), "claim-1", "tok")
	assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn)
	_, err = m.PlanWithdrawal(cm(1))
	assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn)

	pending, err := m.PendingPayout(cm(1))
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), pending.Proof)
	require.NoError(t, m.RecordPayout(cm(1), "pay-1", pending.Total()))
	_, err = m.PendingPayout(cm(1))
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestWithdrawalBeforeDistributingRejected(t *testing.T) {
	m, _ := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	deposit(t, m, 2, 100)
	require.NoError(t, m.Lock(true))

	_, err := m.PlanWithdrawal(cm(1))
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	_, err = m.MarkWithdrawn(cm(1), nil, "", "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestCompleteRequiresEverySettlement(t *testing.T) {
	m := distributing(t, 3, 5)
	assert.ErrorIs(t, m.Complete(), types.ErrInvalidTransition)

	for i := 0; i < 3; i++ {
		plan, err := m.MarkWithdrawn(cm(i), []byte("p"), "c", "t")
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, m.RecordPayout(cm(i), "tx", plan.Total()))
		}
	}
	assert.ErrorIs(t, m.Complete(), types.ErrInvalidTransition, "payout pending")

	plan, err := m.PendingPayout(cm(2))
	require.NoError(t, err)
	require.NoError(t, m.RecordPayout(cm(2), "tx", plan.Total()))
	require.NoError(t, m.Complete())

	s := m.Snapshot()
	assert.Equal(t, models.EpochStatusCompleted, s.Status)
	assert.Equal(t, "305", s.TotalPaid.Dec())
	assert.Equal(t, 3, s.WithdrawnCount())
}

func TestCompleteDetectsOpenPoolMismatch(t *testing.T) {
	m := distributing(t, 2, 5)
	for i := 0; i < 2; i++ {
		_, err := m.MarkWithdrawn(cm(i), nil, "", "")
		require.NoError(t, err)
		require.NoError(t, m.RecordPayout(cm(i), "tx", uint256.NewInt(100)))
	}
	err := m.Complete()
	assert.ErrorIs(t, err, types.ErrInconsistentState)
	assert.Equal(t, models.EpochStatusDistributing, m.Status())
}

func TestConcurrentMarkWithdrawnSingleWinner(t *testing.T) {
	m := distributing(t, 2, 0)

	var ok, dup int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.LockCommitment(cm(1))
			defer unlock()
			if _, err := m.PlanWithdrawal(cm(1)); err != nil {
				if assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn) {
					atomic.AddInt32(&dup, 1)
				}
				return
			}
			if _, err := m.MarkWithdrawn(cm(1), nil, "", ""); err == nil {
				atomic.AddInt32(&ok, 1)
			} else {
				assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn)
				atomic.AddInt32(&dup, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(31), dup)
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := distributing(t, 3, 7)
	plan, err := m.MarkWithdrawn(cm(1), []byte("p"), "claim", "tok")
	require.NoError(t, err)
	require.NoError(t, m.RecordPayout(cm(1), "pay", plan.Total()))
	_, err = m.MarkWithdrawn(cm(2), []byte("p"), "claim", "tok")
	require.NoError(t, err)

	s := m.Snapshot()
	parsed, err := SnapshotFromRecords(s.Record(), s.DepositRecords())
	require.NoError(t, err)

	restored, err := Restore(parsed)
	require.NoError(t, err)
	rs := restored.Snapshot()
	assert.Equal(t, s.Status, rs.Status)
	assert.Equal(t, s.Commitments(), rs.Commitments())
	assert.Equal(t, s.TotalDeposited.Dec(), rs.TotalDeposited.Dec())
	assert.Equal(t, s.YieldAmount.Dec(), rs.YieldAmount.Dec())
	assert.Equal(t, s.TotalPaid.Dec(), rs.TotalPaid.Dec())
	assert.Equal(t, s.WinnerCommitment, rs.WinnerCommitment)
	assert.Equal(t, s.RandomnessSeed, rs.RandomnessSeed)

	_, err = restored.PendingPayout(cm(2))
	require.NoError(t, err)
	_, err = restored.PlanWithdrawal(cm(1))
	assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn)
	plan, err = restored.PlanWithdrawal(cm(0))
	require.NoError(t, err)
	assert.Equal(t, "107", plan.Total().Dec())
}

func TestRestoreRejectsBrokenTotals(t *testing.T) {
	m := distributing(t, 2, 0)
	s := m.Snapshot()
	s.TotalDeposited = uint256.NewInt(1)
	_, err := Restore(s)
	assert.ErrorIs(t, err, types.ErrInconsistentState)
}

func TestCrossCheck(t *testing.T) {
	m := distributing(t, 2, 5)
	winner, _ := m.Winner()
	healthyPrivacy := &interfaces.PrivacyPoolState{
		Locked: true, WinnerSelected: true, ParticipantCount: 2,
		Commitments: m.Commitments(), WinnerCommitment: winner, Randomness: []byte("rand"),
	}
	healthySettlement := &interfaces.SettlementPoolState{
		TotalDeposited: uint256.NewInt(200), ParticipantCount: 2, YieldAmount: uint256.NewInt(5),
		WinnerCommitment: winner, Status: models.SettlementPoolFinalized,
	}
	require.NoError(t, m.CrossCheck(healthySettlement, healthyPrivacy))
	require.NoError(t, m.CrossCheck(nil, nil))

	unlocked := *healthyPrivacy
	unlocked.Locked = false
	assert.ErrorIs(t, m.CrossCheck(nil, &unlocked), types.ErrInconsistentState)

	noStake := *healthySettlement
	noStake.Status = models.SettlementPoolOpen
	assert.ErrorIs(t, m.CrossCheck(&noStake, healthyPrivacy), types.ErrInconsistentState)

	otherWinner := *healthySettlement
	otherWinner.WinnerCommitment = cm(1)
	err := m.CrossCheck(&otherWinner, healthyPrivacy)
	require.ErrorIs(t, err, types.ErrInconsistentState)
	assert.Contains(t, err.Error(), "chains disagree on winner")

	lost := *healthyPrivacy
	lost.ParticipantCount = 1
	lost.Commitments = lost.Commitments[:1]
	assert.ErrorIs(t, m.CrossCheck(nil, &lost), types.ErrInconsistentState)
}

func TestCrossCheckToleratesInFlightDeposit(t *testing.T) {
	m, _ := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	privacy := &interfaces.PrivacyPoolState{ParticipantCount: 2, Commitments: []common.Hash{cm(1), cm(2)}}
	assert.NoError(t, m.CrossCheck(nil, privacy))
}

func TestCrossCheckFlagsRandomnessWhileCollecting(t *testing.T) {
	m, _ := newMachine(t, Params{})
	deposit(t, m, 1, 100)
	privacy := &interfaces.PrivacyPoolState{
		ParticipantCount: 1, Commitments: []common.Hash{cm(1)}, Randomness: []byte("early"),
	}
	err := m.CrossCheck(nil, privacy)
	require.ErrorIs(t, err, types.ErrInconsistentState)
	assert.Contains(t, err.Error(), "randomness published while deposits are still open")
}
