package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lottery-backend/internal/clients"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalBeforeDistributingFails(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	p := h.deposit(0, 100)
	h.deposit(1, 100)

	_, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, models.EpochStatusCollecting, types.StatusOf(err))
	assert.Zero(t, h.privacy.Calls(clients.OpGenerateProof))
}

func TestWithdrawalRejectsWrongSecret(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100)

	_, err := h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, []byte("not the secret"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Zero(t, h.privacy.Calls(clients.OpGenerateProof))

	_, err = h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestWithdrawalUnknownCommitment(t *testing.T) {
	h := newHarness(t)
	h.distributing(5, 100, 100)

	amount := h.coord.current().TotalDeposited()
	stranger, err := h.coord.Engine().Commit([]byte("stranger"), amount)
	require.NoError(t, err)
	_, err = h.coord.ProcessWithdrawal(context.Background(), stranger, []byte("stranger"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestDuplicateWithdrawalSettlesOnce(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100, 100)
	target := ps[1]

	var ok, dup int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.ProcessWithdrawal(context.Background(), target.cm, target.secret)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn):
				atomic.AddInt32(&dup, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(15), dup)
	assert.Equal(t, 1, h.settlement.PayoutCount())
	assert.NotNil(t, h.settlement.PaidTo(target.cm))
}

func TestRejectedProofBlocksPayout(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100)

	h.privacy.RejectProofs(true)
	_, err := h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, ps[0].secret)
	assert.ErrorIs(t, err, types.ErrRejected)
	assert.Equal(t, models.EpochStatusDistributing, types.StatusOf(err))
	assert.Zero(t, h.settlement.PayoutCount())
	assert.Zero(t, h.privacy.ClaimCount())
	d, _ := h.coord.current().Deposit(ps[0].cm)
	assert.False(t, d.Withdrawn)

	h.privacy.RejectProofs(false)
	s, err := h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, ps[0].secret)
	require.NoError(t, err)
	assert.NotEmpty(t, s.PayoutTxRef)
}

func TestRejectedClaimBlocksPayout(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100)

	h.privacy.RejectNext(clients.OpClaim, 1)
	_, err := h.coord.ProcessWithdrawal(context.Background(), ps[1].cm, ps[1].secret)
	assert.ErrorIs(t, err, types.ErrRejected)
	assert.Zero(t, h.settlement.PayoutCount())

	_, err = h.coord.ProcessWithdrawal(context.Background(), ps[1].cm, ps[1].secret)
	require.NoError(t, err)
}

func TestFailedPayoutIsRecordedAndRetried(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100)
	snap, _ := h.coord.Snapshot()
	loser := ps[0]
	if loser.cm == snap.WinnerCommitment {
		loser = ps[1]
	}

	h.settlement.FailNext(clients.OpPayLoser, 4)
	_, err := h.coord.ProcessWithdrawal(context.Background(), loser.cm, loser.secret)
	assert.ErrorIs(t, err, types.ErrStageFailed)
	assert.Equal(t, 1, h.recorder.count(models.ReconciliationKindPayoutFailed))

	d, _ := h.coord.current().Deposit(loser.cm)
	assert.True(t, d.Withdrawn)
	assert.True(t, d.PayoutPending)

	_, err = h.coord.ProcessWithdrawal(context.Background(), loser.cm, loser.secret)
	assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn)

	s, err := h.coord.RetryPayout(context.Background(), loser.cm)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.Total.Uint64())
	assert.Equal(t, uint64(100), h.settlement.PaidTo(loser.cm).Uint64())

	_, err = h.coord.RetryPayout(context.Background(), loser.cm)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestEpochCompletesOnlyAfterLastPayout(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(0, 10, 20, 30)

	for _, p := range ps[:2] {
		s, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
		require.NoError(t, err)
		assert.Equal(t, models.EpochStatusDistributing, s.Status)
	}
	s, err := h.coord.ProcessWithdrawal(context.Background(), ps[2].cm, ps[2].secret)
	require.NoError(t, err)
	assert.Equal(t, models.EpochStatusCompleted, s.Status)
}

func TestConcurrentWithdrawalsOfDifferentCommitments(t *testing.T) {
	h := newHarness(t)
	amounts := make([]uint64, 12)
	for i := range amounts {
		amounts[i] = uint64(10 * (i + 1))
	}
	ps := h.distributing(7, amounts...)

	var wg sync.WaitGroup
	for _, p := range ps {
		wg.Add(1)
		go func(p participant) {
			defer wg.Done()
			_, err := h.coord.ProcessWithdrawal(context.Background(), p.cm, p.secret)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	// 10+20+...+120 = 780, plus yield
	assert.Equal(t, uint64(787), h.settlement.TotalPaid().Uint64())
	assert.Equal(t, models.EpochStatusCompleted, h.status())
}

func TestInputErrorsCarryEpochStatus(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100)

	_, err := h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, models.EpochStatusDistributing, types.StatusOf(err))

	_, err = h.coord.ProcessWithdrawal(context.Background(), common.Hash{}, ps[0].secret)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, models.EpochStatusDistributing, types.StatusOf(err))
}

func TestProofGenerationUsesItsOwnTimeout(t *testing.T) {
	policy := fastRetry()
	policy.CallTimeout = 50 * time.Millisecond
	policy.ProofTimeout = time.Second
	h := newHarnessWithRetry(t, policy)
	ps := h.distributing(5, 100, 100)

	h.privacy.SetLatency(clients.OpGenerateProof, 150*time.Millisecond)
	_, err := h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, ps[0].secret)
	require.NoError(t, err)
	assert.Equal(t, 1, h.privacy.Calls(clients.OpGenerateProof))
}

func TestSlowProofExhaustsProofTimeout(t *testing.T) {
	policy := fastRetry()
	policy.ProofTimeout = 20 * time.Millisecond
	h := newHarnessWithRetry(t, policy)
	ps := h.distributing(5, 100, 100)

	h.privacy.SetLatency(clients.OpGenerateProof, 150*time.Millisecond)
	_, err := h.coord.ProcessWithdrawal(context.Background(), ps[0].cm, ps[0].secret)
	assert.ErrorIs(t, err, types.ErrStageFailed)
	assert.Zero(t, h.privacy.ClaimCount())
	assert.Zero(t, h.settlement.PayoutCount())
}

// gatedStore holds the first save that records hold as paid until release is closed
type gatedStore struct {
	*fakeStore
	hold    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) SaveEpoch(ctx context.Context, e *models.EpochRecord, deposits []models.DepositRecord) error {
	for _, d := range deposits {
		if d.Commitment == s.hold && d.PayoutTxRef != "" {
			s.once.Do(func() {
				close(s.entered)
				<-s.release
			})
			break
		}
	}
	return s.fakeStore.SaveEpoch(ctx, e, deposits)
}

func TestSlowSaveDoesNotOverwriteLaterWithdrawal(t *testing.T) {
	h := newHarness(t)
	ps := h.distributing(5, 100, 100, 100)
	snap, _ := h.coord.Snapshot()
	var losers []participant
	for _, p := range ps {
		if p.cm != snap.WinnerCommitment {
			losers = append(losers, p)
		}
	}
	require.Len(t, losers, 2)
	a, b := losers[0], losers[1]

	store := &gatedStore{
		fakeStore: &fakeStore{},
		hold:      a.cm.Hex(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	h.coord.store = store

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.coord.ProcessWithdrawal(context.Background(), a.cm, a.secret)
		assert.NoError(t, err)
	}()
	<-store.entered

	h.settlement.FailNext(clients.OpPayLoser, 4)
	go func() {
		defer wg.Done()
		_, err := h.coord.ProcessWithdrawal(context.Background(), b.cm, b.secret)
		assert.ErrorIs(t, err, types.ErrStageFailed)
	}()
	require.Eventually(t, func() bool { return h.privacy.ClaimCount() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	_, deposits, err := store.LoadLatestEpoch(context.Background())
	require.NoError(t, err)
	var stored *models.DepositRecord
	for i := range deposits {
		if deposits[i].Commitment == b.cm.Hex() {
			stored = &deposits[i]
		}
	}
	require.NotNil(t, stored)
	assert.True(t, stored.Withdrawn)
	assert.True(t, stored.PayoutPending)

	restarted := NewCoordinator(h.settlement, h.privacy, CoordinatorOptions{
		Retry:    fastRetry(),
		Store:    store,
		Recorder: h.recorder,
		Clock:    h.clock.Now,
	})
	require.NoError(t, restarted.Restore(context.Background()))

	_, err = restarted.ProcessWithdrawal(context.Background(), b.cm, b.secret)
	assert.ErrorIs(t, err, types.ErrAlreadyWithdrawn)

	s, err := restarted.RetryPayout(context.Background(), b.cm)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.Total.Uint64())
	assert.Equal(t, 2, h.privacy.ClaimCount())
}
