package services

import (
	"context"
	"testing"
	"time"

	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countEvents(h *harness, typ models.BridgeEventType) int {
	n := 0
	for _, e := range h.eventTypes() {
		if e == typ {
			n++
		}
	}
	return n
}

func TestCrossCheckAgreesOnHealthyEpoch(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	require.NoError(t, h.coord.CrossCheck(context.Background()))

	h.lockAndStake()
	require.NoError(t, h.coord.CrossCheck(context.Background()))
}

func TestPollReportsDisagreementOnce(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.lockAndStake()

	h.privacy.ForceUnlock()
	err := h.coord.CrossCheck(context.Background())
	assert.ErrorIs(t, err, types.ErrInconsistentState)

	poller := NewPollingService(h.coord, time.Hour, true)
	poller.PollOnce(context.Background())
	poller.PollOnce(context.Background())

	assert.Equal(t, 1, countEvents(h, models.BridgeEventInconsistencyDetected))
	assert.Equal(t, 1, h.recorder.count(models.ReconciliationKindInconsistent))
	assert.Equal(t, models.EpochStatusSelectingWinner, h.status(), "no advance on top of a disagreement")
}

func TestPollAdvancesWhenEnabled(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.clock.Advance(2 * time.Hour)

	NewPollingService(h.coord, time.Hour, false).PollOnce(context.Background())
	assert.Equal(t, models.EpochStatusCollecting, h.status())

	poller := NewPollingService(h.coord, time.Hour, true)
	poller.PollOnce(context.Background())
	assert.Equal(t, models.EpochStatusStaking, h.status())
	poller.PollOnce(context.Background())
	assert.Equal(t, models.EpochStatusSelectingWinner, h.status())
}

func TestPollingTriggerRunsImmediately(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	h.deposit(0, 100)
	h.deposit(1, 100)
	h.clock.Advance(2 * time.Hour)

	poller := NewPollingService(h.coord, time.Hour, true)
	poller.Start()
	defer poller.Stop()
	poller.Trigger()

	assert.Eventually(t, func() bool {
		snap, err := h.coord.Snapshot()
		return err == nil && snap.Status != models.EpochStatusCollecting
	}, 2*time.Second, 10*time.Millisecond)
}
