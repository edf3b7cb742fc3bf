package events

import (
	"errors"
	"sync"
	"testing"

	"lottery-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAssignsIncreasingSeq(t *testing.T) {
	bus := NewBus(0)
	a := bus.Emit(models.BridgeEvent{EpochID: 1, Type: models.BridgeEventDepositSeen})
	b := bus.Emit(models.BridgeEvent{EpochID: 1, Type: models.BridgeEventPoolLocked})

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, uint64(2), bus.LastSeq())
}

func TestHandlersSeeEventsInOrder(t *testing.T) {
	bus := NewBus(0)
	var first, second []uint64
	bus.OnEvent("first", func(e models.BridgeEvent) error {
		first = append(first, e.Seq)
		return nil
	})
	bus.OnEvent("second", func(e models.BridgeEvent) error {
		second = append(second, e.Seq)
		return nil
	})

	for i := 0; i < 5; i++ {
		bus.Emit(models.BridgeEvent{Type: models.BridgeEventDepositSeen})
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, first)
	assert.Equal(t, first, second)
}

func TestFailingHandlersDoNotAbortDelivery(t *testing.T) {
	bus := NewBus(0)
	var delivered int
	bus.OnEvent("panics", func(models.BridgeEvent) error { panic("boom") })
	bus.OnEvent("errors", func(models.BridgeEvent) error { return errors.New("sink down") })
	bus.OnEvent("counts", func(models.BridgeEvent) error {
		delivered++
		return nil
	})

	require.NotPanics(t, func() {
		bus.Emit(models.BridgeEvent{Type: models.BridgeEventWinnerSelected})
		bus.Emit(models.BridgeEvent{Type: models.BridgeEventEpochCompleted})
	})
	assert.Equal(t, 2, delivered)
}

func TestConcurrentEmitKeepsTotalOrder(t *testing.T) {
	bus := NewBus(0)
	var mu sync.Mutex
	var seen []uint64
	bus.OnEvent("collect", func(e models.BridgeEvent) error {
		mu.Lock()
		seen = append(seen, e.Seq)
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(models.BridgeEvent{Type: models.BridgeEventDepositSeen})
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for i, s := range seen {
		assert.Equal(t, uint64(i+1), s)
	}
}

func TestSinceAndHistoryBound(t *testing.T) {
	bus := NewBus(3)
	for i := 0; i < 5; i++ {
		bus.Emit(models.BridgeEvent{Type: models.BridgeEventYieldUpdated})
	}
	all := bus.Since(0, 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].Seq)

	tail := bus.Since(3, 1)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(4), tail[0].Seq)
	assert.Empty(t, bus.Since(5, 0))
}

func TestResumeContinuesNumbering(t *testing.T) {
	bus := NewBus(0)
	bus.Resume(41)
	assert.Equal(t, uint64(42), bus.Emit(models.BridgeEvent{}).Seq)
	bus.Resume(10)
	assert.Equal(t, uint64(43), bus.Emit(models.BridgeEvent{}).Seq)
}

type recordingPublisher struct {
	events []*models.BridgeEvent
	err    error
}

func (p *recordingPublisher) PublishBridgeEvent(e *models.BridgeEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func TestNATSForwarder(t *testing.T) {
	bus := NewBus(0)
	pub := &recordingPublisher{err: errors.New("nats down")}
	bus.OnEvent("nats", NATSForwarder(pub))

	bus.Emit(models.BridgeEvent{EpochID: 3, Type: models.BridgeEventPoolLocked})
	require.Len(t, pub.events, 1)
	assert.Equal(t, uint64(3), pub.events[0].EpochID)
	assert.Equal(t, uint64(1), pub.events[0].Seq)
}
