// Package events delivers BridgeEvents to registered observers.
package events

import (
	"fmt"
	"sync"
	"time"

	"lottery-backend/internal/metrics"
	"lottery-backend/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultHistory events kept in memory for late readers
const DefaultHistory = 10000

// Handler observer callback. Returned errors and panics are logged, never propagated.
// A handler must not call Emit on the bus that invoked it.
type Handler func(event models.BridgeEvent) error

type namedHandler struct {
	name string
	fn   Handler
}

// Bus synchronous, ordered event sink. Emit returns after every handler has
// seen the event, and events reach each handler in emission order.
type Bus struct {
	emitMu sync.Mutex
	seq    uint64

	handlersMu sync.RWMutex
	handlers   []namedHandler

	historyMu  sync.RWMutex
	history    []models.BridgeEvent
	maxHistory int

	now func() time.Time
}

// NewBus event bus keeping up to maxHistory events in memory (0 = DefaultHistory)
func NewBus(maxHistory int) *Bus {
	if maxHistory <= 0 {
		maxHistory = DefaultHistory
	}
	return &Bus{maxHistory: maxHistory, now: time.Now}
}

// OnEvent registers an observer
func (b *Bus) OnEvent(name string, h Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers = append(b.handlers, namedHandler{name: name, fn: h})
}

// Resume continues numbering after seq, used when replaying a persisted log
func (b *Bus) Resume(seq uint64) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	if seq > b.seq {
		b.seq = seq
	}
}

// Emit stamps the event (ID, Seq, CreatedAt), appends it to the history and
// delivers it to every handler.
func (b *Bus) Emit(event models.BridgeEvent) models.BridgeEvent {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.seq++
	event.Seq = b.seq
	event.ID = uuid.New().String()
	event.CreatedAt = b.now().UTC()
	if event.Details != nil {
		details := make(map[string]string, len(event.Details))
		for k, v := range event.Details {
			details[k] = v
		}
		event.Details = details
	}

	b.historyMu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		b.history = append([]models.BridgeEvent(nil), b.history[len(b.history)-b.maxHistory:]...)
	}
	b.historyMu.Unlock()

	b.handlersMu.RLock()
	handlers := append([]namedHandler(nil), b.handlers...)
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := b.deliver(h, event); err != nil {
			metrics.EventHandlerErrors.WithLabelValues(string(event.Type)).Inc()
			logrus.WithFields(logrus.Fields{
				"handler":  h.name,
				"event":    event.Type,
				"seq":      event.Seq,
				"epoch_id": event.EpochID,
			}).Warnf("⚠️ [Events] observer failed: %v", err)
		}
	}
	return event
}

func (b *Bus) deliver(h namedHandler, event models.BridgeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(event)
}

// Since events with Seq > after, oldest first, at most limit (0 = all)
func (b *Bus) Since(after uint64, limit int) []models.BridgeEvent {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	out := make([]models.BridgeEvent, 0)
	for _, e := range b.history {
		if e.Seq <= after {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// LastSeq sequence number of the newest event
func (b *Bus) LastSeq() uint64 {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	return b.seq
}
