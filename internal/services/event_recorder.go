package services

import (
	"context"
	"time"

	"lottery-backend/internal/events"
	"lottery-backend/internal/models"
	"lottery-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// EventRecorder appends every bridge event to the database log
type EventRecorder struct {
	repo repository.BridgeEventRepository
}

// NewEventRecorder create the recorder
func NewEventRecorder(repo repository.BridgeEventRepository) *EventRecorder {
	return &EventRecorder{repo: repo}
}

// Handler bus observer writing each event
func (r *EventRecorder) Handler() events.Handler {
	return func(event models.BridgeEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.repo.Create(ctx, &event)
	}
}

// ResumeBus continue numbering after the last persisted event
func (r *EventRecorder) ResumeBus(ctx context.Context, bus *events.Bus) error {
	seq, err := r.repo.LastSeq(ctx)
	if err != nil {
		return err
	}
	bus.Resume(seq)
	logrus.WithField("seq", seq).Info("♻️ [Events] bus resumed from event log")
	return nil
}

// Since events after seq, read from the database log
func (r *EventRecorder) Since(ctx context.Context, afterSeq uint64, limit int) ([]*models.BridgeEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return r.repo.ListSince(ctx, afterSeq, limit)
}

// ByEpoch every event of one epoch in emission order
func (r *EventRecorder) ByEpoch(ctx context.Context, epochID uint64) ([]*models.BridgeEvent, error) {
	return r.repo.ListByEpoch(ctx, epochID)
}
