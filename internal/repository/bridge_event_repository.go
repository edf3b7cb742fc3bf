package repository

import (
	"context"

	"lottery-backend/internal/models"

	"gorm.io/gorm"
)

// BridgeEventRepository defines the interface for bridge event log access
type BridgeEventRepository interface {
	Create(ctx context.Context, event *models.BridgeEvent) error
	ListSince(ctx context.Context, afterSeq uint64, limit int) ([]*models.BridgeEvent, error)
	ListByEpoch(ctx context.Context, epochID uint64) ([]*models.BridgeEvent, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// bridgeEventRepository implements BridgeEventRepository
type bridgeEventRepository struct {
	db *gorm.DB
}

// NewBridgeEventRepository creates a new BridgeEventRepository instance
func NewBridgeEventRepository(db *gorm.DB) BridgeEventRepository {
	return &bridgeEventRepository{db: db}
}

func (r *bridgeEventRepository) Create(ctx context.Context, event *models.BridgeEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *bridgeEventRepository) ListSince(ctx context.Context, afterSeq uint64, limit int) ([]*models.BridgeEvent, error) {
	var events []*models.BridgeEvent
	err := r.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *bridgeEventRepository) ListByEpoch(ctx context.Context, epochID uint64) ([]*models.BridgeEvent, error) {
	var events []*models.BridgeEvent
	err := r.db.WithContext(ctx).
		Where("epoch_id = ?", epochID).
		Order("seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LastSeq highest persisted sequence number, 0 for an empty log
func (r *bridgeEventRepository) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := r.db.WithContext(ctx).
		Model(&models.BridgeEvent{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	return seq, err
}
