package repository

import (
	"context"
	"errors"

	"lottery-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EpochRepository defines the interface for epoch snapshot data access
type EpochRepository interface {
	SaveEpoch(ctx context.Context, epoch *models.EpochRecord, deposits []models.DepositRecord) error
	LoadLatestEpoch(ctx context.Context) (*models.EpochRecord, []models.DepositRecord, error)
	GetEpoch(ctx context.Context, epochID uint64) (*models.EpochRecord, []models.DepositRecord, error)
	ListEpochs(ctx context.Context, page, limit int) ([]*models.EpochRecord, int64, error)
}

// epochRepository implements EpochRepository
type epochRepository struct {
	db *gorm.DB
}

// NewEpochRepository creates a new EpochRepository instance
func NewEpochRepository(db *gorm.DB) EpochRepository {
	return &epochRepository{db: db}
}

// SaveEpoch upserts the epoch row and all its deposits in one transaction
func (r *epochRepository) SaveEpoch(ctx context.Context, epoch *models.EpochRecord, deposits []models.DepositRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "epoch_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "total_deposited", "yield_amount", "staked_amount", "total_paid", "winner_commitment", "randomness_seed", "admin_locked", "updated_at"}),
		}).Create(epoch).Error; err != nil {
			return err
		}
		if len(deposits) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "epoch_id"}, {Name: "commitment"}},
			DoUpdates: clause.AssignmentColumns([]string{"withdrawn", "payout_pending", "is_winner", "paid_amount", "claim_tx_ref", "claim_token", "claim_proof", "payout_tx_ref", "updated_at"}),
		}).Create(&deposits).Error
	})
}

// LoadLatestEpoch returns nil, nil, nil when no epoch was ever saved
func (r *epochRepository) LoadLatestEpoch(ctx context.Context) (*models.EpochRecord, []models.DepositRecord, error) {
	var epoch models.EpochRecord
	err := r.db.WithContext(ctx).Order("epoch_id DESC").First(&epoch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	deposits, err := r.deposits(ctx, epoch.EpochID)
	if err != nil {
		return nil, nil, err
	}
	return &epoch, deposits, nil
}

func (r *epochRepository) GetEpoch(ctx context.Context, epochID uint64) (*models.EpochRecord, []models.DepositRecord, error) {
	var epoch models.EpochRecord
	if err := r.db.WithContext(ctx).Where("epoch_id = ?", epochID).First(&epoch).Error; err != nil {
		return nil, nil, err
	}
	deposits, err := r.deposits(ctx, epochID)
	if err != nil {
		return nil, nil, err
	}
	return &epoch, deposits, nil
}

func (r *epochRepository) ListEpochs(ctx context.Context, page, limit int) ([]*models.EpochRecord, int64, error) {
	var epochs []*models.EpochRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.EpochRecord{})
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("epoch_id DESC").Find(&epochs).Error
	if err != nil {
		return nil, 0, err
	}
	return epochs, total, nil
}

func (r *epochRepository) deposits(ctx context.Context, epochID uint64) ([]models.DepositRecord, error) {
	var deposits []models.DepositRecord
	err := r.db.WithContext(ctx).
		Where("epoch_id = ?", epochID).
		Order("seq ASC").
		Find(&deposits).Error
	return deposits, err
}
