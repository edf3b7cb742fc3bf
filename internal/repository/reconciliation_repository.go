package repository

import (
	"context"
	"errors"

	"lottery-backend/internal/models"

	"gorm.io/gorm"
)

// ReconciliationRepository defines the interface for operator work items
type ReconciliationRepository interface {
	Create(ctx context.Context, rec *models.ReconciliationRecord) error
	Update(ctx context.Context, rec *models.ReconciliationRecord) error
	GetByID(ctx context.Context, id string) (*models.ReconciliationRecord, error)
	FindOpenByFingerprint(ctx context.Context, fingerprint string) (*models.ReconciliationRecord, error)
	List(ctx context.Context, status models.ReconciliationStatus, epochID uint64, page, limit int) ([]*models.ReconciliationRecord, int64, error)
	CountOpen(ctx context.Context) (int64, error)
}

// reconciliationRepository implements ReconciliationRepository
type reconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository creates a new ReconciliationRepository instance
func NewReconciliationRepository(db *gorm.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

func (r *reconciliationRepository) Create(ctx context.Context, rec *models.ReconciliationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *reconciliationRepository) Update(ctx context.Context, rec *models.ReconciliationRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *reconciliationRepository) GetByID(ctx context.Context, id string) (*models.ReconciliationRecord, error) {
	var rec models.ReconciliationRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindOpenByFingerprint returns nil, nil when no pending record matches
func (r *reconciliationRepository) FindOpenByFingerprint(ctx context.Context, fingerprint string) (*models.ReconciliationRecord, error) {
	var rec models.ReconciliationRecord
	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND status = ?", fingerprint, models.ReconciliationStatusPending).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List epochID 0 and empty status match everything
func (r *reconciliationRepository) List(ctx context.Context, status models.ReconciliationStatus, epochID uint64, page, limit int) ([]*models.ReconciliationRecord, int64, error) {
	var records []*models.ReconciliationRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if epochID != 0 {
		query = query.Where("epoch_id = ?", epochID)
	}
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *reconciliationRepository) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReconciliationRecord{}).
		Where("status = ?", models.ReconciliationStatusPending).
		Count(&count).Error
	return count, err
}
