package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery-backend/internal/metrics"
	"lottery-backend/internal/models"
	"lottery-backend/internal/repository"
	"lottery-backend/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReconciliationService operator queue for half-applied stages, failed
// payouts and cross-chain disagreements. Nothing here moves funds; an
// operator inspects both chains and closes the record by hand.
type ReconciliationService struct {
	repo repository.ReconciliationRepository
}

// NewReconciliationService create the service
func NewReconciliationService(repo repository.ReconciliationRepository) *ReconciliationService {
	return &ReconciliationService{repo: repo}
}

// Record implements interfaces.ReconciliationRecorder. A pending record with
// the same fingerprint is refreshed instead of duplicated.
func (s *ReconciliationService) Record(ctx context.Context, rec *models.ReconciliationRecord) error {
	existing, err := s.repo.FindOpenByFingerprint(ctx, rec.Fingerprint)
	if err != nil {
		return fmt.Errorf("find reconciliation record: %w", err)
	}
	if existing != nil {
		existing.LastError = rec.LastError
		existing.EpochStatus = rec.EpochStatus
		if rec.TxRef != "" {
			existing.TxRef = rec.TxRef
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return fmt.Errorf("update reconciliation record: %w", err)
		}
		logrus.WithField("id", existing.ID).Debug("[Reconciliation] refreshed pending record")
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.ReconciliationStatusPending
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("create reconciliation record: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"id":    rec.ID,
		"kind":  rec.Kind,
		"epoch": rec.EpochID,
		"stage": rec.Stage,
	}).Warn("📝 [Reconciliation] record created")
	s.RefreshGauge(ctx)
	return nil
}

// List records, newest first
func (s *ReconciliationService) List(ctx context.Context, status models.ReconciliationStatus, epochID uint64, page, limit int) ([]*models.ReconciliationRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, status, epochID, page, limit)
}

// Get one record
func (s *ReconciliationService) Get(ctx context.Context, id string) (*models.ReconciliationRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: reconciliation record %s not found", types.ErrInvalidInput, id)
	}
	return rec, err
}

// Resolve close a pending record with the operator's note
func (s *ReconciliationService) Resolve(ctx context.Context, id, by, note string) (*models.ReconciliationRecord, error) {
	if by == "" || note == "" {
		return nil, fmt.Errorf("%w: resolver and note are required", types.ErrInvalidInput)
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsOpen() {
		return nil, fmt.Errorf("%w: record %s already resolved", types.ErrInvalidTransition, id)
	}
	rec.MarkResolved(by, note)
	rec.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("update reconciliation record: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"id":          rec.ID,
		"resolved_by": by,
	}).Info("✅ [Reconciliation] record resolved")
	s.RefreshGauge(ctx)
	return rec, nil
}

// RefreshGauge publish the pending record count
func (s *ReconciliationService) RefreshGauge(ctx context.Context) {
	count, err := s.repo.CountOpen(ctx)
	if err != nil {
		logrus.Warnf("⚠️ [Reconciliation] count pending failed: %v", err)
		return
	}
	metrics.PendingReconciliations.Set(float64(count))
}
