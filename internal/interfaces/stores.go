package interfaces

import (
	"context"

	"lottery-backend/internal/models"
)

// EpochStore persists epoch snapshots so a restarted coordinator can resume
type EpochStore interface {
	SaveEpoch(ctx context.Context, epoch *models.EpochRecord, deposits []models.DepositRecord) error
	LoadLatestEpoch(ctx context.Context) (*models.EpochRecord, []models.DepositRecord, error)
}

// ReconciliationRecorder receives facts an operator must reconcile by hand
type ReconciliationRecorder interface {
	Record(ctx context.Context, rec *models.ReconciliationRecord) error
}
