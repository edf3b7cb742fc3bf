package repository

import (
	"context"
	"sort"
	"sync"

	"lottery-backend/internal/models"

	"gorm.io/gorm"
)

// memoryReconciliationRepository keeps operator records in process memory.
// Used when the coordinator runs without a database.
type memoryReconciliationRepository struct {
	mu      sync.Mutex
	records map[string]*models.ReconciliationRecord
}

// NewMemoryReconciliationRepository creates an in-memory ReconciliationRepository
func NewMemoryReconciliationRepository() ReconciliationRepository {
	return &memoryReconciliationRepository{records: make(map[string]*models.ReconciliationRecord)}
}

func (r *memoryReconciliationRepository) Create(ctx context.Context, rec *models.ReconciliationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *memoryReconciliationRepository) Update(ctx context.Context, rec *models.ReconciliationRecord) error {
	return r.Create(ctx, rec)
}

func (r *memoryReconciliationRepository) GetByID(ctx context.Context, id string) (*models.ReconciliationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memoryReconciliationRepository) FindOpenByFingerprint(ctx context.Context, fingerprint string) (*models.ReconciliationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Fingerprint == fingerprint && rec.IsOpen() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// List newest first; limit <= 0 returns every match
func (r *memoryReconciliationRepository) List(ctx context.Context, status models.ReconciliationStatus, epochID uint64, page, limit int) ([]*models.ReconciliationRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReconciliationRecord
	for _, rec := range r.records {
		if (status == "" || rec.Status == status) && (epochID == 0 || rec.EpochID == epochID) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := int64(len(out))
	if limit <= 0 {
		return out, total, nil
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(out) {
		return []*models.ReconciliationRecord{}, total, nil
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *memoryReconciliationRepository) CountOpen(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.IsOpen() {
			n++
		}
	}
	return n, nil
}
