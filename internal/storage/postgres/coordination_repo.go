package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/engine"
)

// CoordinationRepository persists the append-only strategy outcome log.
type CoordinationRepository struct {
	db *gorm.DB
}

// NewCoordinationRepository creates a CoordinationRepository.
func NewCoordinationRepository(db *gorm.DB) *CoordinationRepository {
	return &CoordinationRepository{db: db}
}

func (r *CoordinationRepository) AppendRecord(ctx context.Context, rec coordination.Record) error {
	model := toRecordModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending coordination record: %w", err)
	}
	return nil
}

// ListRecords returns records for one strategy, newest first.
func (r *CoordinationRepository) ListRecords(ctx context.Context, strategy string, limit int) ([]coordination.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []CoordinationRecordModel
	if err := r.db.WithContext(ctx).
		Where("strategy = ?", strategy).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing coordination records: %w", err)
	}
	out := make([]coordination.Record, len(models))
	for i := range models {
		out[i] = toRecordDomain(&models[i])
	}
	return out, nil
}

// Compile-time check.
var _ engine.CoordinationJournal = (*CoordinationRepository)(nil)
