package gormrepo

import (
	"context"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
)

// IngestBatchRepo writes the per-call audit trail. Rows are never read back
// by the service.
type IngestBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ repository.IngestBatchRepository = (*IngestBatchRepo)(nil)

func NewIngestBatchRepo(db *gorm.DB, baseLog *logger.Logger) *IngestBatchRepo {
	return &IngestBatchRepo{db: db, log: baseLog.With("repo", "IngestBatchRepo")}
}

func (r *IngestBatchRepo) Create(ctx context.Context, tx *gorm.DB, batch *entities.IngestBatch) error {
	batch.ReceivedAt = normalizeTime(batch.ReceivedAt)
	return conn(tx, r.db).WithContext(ctx).Create(batch).Error
}
