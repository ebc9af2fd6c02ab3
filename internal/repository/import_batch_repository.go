package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vipul43/ledgersync/internal/models"
)

type ImportBatchRepository struct {
	db *gorm.DB
}

func NewImportBatchRepository(db *gorm.DB) *ImportBatchRepository {
	return &ImportBatchRepository{db: db}
}

// Create inserts a new import batch
func (r *ImportBatchRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

// UpdateProgress writes the running counters of a batch still processing
func (r *ImportBatchRepository) UpdateProgress(ctx context.Context, batchID string, progress models.BatchProgress) error {
	updates := progressColumns(progress)
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ? AND status = ?", batchID, models.BatchProcessing).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update batch progress: %w", result.Error)
	}
	return nil
}

// Finalize writes the terminal status, counters and summary. Only a batch
// still processing can be finalized; the bool reports whether this call did it.
func (r *ImportBatchRepository) Finalize(ctx context.Context, batchID string, status models.BatchStatus, progress models.BatchProgress, summary models.BatchSummary) (bool, error) {
	now := time.Now()
	updates := progressColumns(progress)
	updates["status"] = status
	updates["summary"] = datatypes.NewJSONType(summary)
	updates["completed_at"] = now
	updates["updated_at"] = now

	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ? AND status = ?", batchID, models.BatchProcessing).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalize import batch: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListBySyncJob returns the batches a sync job produced, oldest first
func (r *ImportBatchRepository) ListBySyncJob(ctx context.Context, syncJobID string) ([]models.ImportBatch, error) {
	var batches []models.ImportBatch
	result := r.db.WithContext(ctx).
		Where("sync_job_id = ?", syncJobID).
		Order("started_at ASC").
		Find(&batches)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", result.Error)
	}
	return batches, nil
}

// FailStalled fails batches left processing since before the cutoff
func (r *ImportBatchRepository) FailStalled(ctx context.Context, startedBefore time.Time, reason string) (int64, error) {
	now := time.Now()
	summary := datatypes.NewJSONType(models.BatchSummary{FatalError: reason})
	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("status = ? AND started_at < ?", models.BatchProcessing, startedBefore).
		Updates(map[string]interface{}{
			"status":       models.BatchFailed,
			"summary":      summary,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to fail stalled batches: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func progressColumns(p models.BatchProgress) map[string]interface{} {
	return map[string]interface{}{
		"total_records":     p.TotalRecords,
		"processed_records": p.ProcessedRecords,
		"created_records":   p.CreatedRecords,
		"updated_records":   p.UpdatedRecords,
		"failed_records":    p.FailedRecords,
		"duplicate_records": p.DuplicateRecords,
		"warning_count":     p.WarningCount,
	}
}
