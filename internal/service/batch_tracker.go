package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/vipul43/ledgersync/internal/events"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
)

// BatchTracker persists import batches the same way for every importer.
type BatchTracker struct {
	store     BatchStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewBatchTracker(store BatchStore, publisher events.Publisher, m *metrics.Metrics, log logrus.FieldLogger) *BatchTracker {
	return &BatchTracker{
		store:     store,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Create opens a processing batch for one entity import
func (t *BatchTracker) Create(ctx context.Context, scope models.ImportScope, entity models.EntityType, source string) (*models.ImportBatch, error) {
	now := t.now()
	batch := &models.ImportBatch{
		ID:            uuid.New().String(),
		TenantID:      scope.TenantID,
		IntegrationID: scope.IntegrationID,
		SyncJobID:     scope.SyncJobID,
		BatchType:     entity,
		Source:        source,
		Status:        models.BatchProcessing,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.store.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}
	return batch, nil
}

func (t *BatchTracker) UpdateProgress(ctx context.Context, batchID string, progress models.BatchProgress) error {
	if err := t.store.UpdateProgress(ctx, batchID, progress); err != nil {
		return fmt.Errorf("failed to update import batch progress: %w", err)
	}
	return nil
}

// Finalize closes the batch. A batch can be finalized once; later calls
// return ErrBatchAlreadyFinalized.
func (t *BatchTracker) Finalize(ctx context.Context, batch *models.ImportBatch, status models.BatchStatus, progress models.BatchProgress, summary models.BatchSummary) error {
	ok, err := t.store.Finalize(ctx, batch.ID, status, progress, summary)
	if err != nil {
		return fmt.Errorf("failed to finalize import batch: %w", err)
	}
	if !ok {
		return ErrBatchAlreadyFinalized
	}

	now := t.now()
	batch.Status = status
	batch.CompletedAt = &now
	batch.Summary = datatypes.NewJSONType(summary)
	applyProgress(batch, progress)

	t.metrics.RecordBatch(string(batch.BatchType), string(status), now.Sub(batch.StartedAt))

	t.log.WithFields(logrus.Fields{
		"batch_id":    batch.ID,
		"sync_job_id": batch.SyncJobID,
		"entity":      batch.BatchType,
		"status":      status,
		"total":       progress.TotalRecords,
		"created":     progress.CreatedRecords,
		"updated":     progress.UpdatedRecords,
		"duplicates":  progress.DuplicateRecords,
		"failed":      progress.FailedRecords,
	}).Info("Import batch finalized")

	if err := t.publisher.Publish(ctx, events.ImportBatchFinalized, batch.IntegrationID, map[string]interface{}{
		"batchId":          batch.ID,
		"syncJobId":        batch.SyncJobID,
		"integrationId":    batch.IntegrationID,
		"tenantId":         batch.TenantID,
		"entity":           batch.BatchType,
		"status":           status,
		"totalRecords":     progress.TotalRecords,
		"createdRecords":   progress.CreatedRecords,
		"updatedRecords":   progress.UpdatedRecords,
		"failedRecords":    progress.FailedRecords,
		"duplicateRecords": progress.DuplicateRecords,
	}); err != nil {
		t.log.WithError(err).Warn("Failed to publish batch finalized event")
	}
	return nil
}

func applyProgress(batch *models.ImportBatch, p models.BatchProgress) {
	batch.TotalRecords = p.TotalRecords
	batch.ProcessedRecords = p.ProcessedRecords
	batch.CreatedRecords = p.CreatedRecords
	batch.UpdatedRecords = p.UpdatedRecords
	batch.FailedRecords = p.FailedRecords
	batch.DuplicateRecords = p.DuplicateRecords
	batch.WarningCount = p.WarningCount
}
