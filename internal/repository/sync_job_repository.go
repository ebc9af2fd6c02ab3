package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vipul43/ledgersync/internal/models"
)

var (
	ErrSyncJobNotFound = errors.New("sync job not found")
	// ErrActiveSyncExists is returned when the one-in-flight-sync index rejects
	// a new sync job.
	ErrActiveSyncExists = errors.New("integration already has an active sync job")
)

var activeSyncStatuses = []models.SyncStatus{models.SyncPending, models.SyncRunning}

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// CreateWithQueueJob inserts the sync job and its orchestrator queue job in one
// transaction. A concurrent trigger for the same integration loses on the
// partial unique index and gets ErrActiveSyncExists.
func (r *SyncJobRepository) CreateWithQueueJob(ctx context.Context, job *models.SyncJob, queueJob *models.QueueJob) error {
	if err := queueJob.Payload.Data().Validate(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return tx.Create(queueJob).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActiveSyncExists
		}
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// GetByID retrieves sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, syncJobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).First(&job, "id = ?", syncJobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSyncJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", result.Error)
	}
	return &job, nil
}

// GetForTenant retrieves a sync job only if it belongs to the tenant
func (r *SyncJobRepository) GetForTenant(ctx context.Context, tenantID, syncJobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).First(&job, "id = ? AND tenant_id = ?", syncJobID, tenantID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSyncJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", result.Error)
	}
	return &job, nil
}

// Start moves a pending sync job to running and enqueues its entity import
// jobs in the same transaction. It returns false when the job was no longer
// pending (already started, or cancelled before a worker picked it up).
func (r *SyncJobRepository) Start(ctx context.Context, syncJobID string, importJobs []models.QueueJob) (bool, error) {
	for i := range importJobs {
		if err := importJobs[i].Payload.Data().Validate(); err != nil {
			return false, err
		}
	}

	started := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.SyncJob{}).
			Where("id = ? AND status = ?", syncJobID, models.SyncPending).
			Updates(map[string]interface{}{
				"status":          models.SyncRunning,
				"started_at":      now,
				"entities_queued": len(importJobs),
				"updated_at":      now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		started = true

		if len(importJobs) == 0 {
			return nil
		}
		return tx.Create(&importJobs).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to start sync job: %w", err)
	}
	return started, nil
}

// Finish moves an active sync job to a terminal status. It returns false when
// the job was already terminal, so a cancelled job is never overwritten.
func (r *SyncJobRepository) Finish(ctx context.Context, syncJobID string, status models.SyncStatus, errMsg *string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", syncJobID, activeSyncStatuses).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to finish sync job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Cancel marks an active sync job cancelled and cancels its queue jobs that
// have not started yet. Running import jobs notice the flag between pages.
func (r *SyncJobRepository) Cancel(ctx context.Context, syncJobID string) (bool, error) {
	cancelled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.SyncJob{}).
			Where("id = ? AND status IN ?", syncJobID, activeSyncStatuses).
			Updates(map[string]interface{}{
				"status":       models.SyncCancelled,
				"completed_at": now,
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		cancelled = true

		return cancelPendingQueueJobs(tx, syncJobID, "sync cancelled")
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel sync job: %w", err)
	}
	return cancelled, nil
}

// HasEnded reports whether the sync job reached any terminal status.
// Imports stop on cancellation and on a failure recorded elsewhere alike.
func (r *SyncJobRepository) HasEnded(ctx context.Context, syncJobID string) (bool, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).Select("status").First(&job, "id = ?", syncJobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, ErrSyncJobNotFound
		}
		return false, fmt.Errorf("failed to check sync job status: %w", result.Error)
	}
	return job.Status.IsTerminal(), nil
}

// ListStalled returns active sync jobs that started (or were created) before
// the cutoff.
func (r *SyncJobRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status IN ? AND COALESCE(started_at, created_at) < ?", activeSyncStatuses, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stalled sync jobs: %w", result.Error)
	}
	return jobs, nil
}
