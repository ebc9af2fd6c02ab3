package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipul43/ledgersync/internal/models"
)

// ErrQueueJobNotRunning is returned when a worker acknowledges a job that is
// no longer running, for example because the reconciler failed it meanwhile
var ErrQueueJobNotRunning = errors.New("queue job is no longer running")

type QueueJobRepository struct {
	db *gorm.DB
}

func NewQueueJobRepository(db *gorm.DB) *QueueJobRepository {
	return &QueueJobRepository{db: db}
}

// ClaimNext locks the highest-priority due job on the queue and marks it
// running. Concurrent workers skip rows another worker holds. It returns nil
// when nothing is due.
func (r *QueueJobRepository) ClaimNext(ctx context.Context, queue string) (*models.QueueJob, error) {
	var claimed *models.QueueJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.QueueJob
		now := time.Now()
		result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND next_run_at <= ?", queue, models.QueuePending, now).
			Order("priority DESC").
			Order("next_run_at ASC").
			Order("created_at ASC").
			Limit(1).
			Find(&job)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		result = tx.Model(&models.QueueJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.QueueRunning,
				"locked_at":  now,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}

		job.Status = models.QueueRunning
		job.LockedAt = &now
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job on %s: %w", queue, err)
	}
	return claimed, nil
}

// Complete marks a running job completed with the given outcome
func (r *QueueJobRepository) Complete(ctx context.Context, jobID, outcome string) error {
	return r.finish(ctx, jobID, models.QueueCompleted, &outcome, nil)
}

// Fail marks a running job permanently failed
func (r *QueueJobRepository) Fail(ctx context.Context, jobID, errMsg string) error {
	outcome := string(models.QueueFailed)
	return r.finish(ctx, jobID, models.QueueFailed, &outcome, &errMsg)
}

func (r *QueueJobRepository) finish(ctx context.Context, jobID string, status models.QueueJobStatus, outcome, errMsg *string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", jobID, models.QueueRunning).
		Updates(map[string]interface{}{
			"status":       status,
			"outcome":      outcome,
			"last_error":   errMsg,
			"locked_at":    nil,
			"processed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQueueJobNotRunning
	}
	return nil
}

// Retry puts a running job back on its queue to run again at runAt
func (r *QueueJobRepository) Retry(ctx context.Context, jobID string, runAt time.Time, errMsg string) error {
	result := r.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", jobID, models.QueueRunning).
		Updates(map[string]interface{}{
			"status":      models.QueuePending,
			"next_run_at": runAt,
			"locked_at":   nil,
			"last_error":  errMsg,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reschedule job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQueueJobNotRunning
	}
	return nil
}

// CancelPending cancels the sync job's queue jobs that never started
func (r *QueueJobRepository) CancelPending(ctx context.Context, syncJobID, reason string) error {
	if err := cancelPendingQueueJobs(r.db.WithContext(ctx), syncJobID, reason); err != nil {
		return fmt.Errorf("failed to cancel pending jobs: %w", err)
	}
	return nil
}

func cancelPendingQueueJobs(tx *gorm.DB, syncJobID, reason string) error {
	now := time.Now()
	outcome := string(models.QueueCancelled)
	return tx.Model(&models.QueueJob{}).
		Where("sync_job_id = ? AND status = ?", syncJobID, models.QueuePending).
		Updates(map[string]interface{}{
			"status":       models.QueueCancelled,
			"outcome":      outcome,
			"last_error":   reason,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

// ListBySyncJob returns every queue job fanned out for a sync job
func (r *QueueJobRepository) ListBySyncJob(ctx context.Context, syncJobID string) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	result := r.db.WithContext(ctx).
		Where("sync_job_id = ?", syncJobID).
		Order("priority DESC").
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list queue jobs: %w", result.Error)
	}
	return jobs, nil
}

// FailStalled fails running jobs whose worker has held them since before the
// cutoff (a crashed worker never acks).
func (r *QueueJobRepository) FailStalled(ctx context.Context, lockedBefore time.Time, reason string) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	now := time.Now()
	outcome := string(models.QueueFailed)
	result := r.db.WithContext(ctx).Model(&jobs).
		Clauses(clause.Returning{}).
		Where("status = ? AND locked_at < ?", models.QueueRunning, lockedBefore).
		Updates(map[string]interface{}{
			"status":       models.QueueFailed,
			"outcome":      outcome,
			"last_error":   reason,
			"locked_at":    nil,
			"processed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to fail stalled jobs: %w", result.Error)
	}
	return jobs, nil
}
