package models

import (
	"time"

	"gorm.io/datatypes"
)

type QueueJobStatus string

const (
	QueuePending   QueueJobStatus = "pending"
	QueueRunning   QueueJobStatus = "running"
	QueueCompleted QueueJobStatus = "completed"
	QueueFailed    QueueJobStatus = "failed"
	QueueCancelled QueueJobStatus = "cancelled"
)

func (s QueueJobStatus) IsTerminal() bool {
	return s == QueueCompleted || s == QueueFailed || s == QueueCancelled
}

// QueueJob is one unit of work on a priority queue: the orchestrator job of a
// sync, or one entity import.
type QueueJob struct {
	ID            string                         `gorm:"column:id;primaryKey"`
	Queue         string                         `gorm:"column:queue;index"`
	Priority      int                            `gorm:"column:priority"`
	Status        QueueJobStatus                 `gorm:"column:status"`
	Outcome       *string                        `gorm:"column:outcome"`
	Attempts      int                            `gorm:"column:attempts"`
	MaxAttempts   int                            `gorm:"column:max_attempts"`
	NextRunAt     time.Time                      `gorm:"column:next_run_at"`
	LockedAt      *time.Time                     `gorm:"column:locked_at"`
	SyncJobID     string                         `gorm:"column:sync_job_id;index"`
	IntegrationID string                         `gorm:"column:integration_id"`
	TenantID      string                         `gorm:"column:tenant_id"`
	Payload       datatypes.JSONType[JobPayload] `gorm:"column:payload;type:jsonb"`
	LastError     *string                        `gorm:"column:last_error"`
	ProcessedAt   *time.Time                     `gorm:"column:processed_at"`
	CreatedAt     time.Time                      `gorm:"column:created_at"`
	UpdatedAt     time.Time                      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (QueueJob) TableName() string {
	return "queue_job"
}
