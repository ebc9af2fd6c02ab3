package models

import (
	"time"

	"gorm.io/datatypes"
)

type SyncJobType string

const (
	SyncJobFull        SyncJobType = "full"
	SyncJobIncremental SyncJobType = "incremental"
	SyncJobManual      SyncJobType = "manual"
	SyncJobWebhook     SyncJobType = "webhook"
	SyncJobInitial     SyncJobType = "initial"
)

func (t SyncJobType) Valid() bool {
	switch t {
	case SyncJobFull, SyncJobIncremental, SyncJobManual, SyncJobWebhook, SyncJobInitial:
		return true
	}
	return false
}

// PriorityBonus is added to every queue job the sync fans out, so a
// user-initiated sync overtakes scheduled ones within the same entity.
func (t SyncJobType) PriorityBonus() int {
	switch t {
	case SyncJobManual:
		return 5
	case SyncJobInitial:
		return 4
	case SyncJobWebhook:
		return 3
	case SyncJobIncremental:
		return 1
	}
	return 0
}

type SyncStatus string

const (
	SyncPending             SyncStatus = "pending"
	SyncRunning             SyncStatus = "running"
	SyncCompleted           SyncStatus = "completed"
	SyncCompletedWithErrors SyncStatus = "completed_with_errors"
	SyncFailed              SyncStatus = "failed"
	SyncCancelled           SyncStatus = "cancelled"
)

func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncCompleted, SyncCompletedWithErrors, SyncFailed, SyncCancelled:
		return true
	}
	return false
}

// SyncOptions is the caller-supplied metadata of a sync request.
type SyncOptions struct {
	// Entities limits the sync to a subset. Empty means all.
	Entities      []EntityType `json:"entities,omitempty"`
	ModifiedSince *time.Time   `json:"modifiedSince,omitempty"`
	DateFrom      *time.Time   `json:"dateFrom,omitempty"`
	DateTo        *time.Time   `json:"dateTo,omitempty"`
	InvoiceTypes  []string     `json:"invoiceTypes,omitempty"`
}

type SyncJob struct {
	ID             string                          `gorm:"column:id;primaryKey"`
	IntegrationID  string                          `gorm:"column:integration_id;index"`
	TenantID       string                          `gorm:"column:tenant_id;index"`
	UserID         string                          `gorm:"column:user_id"`
	JobType        SyncJobType                     `gorm:"column:job_type"`
	Priority       int                             `gorm:"column:priority"`
	Status         SyncStatus                      `gorm:"column:status"`
	Options        datatypes.JSONType[SyncOptions] `gorm:"column:options;type:jsonb"`
	EntitiesQueued int                             `gorm:"column:entities_queued"`
	Error          *string                         `gorm:"column:error"`
	StartedAt      *time.Time                      `gorm:"column:started_at"`
	CompletedAt    *time.Time                      `gorm:"column:completed_at"`
	CreatedAt      time.Time                       `gorm:"column:created_at"`
	UpdatedAt      time.Time                       `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}
