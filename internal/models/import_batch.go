package models

import (
	"time"

	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchProcessing          BatchStatus = "processing"
	BatchCompleted           BatchStatus = "completed"
	BatchCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchFailed              BatchStatus = "failed"
	BatchCancelled           BatchStatus = "cancelled"
)

func (s BatchStatus) IsTerminal() bool {
	return s != BatchProcessing && s != ""
}

// RecordIssue is one per-record error or warning kept in a batch summary.
type RecordIssue struct {
	ExternalID string `json:"externalId,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

type BatchSummary struct {
	Pages           int           `json:"pages"`
	ReachedMaxPages bool          `json:"reachedMaxPages,omitempty"`
	Errors          []RecordIssue `json:"errors,omitempty"`
	Warnings        []RecordIssue `json:"warnings,omitempty"`
	// TruncatedIssues counts errors and warnings dropped once the lists hit
	// their cap.
	TruncatedIssues int    `json:"truncatedIssues,omitempty"`
	FatalError      string `json:"fatalError,omitempty"`
}

// ImportBatch is one run of one entity importer within a sync job.
type ImportBatch struct {
	ID               string                           `gorm:"column:id;primaryKey"`
	TenantID         string                           `gorm:"column:tenant_id;index"`
	IntegrationID    string                           `gorm:"column:integration_id"`
	SyncJobID        string                           `gorm:"column:sync_job_id;index"`
	BatchType        EntityType                       `gorm:"column:batch_type"`
	Source           string                           `gorm:"column:source"`
	Status           BatchStatus                      `gorm:"column:status"`
	TotalRecords     int                              `gorm:"column:total_records"`
	ProcessedRecords int                              `gorm:"column:processed_records"`
	CreatedRecords   int                              `gorm:"column:created_records"`
	UpdatedRecords   int                              `gorm:"column:updated_records"`
	FailedRecords    int                              `gorm:"column:failed_records"`
	DuplicateRecords int                              `gorm:"column:duplicate_records"`
	WarningCount     int                              `gorm:"column:warning_count"`
	Summary          datatypes.JSONType[BatchSummary] `gorm:"column:summary;type:jsonb"`
	StartedAt        time.Time                        `gorm:"column:started_at"`
	CompletedAt      *time.Time                       `gorm:"column:completed_at"`
	CreatedAt        time.Time                        `gorm:"column:created_at"`
	UpdatedAt        time.Time                        `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (ImportBatch) TableName() string {
	return "import_batch"
}

// BatchProgress is the running tally an importer reports while paging.
type BatchProgress struct {
	TotalRecords     int
	ProcessedRecords int
	CreatedRecords   int
	UpdatedRecords   int
	FailedRecords    int
	DuplicateRecords int
	WarningCount     int
}
