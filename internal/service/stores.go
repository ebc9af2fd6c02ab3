package service

import (
	"context"
	"time"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/xero"
)

// IntegrationStore interface for dependency injection
type IntegrationStore interface {
	GetByID(ctx context.Context, integrationID string) (*models.Integration, error)
	GetForTenant(ctx context.Context, tenantID, integrationID string) (*models.Integration, error)
	UpdateTokens(ctx context.Context, integrationID string, auth models.AuthPayload) error
	RecordRefreshFailure(ctx context.Context, integrationID, reason string, ceiling int, needsReauth bool) (int, error)
	MarkSynced(ctx context.Context, integrationID string, syncedAt time.Time) error
	RecordSyncError(ctx context.Context, integrationID, reason string) error
}

type SyncJobStore interface {
	CreateWithQueueJob(ctx context.Context, job *models.SyncJob, queueJob *models.QueueJob) error
	GetByID(ctx context.Context, syncJobID string) (*models.SyncJob, error)
	GetForTenant(ctx context.Context, tenantID, syncJobID string) (*models.SyncJob, error)
	Start(ctx context.Context, syncJobID string, importJobs []models.QueueJob) (bool, error)
	Finish(ctx context.Context, syncJobID string, status models.SyncStatus, errMsg *string) (bool, error)
	Cancel(ctx context.Context, syncJobID string) (bool, error)
	HasEnded(ctx context.Context, syncJobID string) (bool, error)
	ListStalled(ctx context.Context, before time.Time, limit int) ([]models.SyncJob, error)
}

type QueueJobStore interface {
	ListBySyncJob(ctx context.Context, syncJobID string) ([]models.QueueJob, error)
	CancelPending(ctx context.Context, syncJobID, reason string) error
	FailStalled(ctx context.Context, lockedBefore time.Time, reason string) ([]models.QueueJob, error)
}

type BatchStore interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	UpdateProgress(ctx context.Context, batchID string, progress models.BatchProgress) error
	Finalize(ctx context.Context, batchID string, status models.BatchStatus, progress models.BatchProgress, summary models.BatchSummary) (bool, error)
	ListBySyncJob(ctx context.Context, syncJobID string) ([]models.ImportBatch, error)
	FailStalled(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
}

// RecordStore is the persistence one importer writes through. T is a
// pointer to the entity model.
type RecordStore[T models.Record] interface {
	FindExisting(ctx context.Context, tenantID string, externalIDs, dedupKeys []string) ([]T, error)
	InsertBatch(ctx context.Context, rows []T) (int64, error)
	UpdateBatch(ctx context.Context, rows []T) error
}

type InvoiceStore interface {
	RecordStore[*models.Invoice]
	FindByNumbers(ctx context.Context, tenantID string, numbers []string) ([]*models.Invoice, error)
}

type LookupStore interface {
	ListAccountRefs(ctx context.Context, tenantID, provider string) ([]models.AccountRef, error)
	ListSupplierRefs(ctx context.Context, tenantID, provider string) ([]models.SupplierRef, error)
}

// TokenRefresher exchanges a refresh token at the provider
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*xero.TokenSet, error)
}

// ProviderAPI is the set of list endpoints the importers page through.
type ProviderAPI interface {
	ListAccounts(ctx context.Context, accessToken, tenantID string, p xero.ListParams) ([]xero.Account, error)
	ListContacts(ctx context.Context, accessToken, tenantID string, p xero.ListParams) ([]xero.Contact, error)
	ListInvoices(ctx context.Context, accessToken, tenantID string, p xero.ListParams) ([]xero.Invoice, error)
	ListBankTransactions(ctx context.Context, accessToken, tenantID string, p xero.ListParams) ([]xero.BankTransaction, error)
	ListManualJournals(ctx context.Context, accessToken, tenantID string, p xero.ListParams) ([]xero.ManualJournal, error)
}
