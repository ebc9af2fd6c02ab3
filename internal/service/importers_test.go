package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/events"
	"github.com/vipul43/ledgersync/internal/logger"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/provider"
	"github.com/vipul43/ledgersync/internal/syncerr"
	"github.com/vipul43/ledgersync/internal/xero"
)

type importHarness struct {
	api       *fakeAPI
	batches   *fakeBatchStore
	checker   *fakeChecker
	publisher *fakePublisher
	pipeline  *Pipeline
}

func newImportHarness(pageSize int) *importHarness {
	cfg := config.Default()
	cfg.Provider.RequestsPerSecond = 1000
	cfg.Provider.RequestsPerMinute = 100000
	cfg.Provider.PageSize = pageSize
	cfg.Import.ChunkSize = 2

	h := &importHarness{
		api:       &fakeAPI{},
		batches:   newFakeBatchStore(),
		checker:   &fakeChecker{},
		publisher: &fakePublisher{},
	}
	client := provider.NewClient(cfg.Provider, fakeCreds{}, nil, logger.Discard())
	tracker := NewBatchTracker(h.batches, h.publisher, nil, logger.Discard())
	h.pipeline = NewPipeline(cfg.Import, client, NewLookupService(testLookupStore()), tracker, h.checker, nil, logger.Discard())
	return h
}

func testScope() models.ImportScope {
	return models.ImportScope{
		SyncJobID:     "sync-1",
		IntegrationID: "int-1",
		TenantID:      "tenant-1",
		JobType:       models.SyncJobFull,
	}
}

func importPayload(t *testing.T, entity models.EntityType) models.JobPayload {
	t.Helper()
	p, err := models.NewImportPayload(entity, testScope(), models.SyncOptions{})
	require.NoError(t, err)
	return p
}

func bankTx(id, reference string, total float64) xero.BankTransaction {
	return xero.BankTransaction{
		BankTransactionID: id,
		Type:              "SPEND",
		Status:            "AUTHORISED",
		Date:              xt("2024-03-05"),
		Reference:         reference,
		Total:             f64Ptr(total),
		BankAccount:       &xero.AccountRef{AccountID: "x-acc-bank"},
		UpdatedDateUTC:    xt("2024-03-05T10:00:00"),
	}
}

func invoice(id, number, status, updated string) xero.Invoice {
	return xero.Invoice{
		InvoiceID:      id,
		InvoiceNumber:  number,
		Type:           models.InvoiceTypeAccPay,
		Status:         status,
		Contact:        &xero.ContactRef{ContactID: "x-acme", Name: "Acme Ltd"},
		Date:           xt("2024-02-01"),
		Total:          f64Ptr(100),
		UpdatedDateUTC: xt(updated),
	}
}

func TestBankTransactionImporter_ReimportIsIdempotent(t *testing.T) {
	h := newImportHarness(100)
	h.api.bankTransactions = [][]xero.BankTransaction{{
		bankTx("bt-1", "A", 10),
		bankTx("", "B", 20),
		bankTx("", "C", 30),
	}}
	store := newFakeRecordStore[*models.BankTransaction]()
	importer := NewBankTransactionImporter(h.pipeline, h.api, store)

	first, err := importer.Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, first.Status)
	assert.Equal(t, 3, first.Progress.CreatedRecords)
	assert.Len(t, store.all(), 3)

	second, err := importer.Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, second.Status)
	assert.Equal(t, 0, second.Progress.CreatedRecords)
	assert.Equal(t, 3, second.Progress.DuplicateRecords)
	assert.Equal(t, 3, second.Progress.ProcessedRecords)
	assert.Len(t, store.all(), 3)
	assert.Equal(t, 2, h.publisher.count(events.ImportBatchFinalized))
}

func TestBankTransactionImporter_NeverRewritesStoredRows(t *testing.T) {
	h := newImportHarness(100)
	stored := &models.BankTransaction{
		RecordMeta: models.RecordMeta{
			ID:         "stored-1",
			TenantID:   "tenant-1",
			ExternalID: strPtr("bt-1"),
			DedupKey:   DedupKey(models.EntityBankTransactions, "bt-1"),
		},
		Status: "AUTHORISED",
	}
	store := newFakeRecordStore(stored)

	changed := bankTx("bt-1", "A", 10)
	changed.Status = "DELETED"
	changed.UpdatedDateUTC = xt("2024-04-01T00:00:00")
	h.api.bankTransactions = [][]xero.BankTransaction{{changed}}

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Progress.DuplicateRecords)
	assert.Equal(t, 0, result.Progress.UpdatedRecords)
	assert.Equal(t, 0, store.updates)
	assert.Equal(t, "AUTHORISED", store.all()[0].Status)
}

func TestInvoiceImporter_UpdatesOnlyWhenChanged(t *testing.T) {
	h := newImportHarness(100)
	store := &fakeInvoiceStore{newFakeRecordStore[*models.Invoice]()}
	importer := NewInvoiceImporter(h.pipeline, h.api, store)
	ctx := context.Background()

	h.api.invoices = [][]xero.Invoice{{invoice("inv-1", "INV-1", "AUTHORISED", "2024-02-01T09:00:00")}}
	result, err := importer.Import(ctx, importPayload(t, models.EntityInvoices))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Progress.CreatedRecords)
	id := store.all()[0].ID

	result, err = importer.Import(ctx, importPayload(t, models.EntityInvoices))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Progress.DuplicateRecords)
	assert.Equal(t, 0, store.updates)

	h.api.invoices = [][]xero.Invoice{{invoice("inv-1", "INV-1", "PAID", "2024-03-01T09:00:00")}}
	result, err = importer.Import(ctx, importPayload(t, models.EntityInvoices))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Progress.UpdatedRecords)

	rows := store.all()
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, "PAID", rows[0].Status)
}

func TestInvoiceImporter_MatchesLocalInvoiceByNumber(t *testing.T) {
	h := newImportHarness(100)
	local := &models.Invoice{
		RecordMeta: models.RecordMeta{
			ID:       "local-1",
			TenantID: "tenant-1",
			DedupKey: "entered-by-hand",
		},
		InvoiceNumber: strPtr("INV-7"),
		Type:          models.InvoiceTypeAccPay,
		Status:        "DRAFT",
	}
	store := &fakeInvoiceStore{newFakeRecordStore(local)}

	receivable := invoice("inv-8", "INV-7", "AUTHORISED", "2024-02-01T09:00:00")
	receivable.Type = models.InvoiceTypeAccRec
	h.api.invoices = [][]xero.Invoice{{
		invoice("inv-7", "INV-7", "AUTHORISED", "2024-02-01T09:00:00"),
		receivable,
	}}

	result, err := NewInvoiceImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityInvoices))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Progress.UpdatedRecords)
	assert.Equal(t, 1, result.Progress.CreatedRecords)

	rows := store.all()
	require.Len(t, rows, 2)
	assert.Equal(t, "local-1", rows[0].ID)
	assert.Equal(t, "inv-7", *rows[0].ExternalID)
	assert.Equal(t, "AUTHORISED", rows[0].Status)
	assert.Equal(t, "inv-8", *rows[1].ExternalID)
}

func TestInvoiceImporter_LinkedInvoiceNeverMatchesByNumber(t *testing.T) {
	h := newImportHarness(100)
	linked := &models.Invoice{
		RecordMeta: models.RecordMeta{
			ID:         "linked-1",
			TenantID:   "tenant-1",
			ExternalID: strPtr("inv-9"),
			DedupKey:   DedupKey(models.EntityInvoices, "inv-9"),
		},
		InvoiceNumber: strPtr("INV-7"),
		Type:          models.InvoiceTypeAccPay,
		Status:        "AUTHORISED",
	}
	store := &fakeInvoiceStore{newFakeRecordStore(linked)}

	// same number and type but the provider sent no id
	h.api.invoices = [][]xero.Invoice{{invoice("", "INV-7", "PAID", "2024-03-01T09:00:00")}}

	result, err := NewInvoiceImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityInvoices))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Progress.UpdatedRecords)
	assert.Equal(t, 1, result.Progress.CreatedRecords)
	assert.Equal(t, 0, store.updates)

	rows := store.all()
	require.Len(t, rows, 2)
	assert.Equal(t, "linked-1", rows[0].ID)
	require.NotNil(t, rows[0].ExternalID)
	assert.Equal(t, "inv-9", *rows[0].ExternalID)
	assert.Equal(t, "AUTHORISED", rows[0].Status)
	assert.Nil(t, rows[1].ExternalID)
}

func TestImport_RecordErrorsDoNotStopTheRun(t *testing.T) {
	h := newImportHarness(100)
	broken := bankTx("bt-2", "B", 20)
	broken.Date = xero.Time{}
	h.api.bankTransactions = [][]xero.BankTransaction{{bankTx("bt-1", "A", 10), broken, bankTx("bt-3", "C", 30)}}
	store := newFakeRecordStore[*models.BankTransaction]()

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompletedWithErrors, result.Status)
	assert.Equal(t, 2, result.Progress.CreatedRecords)
	assert.Equal(t, 1, result.Progress.FailedRecords)
	assert.Equal(t, 3, result.Progress.ProcessedRecords)

	batch := h.batches.last()
	assert.Equal(t, models.BatchCompletedWithErrors, batch.Status)
	errs := batch.Summary.Data().Errors
	require.Len(t, errs, 1)
	assert.Equal(t, "bt-2", errs[0].ExternalID)
}

func TestImport_ChunkFailureFallsBackToRows(t *testing.T) {
	h := newImportHarness(100)
	h.api.bankTransactions = [][]xero.BankTransaction{{
		bankTx("bt-1", "A", 10),
		bankTx("bt-2", "BAD", 20),
		bankTx("bt-3", "C", 30),
		bankTx("bt-4", "D", 40),
	}}
	store := newFakeRecordStore[*models.BankTransaction]()
	store.insertErr = func(rows []*models.BankTransaction) error {
		for _, r := range rows {
			if r.Reference != nil && *r.Reference == "BAD" {
				return errors.New("value too long for column reference")
			}
		}
		return nil
	}

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Progress.CreatedRecords)
	assert.Equal(t, 1, result.Progress.FailedRecords)
	assert.Len(t, store.all(), 3)
	// two chunks, the first replayed row by row
	assert.Equal(t, 4, store.inserts)
}

func TestImport_DuplicateWithinRun(t *testing.T) {
	h := newImportHarness(2)
	h.api.bankTransactions = [][]xero.BankTransaction{
		{bankTx("bt-1", "A", 10), bankTx("bt-2", "B", 20)},
		{bankTx("bt-2", "B", 20)},
	}
	store := newFakeRecordStore[*models.BankTransaction]()

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Progress.CreatedRecords)
	assert.Equal(t, 1, result.Progress.DuplicateRecords)
	assert.Equal(t, 3, result.Progress.TotalRecords)
}

func TestImport_PagesUntilShortPage(t *testing.T) {
	h := newImportHarness(2)
	h.api.manualJournals = [][]xero.ManualJournal{
		{journal("mj-1"), journal("mj-2")},
		{journal("mj-3"), journal("mj-4")},
		{journal("mj-5")},
	}
	store := newFakeRecordStore[*models.ManualJournal]()

	result, err := NewManualJournalImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityManualJournals))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Progress.TotalRecords)
	assert.Equal(t, 5, result.Progress.CreatedRecords)
	assert.Len(t, h.api.params, 3)
	assert.Equal(t, 3, h.batches.last().Summary.Data().Pages)
	assert.Equal(t, 3, h.batches.progress)
}

func journal(id string) xero.ManualJournal {
	return xero.ManualJournal{
		ManualJournalID: id,
		Narration:       "Accrual " + id,
		Date:            xt("2024-01-31"),
		JournalLines: []xero.JournalLine{
			{AccountCode: "200", LineAmount: f64Ptr(50)},
			{AccountCode: "200", LineAmount: f64Ptr(-50)},
		},
	}
}

func TestImport_CancelledBetweenPages(t *testing.T) {
	h := newImportHarness(2)
	// first check runs before the import, the second after page one
	h.checker.cancelAt = 2
	h.api.bankTransactions = [][]xero.BankTransaction{
		{bankTx("bt-1", "A", 10), bankTx("bt-2", "B", 20)},
		{bankTx("bt-3", "C", 30), bankTx("bt-4", "D", 40)},
	}
	store := newFakeRecordStore[*models.BankTransaction]()

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	assert.ErrorIs(t, err, syncerr.ErrCancelled)
	require.NotNil(t, result)
	assert.Equal(t, models.BatchCancelled, result.Status)
	assert.Equal(t, 2, result.Progress.CreatedRecords)
	assert.Len(t, h.api.params, 1)
	assert.Equal(t, models.BatchCancelled, h.batches.last().Status)
}

func TestImport_CancelledBeforeStart(t *testing.T) {
	h := newImportHarness(100)
	h.checker.cancelAt = 1

	result, err := NewBankTransactionImporter(h.pipeline, h.api, newFakeRecordStore[*models.BankTransaction]()).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	assert.ErrorIs(t, err, syncerr.ErrCancelled)
	assert.Nil(t, result)
	assert.Empty(t, h.batches.order)
	assert.Empty(t, h.api.params)
}

func TestImport_StopsWhenSyncAlreadyFailed(t *testing.T) {
	h := newImportHarness(100)
	syncJobs := newFakeSyncJobStore(&fakeQueueJobStore{})
	syncJobs.jobs["sync-1"] = &models.SyncJob{ID: "sync-1", Status: models.SyncFailed}
	h.pipeline.checker = syncJobs
	h.api.bankTransactions = [][]xero.BankTransaction{{bankTx("bt-1", "A", 10)}}
	store := newFakeRecordStore[*models.BankTransaction]()

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	assert.ErrorIs(t, err, syncerr.ErrCancelled)
	assert.Nil(t, result)
	assert.Empty(t, h.api.params)
	assert.Empty(t, h.batches.order)
	assert.Empty(t, store.all())
}

func TestImport_StopsWhenSyncFailsMidRun(t *testing.T) {
	h := newImportHarness(2)
	syncJobs := newFakeSyncJobStore(&fakeQueueJobStore{})
	syncJobs.jobs["sync-1"] = &models.SyncJob{ID: "sync-1", Status: models.SyncRunning}
	h.pipeline.checker = syncJobs
	h.api.bankTransactions = [][]xero.BankTransaction{
		{bankTx("bt-1", "A", 10), bankTx("bt-2", "B", 20)},
		{bankTx("bt-3", "C", 30), bankTx("bt-4", "D", 40)},
	}
	store := newFakeRecordStore[*models.BankTransaction]()
	store.insertErr = func([]*models.BankTransaction) error {
		// the reconciler fails the sync while the first page is written
		syncJobs.mu.Lock()
		syncJobs.jobs["sync-1"].Status = models.SyncFailed
		syncJobs.mu.Unlock()
		return nil
	}

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	assert.ErrorIs(t, err, syncerr.ErrCancelled)
	require.NotNil(t, result)
	assert.Equal(t, models.BatchCancelled, result.Status)
	assert.Len(t, h.api.params, 1)
}

func TestImport_ProviderFailureFailsBatch(t *testing.T) {
	h := newImportHarness(2)
	h.api.bankTransactions = [][]xero.BankTransaction{
		{bankTx("bt-1", "A", 10), bankTx("bt-2", "B", 20)},
	}
	h.api.failPage = map[int]error{2: syncerr.Transient("list bank transactions", errors.New("502 bad gateway"))}
	store := newFakeRecordStore[*models.BankTransaction]()

	result, err := NewBankTransactionImporter(h.pipeline, h.api, store).Import(context.Background(), importPayload(t, models.EntityBankTransactions))
	require.Error(t, err)
	assert.True(t, syncerr.IsRetryable(err))
	assert.Equal(t, models.BatchFailed, result.Status)
	assert.Len(t, store.all(), 2)

	batch := h.batches.last()
	assert.Equal(t, models.BatchFailed, batch.Status)
	assert.Contains(t, batch.Summary.Data().FatalError, "502 bad gateway")
}

func TestImport_PayloadMismatch(t *testing.T) {
	h := newImportHarness(100)
	_, err := NewAccountImporter(h.pipeline, h.api, newFakeRecordStore[*models.LedgerAccount]()).Import(context.Background(), importPayload(t, models.EntityInvoices))
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestImport_IssueCap(t *testing.T) {
	h := newImportHarness(100)
	h.pipeline.cfg.MaxRecordedIssues = 2
	var page []xero.Contact
	for _, id := range []string{"c-1", "c-2", "c-3", "c-4"} {
		page = append(page, xero.Contact{ContactID: id, Name: "Contact " + id})
	}
	h.api.contacts = [][]xero.Contact{page}

	result, err := NewSupplierImporter(h.pipeline, h.api, newFakeRecordStore[*models.Supplier]()).Import(context.Background(), importPayload(t, models.EntitySuppliers))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Progress.WarningCount)

	summary := h.batches.last().Summary.Data()
	assert.Len(t, summary.Warnings, 2)
	assert.Equal(t, 2, summary.TruncatedIssues)
}

func TestInvoiceWhere(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "", invoiceWhere(nil, nil, nil))
	assert.Equal(t, `Type=="ACCPAY"`, invoiceWhere([]string{"ACCPAY"}, nil, nil))
	assert.Equal(t,
		`(Type=="ACCPAY" OR Type=="ACCREC") AND Date>=DateTime(2024,01,01) AND Date<=DateTime(2024,06,30)`,
		invoiceWhere([]string{"ACCPAY", "ACCREC"}, &from, &to))
}

func TestBatchTracker_FinalizeOnce(t *testing.T) {
	store := newFakeBatchStore()
	pub := &fakePublisher{}
	tracker := NewBatchTracker(store, pub, nil, logger.Discard())
	ctx := context.Background()

	batch, err := tracker.Create(ctx, testScope(), models.EntityAccounts, models.ProviderXero)
	require.NoError(t, err)
	assert.Equal(t, models.BatchProcessing, batch.Status)

	progress := models.BatchProgress{TotalRecords: 1, ProcessedRecords: 1, CreatedRecords: 1}
	require.NoError(t, tracker.Finalize(ctx, batch, models.BatchCompleted, progress, models.BatchSummary{Pages: 1}))
	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.NotNil(t, batch.CompletedAt)

	err = tracker.Finalize(ctx, batch, models.BatchFailed, progress, models.BatchSummary{})
	assert.ErrorIs(t, err, ErrBatchAlreadyFinalized)
	assert.Equal(t, models.BatchCompleted, store.last().Status)
	assert.Equal(t, 1, pub.count(events.ImportBatchFinalized))
}

func account(id, code, name string) xero.Account {
	return xero.Account{
		AccountID:      id,
		Code:           code,
		Name:           name,
		Type:           "EXPENSE",
		Class:          "EXPENSE",
		Status:         "ACTIVE",
		UpdatedDateUTC: xt("2024-01-10T08:00:00"),
	}
}

func contact(id, name string) xero.Contact {
	return xero.Contact{
		ContactID:      id,
		Name:           name,
		ContactStatus:  "ACTIVE",
		IsSupplier:     true,
		UpdatedDateUTC: xt("2024-01-10T08:00:00"),
	}
}

func TestAccountImporter_ReimportIsIdempotent(t *testing.T) {
	h := newImportHarness(100)
	h.api.accounts = [][]xero.Account{{
		account("acc-1", "200", "Sales"),
		account("", "400", "Advertising"),
		account("", "", "Rent"),
	}}
	// the third account has neither id nor code and is rejected both times
	store := newFakeRecordStore[*models.LedgerAccount]()
	importer := NewAccountImporter(h.pipeline, h.api, store)

	first, err := importer.Import(context.Background(), importPayload(t, models.EntityAccounts))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Progress.CreatedRecords)
	assert.Len(t, store.all(), 2)

	second, err := importer.Import(context.Background(), importPayload(t, models.EntityAccounts))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Progress.CreatedRecords)
	assert.Equal(t, 0, second.Progress.UpdatedRecords)
	assert.Equal(t, 2, second.Progress.DuplicateRecords)
	assert.Equal(t, 0, store.updates)
	assert.Len(t, store.all(), 2)
}

func TestSupplierImporter_ReimportIsIdempotent(t *testing.T) {
	h := newImportHarness(100)
	h.api.contacts = [][]xero.Contact{{
		contact("c-1", "Acme Ltd"),
		contact("", "Globex Corporation"),
	}}
	store := newFakeRecordStore[*models.Supplier]()
	importer := NewSupplierImporter(h.pipeline, h.api, store)

	first, err := importer.Import(context.Background(), importPayload(t, models.EntitySuppliers))
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, first.Status)
	assert.Equal(t, 2, first.Progress.CreatedRecords)

	second, err := importer.Import(context.Background(), importPayload(t, models.EntitySuppliers))
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, second.Status)
	assert.Equal(t, 0, second.Progress.CreatedRecords)
	assert.Equal(t, 0, second.Progress.UpdatedRecords)
	assert.Equal(t, 2, second.Progress.DuplicateRecords)
	assert.Equal(t, 0, store.updates)
	assert.Len(t, store.all(), 2)
}

func TestManualJournalImporter_ReimportIsIdempotent(t *testing.T) {
	h := newImportHarness(100)
	unidentified := journal("")
	unidentified.Narration = "Depreciation"
	h.api.manualJournals = [][]xero.ManualJournal{{journal("mj-1"), unidentified}}
	store := newFakeRecordStore[*models.ManualJournal]()
	importer := NewManualJournalImporter(h.pipeline, h.api, store)

	first, err := importer.Import(context.Background(), importPayload(t, models.EntityManualJournals))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Progress.CreatedRecords)

	second, err := importer.Import(context.Background(), importPayload(t, models.EntityManualJournals))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Progress.CreatedRecords)
	assert.Equal(t, 2, second.Progress.DuplicateRecords)
	assert.Equal(t, 2, second.Progress.ProcessedRecords)
	assert.Len(t, store.all(), 2)
}
