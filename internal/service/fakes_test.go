package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/provider"
	"github.com/vipul43/ledgersync/internal/repository"
	"github.com/vipul43/ledgersync/internal/xero"
)

func strPtr(s string) *string       { return &s }
func f64Ptr(v float64) *float64     { return &v }
func timePtr(t time.Time) *time.Time { return &t }

// fakeIntegrationStore mirrors the guarded updates of the integration
// repository in memory.
type fakeIntegrationStore struct {
	mu           sync.Mutex
	integrations map[string]*models.Integration
	updateErr    error
	synced       map[string]time.Time
	syncErrors   map[string]string
}

func newFakeIntegrationStore(integrations ...*models.Integration) *fakeIntegrationStore {
	s := &fakeIntegrationStore{
		integrations: make(map[string]*models.Integration),
		synced:       make(map[string]time.Time),
		syncErrors:   make(map[string]string),
	}
	for _, i := range integrations {
		s.integrations[i.ID] = i
	}
	return s
}

func (s *fakeIntegrationStore) get(id string) *models.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.integrations[id]
	return &c
}

func (s *fakeIntegrationStore) GetByID(_ context.Context, id string) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.integrations[id]
	if !ok {
		return nil, repository.ErrIntegrationNotFound
	}
	c := *i
	return &c, nil
}

func (s *fakeIntegrationStore) GetForTenant(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	i, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if i.TenantID != tenantID {
		return nil, repository.ErrIntegrationNotFound
	}
	return i, nil
}

func (s *fakeIntegrationStore) UpdateTokens(_ context.Context, id string, auth models.AuthPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	i := s.integrations[id]
	i.AccessToken = strPtr(auth.AccessToken)
	i.RefreshToken = strPtr(auth.RefreshToken)
	i.TokenExpiresAt = timePtr(auth.ExpiresAt)
	i.ConsecutiveRefreshFailures = 0
	i.Health = models.HealthHealthy
	if i.Status == models.IntegrationError {
		i.Status = models.IntegrationActive
	}
	return nil
}

func (s *fakeIntegrationStore) RecordRefreshFailure(_ context.Context, id, reason string, ceiling int, needsReauth bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.integrations[id]
	i.ConsecutiveRefreshFailures++
	i.LastError = strPtr(reason)
	switch {
	case needsReauth:
		i.Status = models.IntegrationSetupPending
		i.Health = models.HealthError
	case i.ConsecutiveRefreshFailures >= ceiling:
		i.Status = models.IntegrationError
		i.Health = models.HealthError
	default:
		i.Health = models.HealthWarning
	}
	return i.ConsecutiveRefreshFailures, nil
}

func (s *fakeIntegrationStore) MarkSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[id] = at
	s.integrations[id].LastSyncAt = &at
	return nil
}

func (s *fakeIntegrationStore) RecordSyncError(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErrors[id] = reason
	return nil
}

type fakeRefresher struct {
	calls int32
	delay time.Duration
	set   *xero.TokenSet
	err   error
}

func (f *fakeRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (*xero.TokenSet, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	set := *f.set
	return &set, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *fakePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakeCreds struct{}

func (fakeCreds) Credentials(context.Context, string, bool) (provider.Credentials, error) {
	return provider.Credentials{AccessToken: "access", ProviderTenantID: "xero-tenant"}, nil
}

// fakeRecordStore enforces the (tenant, external id) and (tenant, dedup key)
// uniqueness of the entity tables; conflicting inserts are skipped.
type fakeRecordStore[T models.Record] struct {
	mu        sync.Mutex
	rows      []T
	insertErr func(rows []T) error
	inserts   int
	updates   int
}

func newFakeRecordStore[T models.Record](rows ...T) *fakeRecordStore[T] {
	return &fakeRecordStore[T]{rows: rows}
}

func (s *fakeRecordStore[T]) FindExisting(_ context.Context, tenantID string, externalIDs, dedupKeys []string) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ext := make(map[string]bool)
	for _, id := range externalIDs {
		ext[id] = true
	}
	keys := make(map[string]bool)
	for _, k := range dedupKeys {
		keys[k] = true
	}

	var out []T
	for _, r := range s.rows {
		m := r.Meta()
		if m.TenantID != tenantID {
			continue
		}
		if (m.ExternalID != nil && ext[*m.ExternalID]) || keys[m.DedupKey] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRecordStore[T]) InsertBatch(_ context.Context, rows []T) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		if err := s.insertErr(rows); err != nil {
			return 0, err
		}
	}

	var n int64
	for _, r := range rows {
		if s.conflicts(r.Meta()) {
			continue
		}
		s.rows = append(s.rows, r)
		n++
	}
	return n, nil
}

func (s *fakeRecordStore[T]) conflicts(m *models.RecordMeta) bool {
	for _, r := range s.rows {
		e := r.Meta()
		if e.TenantID != m.TenantID {
			continue
		}
		if e.DedupKey == m.DedupKey {
			return true
		}
		if e.ExternalID != nil && m.ExternalID != nil && *e.ExternalID == *m.ExternalID {
			return true
		}
	}
	return false
}

func (s *fakeRecordStore[T]) UpdateBatch(_ context.Context, rows []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	for _, row := range rows {
		for i, r := range s.rows {
			if r.Meta().ID == row.Meta().ID {
				s.rows[i] = row
			}
		}
	}
	return nil
}

func (s *fakeRecordStore[T]) all() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.rows...)
}

type fakeInvoiceStore struct {
	*fakeRecordStore[*models.Invoice]
}

func (s *fakeInvoiceStore) FindByNumbers(_ context.Context, tenantID string, numbers []string) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool)
	for _, n := range numbers {
		want[n] = true
	}
	var out []*models.Invoice
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.InvoiceNumber != nil && want[*r.InvoiceNumber] {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeLookupStore struct {
	accounts  []models.AccountRef
	suppliers []models.SupplierRef
	err       error
}

func (s *fakeLookupStore) ListAccountRefs(context.Context, string, string) ([]models.AccountRef, error) {
	return s.accounts, s.err
}

func (s *fakeLookupStore) ListSupplierRefs(context.Context, string, string) ([]models.SupplierRef, error) {
	return s.suppliers, s.err
}

// fakeChecker reports the sync ended from the cancelAt-th check on.
// Zero never cancels.
type fakeChecker struct {
	mu       sync.Mutex
	checks   int
	cancelAt int
}

func (c *fakeChecker) HasEnded(context.Context, string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	return c.cancelAt > 0 && c.checks >= c.cancelAt, nil
}

type fakeBatchStore struct {
	mu        sync.Mutex
	batches   map[string]*models.ImportBatch
	order     []string
	progress  int
	finalized int
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{batches: make(map[string]*models.ImportBatch)}
}

func (s *fakeBatchStore) Create(_ context.Context, batch *models.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *batch
	s.batches[batch.ID] = &c
	s.order = append(s.order, batch.ID)
	return nil
}

func (s *fakeBatchStore) UpdateProgress(_ context.Context, id string, p models.BatchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress++
	applyProgress(s.batches[id], p)
	return nil
}

func (s *fakeBatchStore) Finalize(_ context.Context, id string, status models.BatchStatus, p models.BatchProgress, summary models.BatchSummary) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	if b.Status != models.BatchProcessing {
		return false, nil
	}
	s.finalized++
	b.Status = status
	applyProgress(b, p)
	b.Summary = datatypes.NewJSONType(summary)
	return true, nil
}

func (s *fakeBatchStore) ListBySyncJob(_ context.Context, syncJobID string) ([]models.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ImportBatch
	for _, id := range s.order {
		if b := s.batches[id]; b.SyncJobID == syncJobID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *fakeBatchStore) FailStalled(_ context.Context, before time.Time, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.batches {
		if b.Status == models.BatchProcessing && b.StartedAt.Before(before) {
			b.Status = models.BatchFailed
			n++
		}
	}
	return n, nil
}

func (s *fakeBatchStore) last() *models.ImportBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.batches[s.order[len(s.order)-1]]
	return &c
}

type fakeQueueJobStore struct {
	mu   sync.Mutex
	jobs []models.QueueJob
}

func (s *fakeQueueJobStore) add(jobs ...models.QueueJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
}

func (s *fakeQueueJobStore) ListBySyncJob(_ context.Context, syncJobID string) ([]models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueJob
	for _, j := range s.jobs {
		if j.SyncJobID == syncJobID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeQueueJobStore) CancelPending(_ context.Context, syncJobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].SyncJobID == syncJobID && s.jobs[i].Status == models.QueuePending {
			s.jobs[i].Status = models.QueueCancelled
			s.jobs[i].LastError = strPtr(reason)
		}
	}
	return nil
}

func (s *fakeQueueJobStore) FailStalled(_ context.Context, before time.Time, reason string) ([]models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueJob
	for i := range s.jobs {
		j := &s.jobs[i]
		if j.Status == models.QueueRunning && j.LockedAt != nil && j.LockedAt.Before(before) {
			j.Status = models.QueueFailed
			j.LastError = strPtr(reason)
			out = append(out, *j)
		}
	}
	return out, nil
}

// finish ends every job of the sync on queue with the given status and
// outcome.
func (s *fakeQueueJobStore) finish(queue string, status models.QueueJobStatus, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].Queue == queue {
			s.jobs[i].Status = status
			if outcome != "" {
				s.jobs[i].Outcome = strPtr(outcome)
			}
			if status == models.QueueFailed {
				s.jobs[i].LastError = strPtr("provider unavailable")
			}
		}
	}
}

func (s *fakeQueueJobStore) byQueue(queue string) []models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueJob
	for _, j := range s.jobs {
		if j.Queue == queue {
			out = append(out, j)
		}
	}
	return out
}

// fakeSyncJobStore rejects a second active sync per integration, like the
// partial unique index does.
type fakeSyncJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.SyncJob
	queue *fakeQueueJobStore
}

func newFakeSyncJobStore(queue *fakeQueueJobStore) *fakeSyncJobStore {
	return &fakeSyncJobStore{jobs: make(map[string]*models.SyncJob), queue: queue}
}

func (s *fakeSyncJobStore) CreateWithQueueJob(_ context.Context, job *models.SyncJob, queueJob *models.QueueJob) error {
	if err := queueJob.Payload.Data().Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.IntegrationID == job.IntegrationID && !j.Status.IsTerminal() {
			return repository.ErrActiveSyncExists
		}
	}
	c := *job
	s.jobs[job.ID] = &c
	s.queue.add(*queueJob)
	return nil
}

func (s *fakeSyncJobStore) GetByID(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrSyncJobNotFound
	}
	c := *j
	return &c, nil
}

func (s *fakeSyncJobStore) GetForTenant(ctx context.Context, tenantID, id string) (*models.SyncJob, error) {
	j, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.TenantID != tenantID {
		return nil, repository.ErrSyncJobNotFound
	}
	return j, nil
}

func (s *fakeSyncJobStore) Start(_ context.Context, id string, importJobs []models.QueueJob) (bool, error) {
	for _, qj := range importJobs {
		if err := qj.Payload.Data().Validate(); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Status != models.SyncPending {
		return false, nil
	}
	now := time.Now()
	j.Status = models.SyncRunning
	j.StartedAt = &now
	j.EntitiesQueued = len(importJobs)
	s.queue.add(importJobs...)
	return true, nil
}

func (s *fakeSyncJobStore) Finish(_ context.Context, id string, status models.SyncStatus, errMsg *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = status
	j.Error = errMsg
	return true, nil
}

func (s *fakeSyncJobStore) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	j := s.jobs[id]
	if j.Status.IsTerminal() {
		s.mu.Unlock()
		return false, nil
	}
	j.Status = models.SyncCancelled
	s.mu.Unlock()
	return true, s.queue.CancelPending(ctx, id, "sync cancelled")
}

func (s *fakeSyncJobStore) HasEnded(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status.IsTerminal(), nil
}

func (s *fakeSyncJobStore) ListStalled(_ context.Context, before time.Time, limit int) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncJob
	for _, j := range s.jobs {
		started := j.CreatedAt
		if j.StartedAt != nil {
			started = *j.StartedAt
		}
		if !j.Status.IsTerminal() && started.Before(before) && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeSyncJobStore) status(id string) models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

// fakeAPI serves fixed pages per entity; pages[n] is page n+1. A page past
// the end is empty.
type fakeAPI struct {
	mu               sync.Mutex
	accounts         [][]xero.Account
	contacts         [][]xero.Contact
	invoices         [][]xero.Invoice
	bankTransactions [][]xero.BankTransaction
	manualJournals   [][]xero.ManualJournal
	failPage         map[int]error
	params           []xero.ListParams
}

func pageAt[T any](pages [][]T, page int) []T {
	if page-1 < len(pages) {
		return pages[page-1]
	}
	return nil
}

func (a *fakeAPI) record(p xero.ListParams) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params = append(a.params, p)
	return a.failPage[p.Page]
}

func (a *fakeAPI) ListAccounts(_ context.Context, _, _ string, p xero.ListParams) ([]xero.Account, error) {
	if err := a.record(p); err != nil {
		return nil, err
	}
	return pageAt(a.accounts, p.Page), nil
}

func (a *fakeAPI) ListContacts(_ context.Context, _, _ string, p xero.ListParams) ([]xero.Contact, error) {
	if err := a.record(p); err != nil {
		return nil, err
	}
	return pageAt(a.contacts, p.Page), nil
}

func (a *fakeAPI) ListInvoices(_ context.Context, _, _ string, p xero.ListParams) ([]xero.Invoice, error) {
	if err := a.record(p); err != nil {
		return nil, err
	}
	return pageAt(a.invoices, p.Page), nil
}

func (a *fakeAPI) ListBankTransactions(_ context.Context, _, _ string, p xero.ListParams) ([]xero.BankTransaction, error) {
	if err := a.record(p); err != nil {
		return nil, err
	}
	return pageAt(a.bankTransactions, p.Page), nil
}

func (a *fakeAPI) ListManualJournals(_ context.Context, _, _ string, p xero.ListParams) ([]xero.ManualJournal, error) {
	if err := a.record(p); err != nil {
		return nil, err
	}
	return pageAt(a.manualJournals, p.Page), nil
}
