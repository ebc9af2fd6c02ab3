package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/provider"
	"github.com/vipul43/ledgersync/internal/syncerr"
)

// ImportResult is what an importer reports back to the queue.
type ImportResult struct {
	BatchID  string
	Status   models.BatchStatus
	Progress models.BatchProgress
}

// CancellationChecker reports whether a sync job has ended (cancelled,
// failed or otherwise finished) so imports under it should stop
type CancellationChecker interface {
	HasEnded(ctx context.Context, syncJobID string) (bool, error)
}

// Pipeline is the import flow every entity importer runs: open a batch,
// build lookups, page through the provider, dedupe each page against stored
// rows, write in chunks, finalize the batch.
type Pipeline struct {
	cfg     config.ImportConfig
	client  *provider.Client
	lookups *LookupService
	batches *BatchTracker
	checker CancellationChecker
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	source string
	now    func() time.Time
}

func NewPipeline(cfg config.ImportConfig, client *provider.Client, lookups *LookupService, batches *BatchTracker, checker CancellationChecker, m *metrics.Metrics, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		client:  client,
		lookups: lookups,
		batches: batches,
		checker: checker,
		metrics: m,
		log:     log,
		source:  models.ProviderXero,
		now:     time.Now,
	}
}

type writeStrategy int

const (
	// createOnly never touches a stored row again
	createOnly writeStrategy = iota
	// upsert updates a stored row when the provider reports a change
	upsert
)

// entityImport describes one entity for runImport. R is the provider's
// record type and T the stored model.
type entityImport[R any, T models.Record] struct {
	entity   models.EntityType
	strategy writeStrategy
	fetch    provider.PageFetcher[R]
	remoteID func(R) string
	mapper   func(MapContext, R) (T, []models.RecordIssue, error)
	store    RecordStore[T]
	// changed decides whether a matched row is rewritten (upsert only)
	changed func(existing, incoming T) bool
	// secondary finds stored matches for records that matched neither by
	// external id nor dedup key. Keys of the result index into unmatched.
	secondary func(ctx context.Context, tenantID string, unmatched []T) (map[int]T, error)
}

func runImport[R any, T models.Record](ctx context.Context, p *Pipeline, scope models.ImportScope, def entityImport[R, T]) (*ImportResult, error) {
	log := p.log.WithFields(logrus.Fields{
		"sync_job_id":    scope.SyncJobID,
		"integration_id": scope.IntegrationID,
		"entity":         def.entity,
	})

	if ended, err := p.checker.HasEnded(ctx, scope.SyncJobID); err != nil {
		return nil, fmt.Errorf("failed to check cancellation: %w", err)
	} else if ended {
		log.Info("Sync job ended before import started")
		return nil, syncerr.ErrCancelled
	}

	batch, err := p.batches.Create(ctx, scope, def.entity, p.source)
	if err != nil {
		return nil, err
	}
	log = log.WithField("batch_id", batch.ID)
	log.Info("Import started")

	run := newImportRun(p.cfg.MaxRecordedIssues)

	lookups, err := p.lookups.BuildLookupMaps(ctx, scope.TenantID, p.source)
	if err != nil {
		return p.finish(ctx, log, batch, run, fmt.Errorf("failed to build lookup maps: %w", err))
	}

	mc := MapContext{
		TenantID:      scope.TenantID,
		IntegrationID: scope.IntegrationID,
		Provider:      p.source,
		BatchID:       batch.ID,
		Lookups:       lookups,
	}

	stats, err := provider.FetchPages(ctx, p.client, scope.IntegrationID, def.fetch, func(page int, items []R) error {
		run.progress.TotalRecords += len(items)
		if err := processPage(ctx, p, def, mc, run, items); err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}

		if err := p.batches.UpdateProgress(ctx, batch.ID, run.progress); err != nil {
			log.WithError(err).Warn("Failed to update batch progress")
		}

		ended, err := p.checker.HasEnded(ctx, scope.SyncJobID)
		if err != nil {
			return fmt.Errorf("failed to check cancellation: %w", err)
		}
		if ended {
			log.WithField("page", page).Info("Sync job ended, stopping import")
			return syncerr.ErrCancelled
		}
		return nil
	})
	run.summary.Pages = stats.Pages
	run.summary.ReachedMaxPages = stats.ReachedMaxPages

	return p.finish(ctx, log, batch, run, err)
}

// finish finalizes the batch whatever happened and hands err back so the
// queue can decide on a retry.
func (p *Pipeline) finish(ctx context.Context, log logrus.FieldLogger, batch *models.ImportBatch, run *importRun, err error) (*ImportResult, error) {
	var status models.BatchStatus
	switch {
	case errors.Is(err, syncerr.ErrCancelled):
		status = models.BatchCancelled
	case err != nil:
		status = models.BatchFailed
		run.summary.FatalError = err.Error()
	case run.progress.FailedRecords > 0:
		status = models.BatchCompletedWithErrors
	default:
		status = models.BatchCompleted
	}

	// Finalize even when the worker is shutting down
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ferr := p.batches.Finalize(finalizeCtx, batch, status, run.progress, run.summary); ferr != nil {
		log.WithError(ferr).Error("Failed to finalize import batch")
		if err == nil {
			err = ferr
		}
	}

	entity := string(batch.BatchType)
	p.metrics.RecordImported(entity, "created", run.progress.CreatedRecords)
	p.metrics.RecordImported(entity, "updated", run.progress.UpdatedRecords)
	p.metrics.RecordImported(entity, "duplicate", run.progress.DuplicateRecords)
	p.metrics.RecordImported(entity, "failed", run.progress.FailedRecords)

	if err != nil && status == models.BatchFailed {
		log.WithError(err).Error("Import failed")
	}

	return &ImportResult{BatchID: batch.ID, Status: status, Progress: run.progress}, err
}

func processPage[R any, T models.Record](ctx context.Context, p *Pipeline, def entityImport[R, T], mc MapContext, run *importRun, items []R) error {
	incoming := make([]T, 0, len(items))
	for _, item := range items {
		rec, issues, err := def.mapper(mc, item)
		if err != nil {
			run.fail(def.remoteID(item), err)
			continue
		}
		run.warn(issues)

		if run.seenBefore(rec.Meta()) {
			run.duplicate()
			continue
		}
		incoming = append(incoming, rec)
	}
	if len(incoming) == 0 {
		return nil
	}

	// Load only the stored rows this page could collide with
	externalIDs := make([]string, 0, len(incoming))
	dedupKeys := make([]string, 0, len(incoming))
	for _, rec := range incoming {
		m := rec.Meta()
		if m.ExternalID != nil {
			externalIDs = append(externalIDs, *m.ExternalID)
		}
		dedupKeys = append(dedupKeys, m.DedupKey)
	}

	existing, err := def.store.FindExisting(ctx, mc.TenantID, externalIDs, dedupKeys)
	if err != nil {
		return err
	}

	byExternalID := make(map[string]T, len(existing))
	byDedupKey := make(map[string]T, len(existing))
	for _, e := range existing {
		m := e.Meta()
		if m.ExternalID != nil {
			byExternalID[*m.ExternalID] = e
		}
		byDedupKey[m.DedupKey] = e
	}

	matches := make(map[int]T)
	var unmatched []int
	for i, rec := range incoming {
		m := rec.Meta()
		if m.ExternalID != nil {
			if e, ok := byExternalID[*m.ExternalID]; ok {
				matches[i] = e
				continue
			}
		}
		if e, ok := byDedupKey[m.DedupKey]; ok {
			matches[i] = e
			continue
		}
		unmatched = append(unmatched, i)
	}

	if def.strategy == upsert && def.secondary != nil && len(unmatched) > 0 {
		candidates := make([]T, len(unmatched))
		for j, i := range unmatched {
			candidates[j] = incoming[i]
		}
		found, err := def.secondary(ctx, mc.TenantID, candidates)
		if err != nil {
			return err
		}
		for j, e := range found {
			matches[unmatched[j]] = e
		}
	}

	now := p.now()
	var inserts, updates []T
	for i, rec := range incoming {
		m := rec.Meta()
		stored, ok := matches[i]
		if !ok {
			m.ID = uuid.New().String()
			m.CreatedAt = now
			m.UpdatedAt = now
			inserts = append(inserts, rec)
			continue
		}

		if def.strategy == createOnly || !def.changed(stored, rec) {
			run.duplicate()
			continue
		}

		sm := stored.Meta()
		m.ID = sm.ID
		m.CreatedAt = sm.CreatedAt
		m.UpdatedAt = now
		updates = append(updates, rec)
	}

	writeInserts(ctx, def.store, p.cfg.ChunkSize, run, inserts)
	writeUpdates(ctx, def.store, p.cfg.ChunkSize, run, updates)
	return nil
}

// writeInserts inserts in chunks. A chunk that fails is replayed row by row
// so one bad row costs only itself.
func writeInserts[T models.Record](ctx context.Context, store RecordStore[T], chunkSize int, run *importRun, rows []T) {
	for _, chunk := range chunks(rows, chunkSize) {
		inserted, err := store.InsertBatch(ctx, chunk)
		if err == nil {
			run.created(int(inserted))
			for i := int(inserted); i < len(chunk); i++ {
				run.duplicate()
			}
			continue
		}

		for _, row := range chunk {
			n, err := store.InsertBatch(ctx, []T{row})
			switch {
			case err != nil:
				run.fail(row.Meta().ExternalRef(), err)
			case n == 0:
				run.duplicate()
			default:
				run.created(1)
			}
		}
	}
}

func writeUpdates[T models.Record](ctx context.Context, store RecordStore[T], chunkSize int, run *importRun, rows []T) {
	for _, chunk := range chunks(rows, chunkSize) {
		if err := store.UpdateBatch(ctx, chunk); err == nil {
			run.updated(len(chunk))
			continue
		}

		for _, row := range chunk {
			if err := store.UpdateBatch(ctx, []T{row}); err != nil {
				run.fail(row.Meta().ExternalRef(), err)
				continue
			}
			run.updated(1)
		}
	}
}

func chunks[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// importRun is the tally of one importer invocation.
type importRun struct {
	progress  models.BatchProgress
	summary   models.BatchSummary
	maxIssues int
	seen      map[string]bool
}

func newImportRun(maxIssues int) *importRun {
	return &importRun{maxIssues: maxIssues, seen: make(map[string]bool)}
}

// seenBefore reports whether the provider already sent this record earlier
// in the run, e.g. when a record moved between pages.
func (r *importRun) seenBefore(m *models.RecordMeta) bool {
	key := "key:" + m.DedupKey
	if m.ExternalID != nil {
		key = "ext:" + *m.ExternalID
	}
	if r.seen[key] {
		return true
	}
	r.seen[key] = true
	return false
}

func (r *importRun) created(n int) {
	r.progress.CreatedRecords += n
	r.progress.ProcessedRecords += n
}

func (r *importRun) updated(n int) {
	r.progress.UpdatedRecords += n
	r.progress.ProcessedRecords += n
}

func (r *importRun) duplicate() {
	r.progress.DuplicateRecords++
	r.progress.ProcessedRecords++
}

func (r *importRun) fail(externalID string, err error) {
	r.progress.FailedRecords++
	r.progress.ProcessedRecords++
	r.record(&r.summary.Errors, models.RecordIssue{ExternalID: externalID, Message: err.Error()})
}

func (r *importRun) warn(issues []models.RecordIssue) {
	r.progress.WarningCount += len(issues)
	for _, issue := range issues {
		r.record(&r.summary.Warnings, issue)
	}
}

func (r *importRun) record(list *[]models.RecordIssue, issue models.RecordIssue) {
	if len(r.summary.Errors)+len(r.summary.Warnings) >= r.maxIssues {
		r.summary.TruncatedIssues++
		return
	}
	*list = append(*list, issue)
}
