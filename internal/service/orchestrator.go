package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/events"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
)

// stalledBatchSize bounds how many stalled sync jobs one reconcile pass fails
const stalledBatchSize = 100

// HealthChecker reports on an integration's tokens
type HealthChecker interface {
	CheckHealth(integration *models.Integration) TokenHealth
}

type TriggerRequest struct {
	IntegrationID string
	TenantID      string
	UserID        string
	JobType       models.SyncJobType
	Options       models.SyncOptions
}

type TriggerResult struct {
	SyncJob *models.SyncJob `json:"syncJob"`
	// JobID is the orchestrator queue job that will fan the sync out.
	JobID string `json:"jobId"`
}

type SyncStatusView struct {
	SyncJob *models.SyncJob      `json:"syncJob"`
	Batches []models.ImportBatch `json:"batches"`
}

type ReconcileResult struct {
	SyncJobs   int       `json:"syncJobs"`
	QueueJobs  int       `json:"queueJobs"`
	Batches    int64     `json:"batches"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Orchestrator is the only writer of sync job status. It validates sync
// requests, fans a started sync out into one import job per entity and rolls
// the sync up once every import job has ended.
type Orchestrator struct {
	cfg          *config.Config
	integrations IntegrationStore
	syncJobs     SyncJobStore
	queueJobs    QueueJobStore
	batches      BatchStore
	health       HealthChecker
	publisher    events.Publisher
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewOrchestrator(
	cfg *config.Config,
	integrations IntegrationStore,
	syncJobs SyncJobStore,
	queueJobs QueueJobStore,
	batches BatchStore,
	health HealthChecker,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		integrations: integrations,
		syncJobs:     syncJobs,
		queueJobs:    queueJobs,
		batches:      batches,
		health:       health,
		publisher:    publisher,
		metrics:      m,
		log:          log,
		now:          time.Now,
	}
}

// TriggerSync records a pending sync job and its orchestrator queue job.
// Conflicts are rejected here, never queued.
func (o *Orchestrator) TriggerSync(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if !req.JobType.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidScope, req.JobType)
	}
	entities, err := resolveEntities(req.Options.Entities)
	if err != nil {
		return nil, err
	}
	opts := req.Options
	opts.Entities = entities
	if opts.DateFrom != nil && opts.DateTo != nil && opts.DateTo.Before(*opts.DateFrom) {
		return nil, fmt.Errorf("%w: date range ends before it starts", ErrInvalidScope)
	}
	for _, t := range opts.InvoiceTypes {
		if t != models.InvoiceTypeAccPay && t != models.InvoiceTypeAccRec {
			return nil, fmt.Errorf("%w: unknown invoice type %q", ErrInvalidScope, t)
		}
	}

	// Fetch integration and check it can sync
	integration, err := o.integrations.GetForTenant(ctx, req.TenantID, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	// Reauth first: the refresh ceiling also moves the integration to error
	if o.health.CheckHealth(integration).NeedsReauth {
		return nil, ErrInvalidAuth
	}
	if integration.Status != models.IntegrationActive {
		return nil, fmt.Errorf("%w: status is %s", ErrIntegrationInactive, integration.Status)
	}

	now := o.now()
	job := &models.SyncJob{
		ID:            uuid.New().String(),
		IntegrationID: integration.ID,
		TenantID:      integration.TenantID,
		UserID:        req.UserID,
		JobType:       req.JobType,
		Priority:      req.JobType.PriorityBonus(),
		Status:        models.SyncPending,
		Options:       datatypes.NewJSONType(opts),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	queueCfg := o.cfg.Queue(models.QueueOrchestrator)
	queueJob := &models.QueueJob{
		ID:            uuid.New().String(),
		Queue:         models.QueueOrchestrator,
		Priority:      job.Priority,
		Status:        models.QueuePending,
		MaxAttempts:   queueCfg.MaxAttempts,
		NextRunAt:     now,
		SyncJobID:     job.ID,
		IntegrationID: job.IntegrationID,
		TenantID:      job.TenantID,
		Payload:       datatypes.NewJSONType(models.NewSyncPayload(job.ID)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The partial unique index rejects a second active sync per integration
	if err := o.syncJobs.CreateWithQueueJob(ctx, job, queueJob); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"sync_job_id":    job.ID,
		"integration_id": job.IntegrationID,
		"job_type":       job.JobType,
		"entities":       entities,
	}).Info("Sync triggered")

	o.publish(ctx, events.SyncTriggered, job, map[string]interface{}{
		"jobType":  job.JobType,
		"entities": entities,
	})

	return &TriggerResult{SyncJob: job, JobID: queueJob.ID}, nil
}

// resolveEntities expands an empty scope to every entity and orders the
// scope by import priority.
func resolveEntities(requested []models.EntityType) ([]models.EntityType, error) {
	if len(requested) == 0 {
		return append([]models.EntityType(nil), models.AllEntities...), nil
	}

	seen := make(map[models.EntityType]bool)
	var out []models.EntityType
	for _, e := range requested {
		if !e.Valid() {
			return nil, fmt.Errorf("%w: unknown entity %q", ErrInvalidScope, e)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out, nil
}

// RunSyncJob handles the orchestrator queue job: it moves the sync to running
// and enqueues one import job per entity. It returns once the jobs are
// enqueued; the imports run independently.
func (o *Orchestrator) RunSyncJob(ctx context.Context, payload models.JobPayload) error {
	if payload.Sync == nil {
		return fmt.Errorf("%w: expected sync payload, got %s", ErrUnknownJob, payload.Kind)
	}

	job, err := o.syncJobs.GetByID(ctx, payload.Sync.SyncJobID)
	if err != nil {
		return err
	}
	log := o.log.WithFields(logrus.Fields{
		"sync_job_id":    job.ID,
		"integration_id": job.IntegrationID,
	})

	if job.Status != models.SyncPending {
		log.WithField("status", job.Status).Info("Sync job no longer pending, skipping fan-out")
		return nil
	}

	integration, err := o.integrations.GetByID(ctx, job.IntegrationID)
	if err != nil {
		return err
	}
	if integration.Status != models.IntegrationActive || o.health.CheckHealth(integration).NeedsReauth {
		reason := fmt.Sprintf("integration cannot sync (status %s)", integration.Status)
		if integration.Status == models.IntegrationActive {
			reason = ErrInvalidAuth.Error()
		}
		o.finish(ctx, job, models.SyncFailed, &reason)
		return nil
	}

	opts := job.Options.Data()
	scope := models.ImportScope{
		SyncJobID:     job.ID,
		IntegrationID: job.IntegrationID,
		TenantID:      job.TenantID,
		JobType:       job.JobType,
		ModifiedSince: watermark(job.JobType, opts, integration),
	}

	entities, err := resolveEntities(opts.Entities)
	if err != nil {
		return err
	}

	now := o.now()
	importJobs := make([]models.QueueJob, 0, len(entities))
	for _, entity := range entities {
		p, err := models.NewImportPayload(entity, scope, opts)
		if err != nil {
			return err
		}
		queueCfg := o.cfg.Queue(entity.Queue())
		importJobs = append(importJobs, models.QueueJob{
			ID:            uuid.New().String(),
			Queue:         entity.Queue(),
			Priority:      entity.Priority() + job.JobType.PriorityBonus(),
			Status:        models.QueuePending,
			MaxAttempts:   queueCfg.MaxAttempts,
			NextRunAt:     now,
			SyncJobID:     job.ID,
			IntegrationID: job.IntegrationID,
			TenantID:      job.TenantID,
			Payload:       datatypes.NewJSONType(p),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	started, err := o.syncJobs.Start(ctx, job.ID, importJobs)
	if err != nil {
		return err
	}
	if !started {
		log.Info("Sync job was cancelled before fan-out")
		return nil
	}

	log.WithFields(logrus.Fields{
		"entities":       entities,
		"modified_since": scope.ModifiedSince,
	}).Info("Sync started, import jobs enqueued")

	job.Status = models.SyncRunning
	o.publish(ctx, events.SyncStarted, job, map[string]interface{}{
		"entities":      entities,
		"modifiedSince": scope.ModifiedSince,
	})
	return nil
}

// watermark picks the modifiedSince cursor. An explicit option always wins;
// incremental and webhook syncs fall back to the last successful sync.
func watermark(jobType models.SyncJobType, opts models.SyncOptions, integration *models.Integration) *time.Time {
	if opts.ModifiedSince != nil {
		return opts.ModifiedSince
	}
	switch jobType {
	case models.SyncJobIncremental, models.SyncJobWebhook:
		return integration.LastSyncAt
	}
	return nil
}

// OnOrchestratorJobFinished fails a sync job whose orchestrator job ended
// without fanning it out. Left pending, it would block every later sync of
// the integration.
func (o *Orchestrator) OnOrchestratorJobFinished(ctx context.Context, queueJob *models.QueueJob) error {
	if queueJob.Status == models.QueueCompleted {
		return nil
	}
	job, err := o.syncJobs.GetByID(ctx, queueJob.SyncJobID)
	if err != nil {
		return err
	}
	if job.Status != models.SyncPending {
		return nil
	}

	reason := "orchestrator job failed"
	if queueJob.LastError != nil && *queueJob.LastError != "" {
		reason = fmt.Sprintf("%s: %s", reason, *queueJob.LastError)
	}
	o.finish(ctx, job, models.SyncFailed, &reason)
	return nil
}

// OnImportJobFinished rolls the sync job up once all of its import jobs
// have ended. Calls before that, or after the sync ended, do nothing.
func (o *Orchestrator) OnImportJobFinished(ctx context.Context, syncJobID string) error {
	job, err := o.syncJobs.GetByID(ctx, syncJobID)
	if err != nil {
		return err
	}
	if job.Status != models.SyncRunning {
		return nil
	}

	queueJobs, err := o.queueJobs.ListBySyncJob(ctx, syncJobID)
	if err != nil {
		return err
	}

	var imports []models.QueueJob
	for _, qj := range queueJobs {
		if qj.Queue == models.QueueOrchestrator {
			continue
		}
		if !qj.Status.IsTerminal() {
			return nil
		}
		imports = append(imports, qj)
	}

	status, errMsg := rollup(imports)
	o.finish(ctx, job, status, errMsg)
	return nil
}

// rollup derives the sync status from its import jobs: all completed is
// completed, all failed is failed, anything else completed_with_errors.
func rollup(imports []models.QueueJob) (models.SyncStatus, *string) {
	if len(imports) == 0 {
		return models.SyncCompleted, nil
	}

	completed, failed := 0, 0
	var failures []string
	for _, qj := range imports {
		outcome := ""
		if qj.Outcome != nil {
			outcome = *qj.Outcome
		}
		switch {
		case qj.Status == models.QueueCompleted && outcome == string(models.BatchCompleted):
			completed++
		case qj.Status == models.QueueFailed || outcome == string(models.BatchFailed):
			failed++
			if qj.LastError != nil {
				entity, _ := qj.Payload.Data().Entity()
				failures = append(failures, fmt.Sprintf("%s: %s", entity, *qj.LastError))
			}
		}
	}

	var errMsg *string
	if len(failures) > 0 {
		msg := strings.Join(failures, "; ")
		errMsg = &msg
	}

	switch {
	case completed == len(imports):
		return models.SyncCompleted, nil
	case failed == len(imports):
		return models.SyncFailed, errMsg
	default:
		return models.SyncCompletedWithErrors, errMsg
	}
}

func (o *Orchestrator) finish(ctx context.Context, job *models.SyncJob, status models.SyncStatus, errMsg *string) {
	log := o.log.WithFields(logrus.Fields{
		"sync_job_id":    job.ID,
		"integration_id": job.IntegrationID,
		"status":         status,
	})

	ok, err := o.syncJobs.Finish(ctx, job.ID, status, errMsg)
	if err != nil {
		log.WithError(err).Error("Failed to finish sync job")
		return
	}
	if !ok {
		log.Info("Sync job already ended, keeping its status")
		return
	}

	o.metrics.RecordSyncJob(string(status))
	job.Status = status
	job.Error = errMsg

	switch status {
	case models.SyncFailed:
		reason := "sync failed"
		if errMsg != nil {
			reason = *errMsg
		}
		if err := o.integrations.RecordSyncError(ctx, job.IntegrationID, reason); err != nil {
			log.WithError(err).Warn("Failed to record sync error on integration")
		}
	default:
		// Next incremental sync picks up changes made while this one ran
		syncedAt := job.CreatedAt
		if job.StartedAt != nil {
			syncedAt = *job.StartedAt
		}
		if err := o.integrations.MarkSynced(ctx, job.IntegrationID, syncedAt); err != nil {
			log.WithError(err).Warn("Failed to stamp integration sync watermark")
		}
	}

	log.Info("Sync job finished")
	data := map[string]interface{}{"status": status}
	if errMsg != nil {
		data["error"] = *errMsg
	}
	o.publish(ctx, events.SyncCompleted, job, data)
}

// CancelSync cancels an active sync job. Import jobs that have not started
// are cancelled with it; running ones stop at their next page boundary.
func (o *Orchestrator) CancelSync(ctx context.Context, tenantID, syncJobID string) (*models.SyncJob, error) {
	job, err := o.syncJobs.GetForTenant(ctx, tenantID, syncJobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, ErrSyncNotActive
	}

	ok, err := o.syncJobs.Cancel(ctx, syncJobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return job, ErrSyncNotActive
	}

	o.metrics.RecordSyncJob(string(models.SyncCancelled))
	o.log.WithFields(logrus.Fields{
		"sync_job_id":    job.ID,
		"integration_id": job.IntegrationID,
	}).Info("Sync cancelled")

	job.Status = models.SyncCancelled
	o.publish(ctx, events.SyncCancelled, job, nil)
	return job, nil
}

func (o *Orchestrator) GetSyncStatus(ctx context.Context, tenantID, syncJobID string) (*SyncStatusView, error) {
	job, err := o.syncJobs.GetForTenant(ctx, tenantID, syncJobID)
	if err != nil {
		return nil, err
	}
	batches, err := o.batches.ListBySyncJob(ctx, syncJobID)
	if err != nil {
		return nil, err
	}
	return &SyncStatusView{SyncJob: job, Batches: batches}, nil
}

func (o *Orchestrator) IntegrationHealth(ctx context.Context, tenantID, integrationID string) (TokenHealth, error) {
	integration, err := o.integrations.GetForTenant(ctx, tenantID, integrationID)
	if err != nil {
		return TokenHealth{}, err
	}
	return o.health.CheckHealth(integration), nil
}

// ReconcileStalled fails work that outlived the sync job timeout: sync jobs
// still active, queue jobs still locked and batches still processing.
func (o *Orchestrator) ReconcileStalled(ctx context.Context) (ReconcileResult, error) {
	cutoff := o.now().Add(-o.cfg.Sync.JobTimeout)
	reason := fmt.Sprintf("stalled: exceeded %s job timeout", o.cfg.Sync.JobTimeout)
	var result ReconcileResult

	stalled, err := o.syncJobs.ListStalled(ctx, cutoff, stalledBatchSize)
	if err != nil {
		return result, err
	}
	for i := range stalled {
		job := &stalled[i]
		if err := o.queueJobs.CancelPending(ctx, job.ID, reason); err != nil {
			o.log.WithError(err).WithField("sync_job_id", job.ID).Warn("Failed to cancel queue jobs of stalled sync")
		}
		msg := reason
		o.finish(ctx, job, models.SyncFailed, &msg)
		result.SyncJobs++
	}

	failedJobs, err := o.queueJobs.FailStalled(ctx, cutoff, reason)
	if err != nil {
		return result, err
	}
	result.QueueJobs = len(failedJobs)

	rolled := make(map[string]bool)
	for _, qj := range failedJobs {
		if qj.Queue == models.QueueOrchestrator || rolled[qj.SyncJobID] {
			continue
		}
		rolled[qj.SyncJobID] = true
		if err := o.OnImportJobFinished(ctx, qj.SyncJobID); err != nil {
			o.log.WithError(err).WithField("sync_job_id", qj.SyncJobID).Warn("Failed to roll up sync after failing stalled jobs")
		}
	}

	result.Batches, err = o.batches.FailStalled(ctx, cutoff, reason)
	if err != nil {
		return result, err
	}

	result.FinishedAt = o.now()
	if result.SyncJobs > 0 || result.QueueJobs > 0 || result.Batches > 0 {
		o.log.WithFields(logrus.Fields{
			"sync_jobs":  result.SyncJobs,
			"queue_jobs": result.QueueJobs,
			"batches":    result.Batches,
		}).Warn("Reconciled stalled work")
	}
	return result, nil
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, job *models.SyncJob, extra map[string]interface{}) {
	data := map[string]interface{}{
		"syncJobId":     job.ID,
		"integrationId": job.IntegrationID,
		"tenantId":      job.TenantID,
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := o.publisher.Publish(ctx, eventType, job.IntegrationID, data); err != nil {
		o.log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish event")
	}
}
