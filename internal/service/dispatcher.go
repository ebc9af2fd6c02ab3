package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/syncerr"
)

// Outcome recorded on an orchestrator queue job once its imports are enqueued.
const OutcomeEnqueued = "enqueued"

// Dispatcher routes a claimed queue job to the orchestrator or to the
// importer of its entity.
type Dispatcher struct {
	orchestrator *Orchestrator
	importers    map[models.EntityType]Importer
	log          logrus.FieldLogger
}

func NewDispatcher(orchestrator *Orchestrator, importers []Importer, log logrus.FieldLogger) *Dispatcher {
	byEntity := make(map[models.EntityType]Importer, len(importers))
	for _, imp := range importers {
		byEntity[imp.Entity()] = imp
	}
	return &Dispatcher{orchestrator: orchestrator, importers: byEntity, log: log}
}

// Handle runs the job and returns the outcome to store on its queue row. A
// cancelled import is an outcome, not an error.
func (d *Dispatcher) Handle(ctx context.Context, job *models.QueueJob) (string, error) {
	payload := job.Payload.Data()
	if err := payload.Validate(); err != nil {
		return "", syncerr.Validation("dispatch", err)
	}

	if payload.Kind == models.JobKindSync {
		if err := d.orchestrator.RunSyncJob(ctx, payload); err != nil {
			return "", err
		}
		return OutcomeEnqueued, nil
	}

	entity, _ := payload.Entity()
	importer, ok := d.importers[entity]
	if !ok {
		return "", syncerr.Validation("dispatch", fmt.Errorf("%w: no importer for %s", ErrUnknownJob, entity))
	}

	result, err := importer.Import(ctx, payload)
	if errors.Is(err, syncerr.ErrCancelled) {
		return string(models.BatchCancelled), nil
	}
	if err != nil {
		return "", err
	}
	return string(result.Status), nil
}

// Finished is called once a queue job reached a terminal status. Import
// jobs give the orchestrator its chance to roll the sync up, a failed
// orchestrator job fails the sync it never started.
func (d *Dispatcher) Finished(ctx context.Context, job *models.QueueJob) {
	if job.Queue == models.QueueOrchestrator {
		if err := d.orchestrator.OnOrchestratorJobFinished(ctx, job); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"sync_job_id":  job.SyncJobID,
				"queue_job_id": job.ID,
			}).Error("Failed to end sync job after orchestrator failure")
		}
		return
	}
	if err := d.orchestrator.OnImportJobFinished(ctx, job.SyncJobID); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"sync_job_id":  job.SyncJobID,
			"queue_job_id": job.ID,
		}).Error("Failed to roll up sync job")
	}
}
