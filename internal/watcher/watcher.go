package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
	"github.com/vipul43/ledgersync/internal/service"
	"github.com/vipul43/ledgersync/internal/syncerr"
)

// maxBackoff caps the delay between attempts of one queue job
const maxBackoff = 5 * time.Minute

// JobQueue is the queue table as the workers use it
type JobQueue interface {
	ClaimNext(ctx context.Context, queue string) (*models.QueueJob, error)
	Complete(ctx context.Context, jobID, outcome string) error
	Fail(ctx context.Context, jobID, errMsg string) error
	Retry(ctx context.Context, jobID string, runAt time.Time, errMsg string) error
}

// Handler runs one claimed job. Finished is called after the job reached a
// terminal status.
type Handler interface {
	Handle(ctx context.Context, job *models.QueueJob) (string, error)
	Finished(ctx context.Context, job *models.QueueJob)
}

type Reconciler interface {
	ReconcileStalled(ctx context.Context) (service.ReconcileResult, error)
}

type Watcher struct {
	cfg        *config.Config
	queue      JobQueue
	handler    Handler
	reconciler Reconciler
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
}

func New(cfg *config.Config, queue JobQueue, handler Handler, reconciler Reconciler, m *metrics.Metrics, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		cfg:        cfg,
		queue:      queue,
		handler:    handler,
		reconciler: reconciler,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Start runs the configured number of workers per queue plus the stalled
// work reconciler until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.WithField("queues", len(w.cfg.Queues)).Info("Starting watcher")

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range w.cfg.Queues {
		q := q
		for i := 0; i < q.Concurrency; i++ {
			worker := i
			g.Go(func() error {
				return w.runWorker(gctx, q, worker)
			})
		}
	}
	g.Go(func() error {
		return w.runReconciler(gctx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	w.log.Info("Watcher shutting down...")
	return ctx.Err()
}

// runWorker drains every due job of the queue, then sleeps one poll interval.
func (w *Watcher) runWorker(ctx context.Context, q config.QueueConfig, worker int) error {
	log := w.log.WithFields(logrus.Fields{"queue": q.Name, "worker": worker})

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			processed, err := w.processNext(ctx, q)
			if err != nil {
				log.WithError(err).Error("Error processing queue")
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processNext claims and runs one job. It reports false when nothing was due.
func (w *Watcher) processNext(ctx context.Context, q config.QueueConfig) (bool, error) {
	job, err := w.queue.ClaimNext(ctx, q.Name)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.process(ctx, q, job)
	return true, nil
}

func (w *Watcher) process(ctx context.Context, q config.QueueConfig, job *models.QueueJob) {
	log := w.log.WithFields(logrus.Fields{
		"queue":        q.Name,
		"queue_job_id": job.ID,
		"sync_job_id":  job.SyncJobID,
		"attempt":      job.Attempts,
	})
	log.Info("Processing job")

	started := w.now()
	outcome, err := w.handler.Handle(ctx, job)

	// Acknowledge even when the worker is shutting down
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.MaxAttempts
	}

	switch {
	case err == nil:
		if err := w.queue.Complete(ackCtx, job.ID, outcome); err != nil {
			ackFailed(log, err, "Failed to mark job completed")
			return
		}
		job.Status = models.QueueCompleted
		job.Outcome = &outcome
		w.metrics.RecordQueueJob(q.Name, "completed")
		log.WithFields(logrus.Fields{
			"outcome": outcome,
			"took":    w.now().Sub(started).String(),
		}).Info("Job completed")
		w.handler.Finished(ackCtx, job)

	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		// Interrupted by shutdown, not by the job itself
		if err := w.queue.Retry(ackCtx, job.ID, w.now(), "worker shut down"); err != nil {
			ackFailed(log, err, "Failed to requeue interrupted job")
			return
		}
		w.metrics.RecordQueueJob(q.Name, "requeued")
		log.Warn("Job interrupted by shutdown, requeued")

	case syncerr.IsRetryable(err) && job.Attempts < maxAttempts:
		delay := backoff(q.BaseDelay, job.Attempts, syncerr.RetryAfter(err))
		if rerr := w.queue.Retry(ackCtx, job.ID, w.now().Add(delay), err.Error()); rerr != nil {
			ackFailed(log, rerr, "Failed to reschedule job")
			return
		}
		w.metrics.RecordQueueJob(q.Name, "retried")
		log.WithError(err).WithField("retry_in", delay.String()).Warn("Job failed, will retry")

	default:
		errMsg := err.Error()
		if ferr := w.queue.Fail(ackCtx, job.ID, errMsg); ferr != nil {
			ackFailed(log, ferr, "Failed to mark job failed")
			return
		}
		job.Status = models.QueueFailed
		job.LastError = &errMsg
		w.metrics.RecordQueueJob(q.Name, "failed")
		log.WithError(err).WithField("max_attempts", maxAttempts).Error("Job failed permanently")
		w.handler.Finished(ackCtx, job)
	}
}

// ackFailed logs a failed acknowledgement. A job the reconciler already
// ended keeps the status it was given there.
func ackFailed(log logrus.FieldLogger, err error, msg string) {
	if errors.Is(err, repository.ErrQueueJobNotRunning) {
		log.WithError(err).Warn("Job was ended elsewhere, dropping its result")
		return
	}
	log.WithError(err).Error(msg)
}

// backoff is base * 2^(attempt-1), capped at maxBackoff. A longer delay asked
// for by the provider wins.
func backoff(base time.Duration, attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// runReconciler fails stalled work once at startup and then on every tick.
func (w *Watcher) runReconciler(ctx context.Context) error {
	if w.reconciler == nil || w.cfg.Sync.ReconcileInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	w.reconcile(ctx)

	ticker := time.NewTicker(w.cfg.Sync.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	if _, err := w.reconciler.ReconcileStalled(ctx); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Error("Failed to reconcile stalled work")
	}
}
