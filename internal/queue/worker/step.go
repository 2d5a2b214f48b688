package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/job"
)

const (
	resultDone   = "done"
	resultRetry  = "retry"
	resultFailed = "failed"
)

// ProcessOne claims and executes at most one job. processed is false when
// nothing was ready.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := w.now()
	execErr := w.execute(ctx, j)
	elapsed := w.now().Sub(start)

	log := w.log.With("job_id", j.ID, "job_type", j.Type, "attempt", j.Attempts+1)

	if execErr == nil {
		if err := w.repo.MarkDone(ctx, j.ID); err != nil {
			_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
			w.prom.ObserveJob(j.Type, resultFailed, elapsed)
			return true, err
		}

		w.prom.ObserveJob(j.Type, resultDone, elapsed)
		log.Info("job.done", "duration_ms", elapsed.Milliseconds())
		return true, nil
	}

	return true, w.handleFailure(ctx, j, execErr, elapsed, log)
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	h, ok := w.handlers[j.Type]
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrNoHandler, j.Type))
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	return h(runCtx, j)
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error, elapsed time.Duration, log *slog.Logger) error {
	msg := execErr.Error()

	// Attempts counts finished tries; this one is Attempts+1
	if IsPermanent(execErr) || j.Attempts+1 >= j.MaxAttempts {
		w.prom.ObserveJob(j.Type, resultFailed, elapsed)
		log.Error("job.failed", "err", msg, "permanent", IsPermanent(execErr))
		return w.repo.MarkFailed(ctx, j.ID, msg)
	}

	runAt := w.now().Add(w.backoff(j.Attempts))

	w.prom.ObserveJob(j.Type, resultRetry, elapsed)
	log.Warn("job.retry_scheduled", "err", msg, "run_at", runAt)

	return w.repo.Reschedule(ctx, j.ID, runAt, msg)
}
