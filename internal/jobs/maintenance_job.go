package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/queue"
	"github.com/maheshrc27/postscheduler/internal/repository"
	"github.com/rs/zerolog"
)

const (
	sweepLockKey = "maintenance-sweep"

	stuckMessage   = "execution timed out"
	pastDueMessage = "cancelled: scheduled time passed without execution"
)

var ErrSweepInProgress = errors.New("maintenance sweep already running")

const (
	PassStuckProcessing = "stuck_processing"
	PassPastDue         = "past_due"
	PassStrandedRetry   = "stranded_retry"
	PassRetentionPurge  = "retention_purge"
)

type SweepReport struct {
	StuckRequeued    int
	StuckFailed      int
	PastDueCancelled int
	StrandedRequeued int
	Purged           int64
	// Errors holds the failure of each pass that did not complete, keyed by pass name.
	Errors   map[string]error
	Duration time.Duration
}

// MaintenanceJob repairs records whose timers were lost. Every pass is idempotent.
type MaintenanceJob struct {
	cfg        config.Sweeper
	posts      repository.ScheduledPostRepository
	dispatcher queue.Dispatcher
	lock       RunLock
	running    atomic.Bool
	now        func() time.Time
	log        zerolog.Logger
}

func NewMaintenanceJob(
	cfg config.Sweeper,
	posts repository.ScheduledPostRepository,
	dispatcher queue.Dispatcher,
	lock RunLock,
	log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		cfg:        cfg,
		posts:      posts,
		dispatcher: dispatcher,
		lock:       lock,
		now:        time.Now,
		log:        log.With().Str("job", "maintenance").Logger(),
	}
}

// RunScheduled is the cron entry point.
func (j *MaintenanceJob) RunScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.LockTTL)
	defer cancel()

	report, err := j.Run(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		j.log.Info().Msg("sweep skipped, another run holds the lock")
		return
	}
	if err != nil {
		j.log.Error().Err(err).Msg("sweep did not start")
		return
	}

	ev := j.log.Info()
	if len(report.Errors) > 0 {
		ev = j.log.Error()
		for pass, err := range report.Errors {
			ev = ev.AnErr(pass, err)
		}
	}
	ev.Int("stuck_requeued", report.StuckRequeued).
		Int("stuck_failed", report.StuckFailed).
		Int("past_due_cancelled", report.PastDueCancelled).
		Int("stranded_requeued", report.StrandedRequeued).
		Int64("purged", report.Purged).
		Dur("duration", report.Duration).
		Msg("sweep finished")
}

func (j *MaintenanceJob) Run(ctx context.Context) (*SweepReport, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer j.running.Store(false)

	release, ok, err := j.lock.Acquire(ctx, sweepLockKey, j.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !ok {
		return nil, ErrSweepInProgress
	}
	defer release()

	start := j.now()
	report := &SweepReport{Errors: map[string]error{}}

	passes := []struct {
		name string
		run  func(context.Context, *SweepReport, time.Time) error
	}{
		{PassStuckProcessing, j.repairStuck},
		{PassPastDue, j.cancelPastDue},
		{PassStrandedRetry, j.requeueStranded},
		{PassRetentionPurge, j.purgeFailed},
	}
	for _, p := range passes {
		if err := j.runPass(ctx, p.run, report, start); err != nil {
			report.Errors[p.name] = err
		}
	}

	report.Duration = j.now().Sub(start)
	return report, nil
}

func (j *MaintenanceJob) runPass(ctx context.Context, pass func(context.Context, *SweepReport, time.Time) error, report *SweepReport, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
		}
	}()
	return pass(ctx, report, now)
}

func (j *MaintenanceJob) repairStuck(ctx context.Context, report *SweepReport, now time.Time) error {
	posts, err := j.posts.ListByStatusUpdatedBefore(ctx, models.StatusProcessing, now.Add(-j.cfg.StuckAfter), j.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range posts {
		log := j.log.With().Int64("scheduled_post_id", p.ID).Logger()

		msg := stuckMessage
		p.LastError = &msg
		if p.RetryCount < p.MaxRetries {
			p.RetryCount++
		}
		p.DispatchHandle = nil

		if p.RetriesExhausted() {
			p.Status = models.StatusFailed
			ok, err := j.posts.Save(ctx, p, models.StatusProcessing)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				report.StuckFailed++
				log.Warn().Int("retry_count", p.RetryCount).Msg("stuck post failed, retries exhausted")
			}
			continue
		}

		ok, err := j.requeue(ctx, p, models.StatusProcessing, now, log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			report.StuckRequeued++
		}
	}
	return errors.Join(errs...)
}

func (j *MaintenanceJob) cancelPastDue(ctx context.Context, report *SweepReport, now time.Time) error {
	cancelled, err := j.posts.CancelPastDue(ctx, now.Add(-j.cfg.PastDueGrace), pastDueMessage, j.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, p := range cancelled {
		log := j.log.With().Int64("scheduled_post_id", p.ID).Logger()
		if p.DispatchHandle != nil {
			if err := j.dispatcher.Cancel(ctx, *p.DispatchHandle); err != nil {
				log.Warn().Err(err).Str("handle", *p.DispatchHandle).Msg("could not cancel dispatch handle")
			}
		}
		log.Warn().Time("scheduled_for", p.ScheduledFor).Msg("past-due post cancelled")
	}
	report.PastDueCancelled = len(cancelled)
	return nil
}

func (j *MaintenanceJob) requeueStranded(ctx context.Context, report *SweepReport, now time.Time) error {
	posts, err := j.posts.ListRetryableFailed(ctx, j.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range posts {
		ok, err := j.requeue(ctx, p, models.StatusFailed, now, j.log.With().Int64("scheduled_post_id", p.ID).Logger())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			report.StrandedRequeued++
		}
	}
	return errors.Join(errs...)
}

func (j *MaintenanceJob) purgeFailed(ctx context.Context, report *SweepReport, now time.Time) error {
	n, err := j.posts.DeleteExhaustedFailedBefore(ctx, now.Add(-j.cfg.FailedRetention))
	if err != nil {
		return err
	}
	report.Purged = n
	return nil
}

// requeue moves p back to PENDING with an immediate dispatch. When the dispatch cannot be
// requested a record coming from PROCESSING is parked as FAILED with retries remaining.
func (j *MaintenanceJob) requeue(ctx context.Context, p *models.ScheduledPost, expected models.Status, now time.Time, log zerolog.Logger) (bool, error) {
	handle, err := queue.DispatchPublish(ctx, j.dispatcher, p.ID, now)
	if err != nil {
		if expected == models.StatusProcessing {
			p.Status = models.StatusFailed
			if _, saveErr := j.posts.Save(ctx, p, expected); saveErr != nil {
				return false, errors.Join(err, saveErr)
			}
		}
		return false, fmt.Errorf("dispatching retry for %d: %w", p.ID, err)
	}

	p.Status = models.StatusPending
	p.ScheduledFor = now.UTC()
	p.DispatchHandle = &handle

	ok, err := j.posts.Save(ctx, p, expected)
	if err != nil || !ok {
		if cerr := j.dispatcher.Cancel(ctx, handle); cerr != nil {
			log.Warn().Err(cerr).Str("handle", handle).Msg("could not cancel dispatch handle")
		}
		return false, err
	}

	log.Info().Str("from", string(expected)).Int("retry_count", p.RetryCount).Msg("post requeued")
	return true, nil
}
