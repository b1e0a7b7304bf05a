package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/log"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

type RunnerConfig struct {
	Location *time.Location
	// JobTimeout bounds one run of one job.
	JobTimeout time.Duration
}

type entry struct {
	job   Job
	every time.Duration
	daily bool
	// at is the offset from local midnight for daily jobs.
	at time.Duration
}

// Runner fires jobs on intervals or at a daily wall-clock time. Each run
// holds a job lock so replicas never overlap; a held lock skips the run.
type Runner struct {
	locker  redisclient.Locker
	cfg     RunnerConfig
	now     func() time.Time
	logger  zerolog.Logger
	entries []entry
}

func NewRunner(locker redisclient.Locker, cfg RunnerConfig) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	return &Runner{
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
		logger: log.WithComponent("scheduler"),
	}
}

// Every runs job at startup and then every interval.
func (r *Runner) Every(job Job, interval time.Duration) {
	r.entries = append(r.entries, entry{job: job, every: interval})
}

// Daily runs job once a day at offset from local midnight.
func (r *Runner) Daily(job Job, offset time.Duration) {
	r.entries = append(r.entries, entry{job: job, daily: true, at: offset})
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range r.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			if e.daily {
				r.loopDaily(ctx, e)
			} else {
				r.loopEvery(ctx, e)
			}
		}(e)
	}
	wg.Wait()
}

func (r *Runner) loopEvery(ctx context.Context, e entry) {
	r.logger.Info().Str("job", e.job.Name()).Dur("interval", e.every).Msg("job scheduled")

	// Run once at startup
	r.RunOnce(ctx, e.job)

	ticker := time.NewTicker(e.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx, e.job)
		}
	}
}

func (r *Runner) loopDaily(ctx context.Context, e entry) {
	for {
		next := NextDaily(r.now(), e.at, r.cfg.Location)
		r.logger.Info().Str("job", e.job.Name()).Time("next_run", next).Msg("job scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.RunOnce(ctx, e.job)
		}
	}
}

// RunOnce runs job under its lock with the configured timeout and records
// metrics. A run skipped because another replica holds the lock is not an
// error.
func (r *Runner) RunOnce(ctx context.Context, job Job) (Report, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	logger := r.logger.With().Str("job", job.Name()).Logger()
	timer := metrics.NewTimer()

	var rep Report
	err := r.locker.WithJobLock(runCtx, redisclient.JobKey(job.Name()), func(lockCtx context.Context) error {
		var err error
		rep, err = job.Run(lockCtx, r.now())
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		logger.Debug().Msg("job already running elsewhere, skipping")
		return Report{Job: job.Name()}, nil
	}

	timer.ObserveDuration(metrics.SweepDuration.WithLabelValues(job.Name()))
	metrics.SweepRowsTotal.WithLabelValues(job.Name(), "processed").Add(float64(rep.Processed))
	metrics.SweepRowsTotal.WithLabelValues(job.Name(), "skipped").Add(float64(rep.Skipped))
	metrics.SweepRowsTotal.WithLabelValues(job.Name(), "failed").Add(float64(rep.Failed))

	if err != nil {
		logger.Error().Err(err).Msg("job run error")
		return rep, err
	}

	logger.Info().
		Int("scanned", rep.Scanned).
		Int("processed", rep.Processed).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Dur("took", timer.Duration()).
		Msg("job run complete")
	return rep, nil
}

// NextDaily returns the first instant strictly after now that is offset past
// a local midnight in loc.
func NextDaily(now time.Time, offset time.Duration, loc *time.Location) time.Time {
	midnight, _ := appointment.DayBounds(now, loc)
	next := midnight.Add(offset)
	if !next.After(now) {
		tomorrow, _ := appointment.DayBounds(midnight.Add(36*time.Hour), loc)
		next = tomorrow.Add(offset)
	}
	return next
}
