// Package worker runs periodic jobs on a cron schedule. Every run takes a
// leader lock first so that only one instance executes a job at a time.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/blume/blume/internal/platform/locker"
)

const (
	keyPrefix      = "blume:worker:"
	defaultLockTTL = 2 * time.Minute
)

// Job is one unit of periodic work. Run returns how many items it handled.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

type Options struct {
	Location *time.Location
	// LockTTL bounds how long a crashed leader blocks the others. The lock
	// is refreshed at half this interval while a job runs.
	LockTTL time.Duration
}

type Worker struct {
	cron    *cron.Cron
	locker  locker.Locker
	logger  zerolog.Logger
	lockTTL time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(l locker.Locker, logger zerolog.Logger, opts Options) *Worker {
	logger = logger.With().Str("component", "worker").Logger()
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:  l,
		logger:  logger,
		lockTTL: ttl,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules job with a standard cron spec or a descriptor such as
// "@every 15m".
func (w *Worker) Add(spec string, job Job) error {
	if _, err := w.cron.AddFunc(spec, func() { w.RunOnce(w.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	w.logger.Info().Str("job", job.Name).Str("spec", spec).Msg("job scheduled")
	return nil
}

func (w *Worker) Start() { w.cron.Start() }

// Stop cancels running jobs and waits for them to return.
func (w *Worker) Stop() {
	w.cancel()
	<-w.cron.Stop().Done()
}

// RunOnce executes job if this instance wins its leader lock. It reports
// whether the job ran.
func (w *Worker) RunOnce(ctx context.Context, job Job) bool {
	key := keyPrefix + job.Name
	logger := w.logger.With().Str("job", job.Name).Logger()

	token, ok, err := w.locker.TryLock(ctx, key, w.lockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("leader lock attempt failed")
		return false
	}
	if !ok {
		logger.Debug().Msg("leader lock held by another instance")
		return false
	}
	defer func() {
		if err := w.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn().Err(err).Msg("release leader lock")
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go w.keepAlive(runCtx, key, token, logger)

	start := time.Now()
	n, err := job.Run(runCtx)
	if err != nil {
		logger.Error().Err(err).Int("handled", n).Dur("took", time.Since(start)).Msg("job failed")
		return true
	}
	logger.Info().Int("handled", n).Dur("took", time.Since(start)).Msg("job finished")
	return true
}

func (w *Worker) keepAlive(ctx context.Context, key, token string, logger zerolog.Logger) {
	tick := time.NewTicker(w.lockTTL / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := w.locker.Refresh(ctx, key, token, w.lockTTL); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("refresh leader lock")
			}
		}
	}
}

// cronLogger routes the scheduler's own messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
