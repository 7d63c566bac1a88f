package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

// SessionCloser is the part of the progress service the sweeper drives.
type SessionCloser interface {
	ListAbandoned(ctx context.Context, abandonAfter time.Duration, limit int) ([]model.ProgressRecord, error)
	CloseAbandoned(ctx context.Context, rec model.ProgressRecord) (service.CloseOutcome, error)
}

// Locker guards a sweep across processes. A false return means another
// holder has the lock.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// SweepReport summarizes one sweep. Skipped counts candidates that became
// active again between listing and closing.
type SweepReport struct {
	Candidates   int
	Graded       int
	StaleRemoved int
	Orphans      int
	Skipped      int
	Failed       int
}

// Sweeper periodically grades and closes sessions whose client went silent.
type Sweeper struct {
	closer SessionCloser
	locker Locker
	cfg    config.SweeperConfig
	log    zerolog.Logger

	mu sync.Mutex
}

// NewSweeper creates a new Sweeper. locker may be nil for single-instance runs.
func NewSweeper(closer SessionCloser, locker Locker, cfg config.SweeperConfig, log zerolog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Sweeper{
		closer: closer,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is cancelled. A tick still
// running at shutdown is allowed to finish its current batch.
func (s *Sweeper) Start(ctx context.Context) error {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", s.cfg.Schedule, err)
	}

	s.log.Info().
		Str("schedule", s.cfg.Schedule).
		Dur("abandon_after", s.cfg.AbandonAfter).
		Int("batch_size", s.cfg.BatchSize).
		Bool("distributed_lock", s.locker != nil).
		Bool("lock_fail_open", s.cfg.LockFailOpen).
		Msg("Sweeper started")
	c.Start()

	<-ctx.Done()
	s.log.Info().Msg("Shutdown requested. Waiting for running sweep...")
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, service.ErrSweepInProgress):
		s.log.Debug().Msg("Sweep skipped, another sweep holds the lock")
	case err != nil:
		s.log.Error().Err(err).Msg("Sweep failed")
	case report.Candidates > 0:
		s.log.Info().
			Int("candidates", report.Candidates).
			Int("graded", report.Graded).
			Int("stale_removed", report.StaleRemoved).
			Int("orphans", report.Orphans).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("Sweep finished")
	}
}

// RunOnce performs one sweep. Overlapping calls return ErrSweepInProgress
// instead of queueing.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if !s.mu.TryLock() {
		return report, service.ErrSweepInProgress
	}
	defer s.mu.Unlock()

	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx)
		switch {
		case err != nil && s.cfg.LockFailOpen:
			s.log.Error().Err(err).Msg("Sweep lock unavailable, sweeping without it")
		case err != nil:
			s.log.Error().Err(err).Msg("Sweep lock unavailable, auto-submit is stalled until the lock store recovers")
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		case !ok:
			return report, service.ErrSweepInProgress
		default:
			defer func() {
				// The tick context may already be cancelled.
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn().Err(err).Msg("Failed to release sweep lock")
				}
			}()
		}
	}

	candidates, err := s.closer.ListAbandoned(ctx, s.cfg.AbandonAfter, s.cfg.ScanLimit)
	if err != nil {
		return report, fmt.Errorf("list abandoned sessions: %w", err)
	}
	report.Candidates = len(candidates)

	for start := 0; start < len(candidates); start += s.cfg.BatchSize {
		if start > 0 && s.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.BatchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := min(start+s.cfg.BatchSize, len(candidates))
		for _, rec := range candidates[start:end] {
			s.closeOne(ctx, rec, &report)
		}
	}
	return report, nil
}

// closeOne handles a single candidate; failures are counted and left for the
// next tick.
func (s *Sweeper) closeOne(ctx context.Context, rec model.ProgressRecord, report *SweepReport) {
	outcome, err := s.closer.CloseAbandoned(ctx, rec)
	if err != nil {
		report.Failed++
		s.log.Error().Err(err).
			Str("exam_id", rec.ExamID.String()).
			Int("student_id", rec.StudentID).
			Msg("Failed to close abandoned session")
		return
	}

	switch outcome {
	case service.OutcomeGraded:
		report.Graded++
	case service.OutcomeStaleRemoved:
		report.StaleRemoved++
	case service.OutcomeOrphanRemoved:
		report.Orphans++
	case service.OutcomeSkipped:
		report.Skipped++
	}
}

// cronLogger routes robfig/cron's logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
