package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"saytruth/internal/clock"
)

// Store is what the sweeper needs from the link store.
type Store interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	PurgeExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// GarbageCollector is implemented by stores that need periodic compaction
// after bulk deletes.
type GarbageCollector interface {
	CollectGarbage() error
}

// Recorder receives sweep outcomes for metrics.
type Recorder interface {
	SweepFinished(ok bool)
	LinksExpired(n int)
	LinksPurged(n int)
}

type nopRecorder struct{}

func (nopRecorder) SweepFinished(bool) {}
func (nopRecorder) LinksExpired(int) {}
func (nopRecorder) LinksPurged(int) {}

// Config controls scheduling and batch sizes.
type Config struct {
	// Interval between expiry sweeps.
	Interval time.Duration
	// BatchSize bounds how many links one store transaction touches.
	BatchSize int
	// Retention is how long expired links are kept before the purge
	// deletes them. Zero disables purging.
	Retention time.Duration
	// PurgeSchedule is a cron spec for the purge job.
	PurgeSchedule string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		BatchSize:     500,
		Retention:     7 * 24 * time.Hour,
		PurgeSchedule: "@every 30m",
	}
}

// Result summarises one RunOnce or Purge call.
type Result struct {
	Batches int
	Rows    int
}

// Sweeper moves links past their lifetime to expired and, on a separate
// schedule, deletes links that have been expired for longer than the
// retention period.
type Sweeper struct {
	store   Store
	clock   clock.Clock
	cfg     Config
	metrics Recorder
	log     logrus.FieldLogger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a sweeper. metrics may be nil.
func New(store Store, clk clock.Clock, cfg Config, metrics Recorder, logger logrus.FieldLogger) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PurgeSchedule == "" {
		cfg.PurgeSchedule = def.PurgeSchedule
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Sweeper{
		store:   store,
		clock:   clk,
		cfg:     cfg,
		metrics: metrics,
		log:     logger.WithField("component", "sweeper"),
	}
}

// RunOnce expires every active link whose expiry is at or before now, one
// batch per transaction. On failure it returns what was done so far.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	res, err := s.batches(ctx, func(ctx context.Context) ([]string, error) {
		return s.store.ExpireDue(ctx, now, s.cfg.BatchSize)
	})
	s.metrics.LinksExpired(res.Rows)
	s.metrics.SweepFinished(err == nil)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"batch":      res.Batches + 1,
			"batch_size": s.cfg.BatchSize,
			"rows":       res.Rows,
		}).Error("Expiry sweep failed")
		return res, fmt.Errorf("expiry sweep: %w", err)
	}
	if res.Rows > 0 {
		s.log.WithFields(logrus.Fields{
			"batches": res.Batches,
			"rows":    res.Rows,
		}).Info("Expired links")
	}
	return res, nil
}

// Purge hard-deletes links expired before now minus the retention period,
// then gives the store a chance to reclaim space.
func (s *Sweeper) Purge(ctx context.Context) (Result, error) {
	if s.cfg.Retention <= 0 {
		return Result{}, nil
	}
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	res, err := s.batches(ctx, func(ctx context.Context) ([]string, error) {
		return s.store.PurgeExpired(ctx, cutoff, s.cfg.BatchSize)
	})
	s.metrics.LinksPurged(res.Rows)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"batch":  res.Batches + 1,
			"rows":   res.Rows,
			"cutoff": cutoff,
		}).Error("Retention purge failed")
		return res, fmt.Errorf("retention purge: %w", err)
	}
	if res.Rows > 0 {
		s.log.WithField("rows", res.Rows).Info("Purged expired links")
	}

	if gc, ok := s.store.(GarbageCollector); ok {
		if err := gc.CollectGarbage(); err != nil {
			s.log.WithError(err).Warn("Value log GC failed")
		}
	}
	return res, nil
}

func (s *Sweeper) batches(ctx context.Context, step func(context.Context) ([]string, error)) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ids, err := step(ctx)
		res.Rows += len(ids)
		if err != nil {
			return res, err
		}
		res.Batches++
		if len(ids) < s.cfg.BatchSize {
			return res, nil
		}
	}
}

// Start schedules the sweep and the purge. Jobs run until ctx is done or
// Stop is called; a job that is still running when its next tick comes is
// skipped, and a panicking job is recovered.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	logger := cronLogger{s.log}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		// Errors are logged in RunOnce and retried on the next tick.
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	if s.cfg.Retention > 0 {
		if _, err := c.AddFunc(s.cfg.PurgeSchedule, func() {
			_, _ = s.Purge(ctx)
		}); err != nil {
			return fmt.Errorf("schedule purge %q: %w", s.cfg.PurgeSchedule, err)
		}
	}

	c.Start()
	s.cron = c
	s.log.WithFields(logrus.Fields{
		"interval":       s.cfg.Interval,
		"purge_schedule": s.cfg.PurgeSchedule,
		"retention":      s.cfg.Retention,
	}).Info("Sweeper started")
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("Sweeper stopped")
}

// cronLogger adapts logrus to cron's logger interface.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
