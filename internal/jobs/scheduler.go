// Package jobs runs periodic background work on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
)

const jobTimeout = time.Minute

// AlertSweeper recounts stock alerts and announces them.
type AlertSweeper interface {
	SweepAlerts(ctx context.Context) ([]domain.StockAlertCounts, error)
}

type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
	ctx  context.Context
}

func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log.Sugar().Named("cron")}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:  log,
		ctx:  context.Background(),
	}
}

// Add registers fn under name. Each run gets its own deadline and inherits
// the context passed to Run.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()
		started := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(started)))
	})
	if err != nil {
		return fmt.Errorf("register job %s (%q): %w", name, spec, err)
	}
	return nil
}

// AddAlertSweep schedules the stock alert sweep.
func (s *Scheduler) AddAlertSweep(spec string, sweeper AlertSweeper) error {
	return s.Add("stock-alert-sweep", spec, func(ctx context.Context) error {
		_, err := sweeper.SweepAlerts(ctx)
		return err
	})
}

// Run starts the schedule and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
