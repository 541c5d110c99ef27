package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leesh5000/picktrend/internal/lock"
	"github.com/leesh5000/picktrend/internal/trend"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule maps jobs to cron expressions. Empty entries are not scheduled.
type Schedule struct {
	Cluster     string
	Match       string
	RankDaily   string
	RankMonthly string
	Timeout     time.Duration
}

// Scheduler triggers Runner jobs on cron expressions.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	timeout time.Duration
	logger  *zap.Logger
}

func NewScheduler(runner *Runner, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		runner:  runner,
		timeout: 30 * time.Minute,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
}

// Setup registers every non-empty schedule entry.
func (s *Scheduler) Setup(sch Schedule) error {
	if sch.Timeout > 0 {
		s.timeout = sch.Timeout
	}
	entries := []struct {
		expr string
		job  string
		req  Request
	}{
		{sch.Cluster, JobCluster, Request{}},
		{sch.Match, JobMatch, Request{}},
		{sch.RankDaily, JobRank, Request{Kind: trend.PeriodDaily}},
		{sch.RankMonthly, JobRank, Request{Kind: trend.PeriodMonthly}},
	}
	for _, e := range entries {
		if e.expr == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.expr, s.trigger(e.job, e.req)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", e.job, e.expr, err)
		}
		s.logger.Info("job scheduled",
			zap.String("job", e.job),
			zap.String("kind", string(e.req.Kind)),
			zap.String("cron", e.expr))
	}
	return nil
}

func (s *Scheduler) trigger(job string, req Request) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		_, err := s.runner.Run(ctx, job, req)
		if errors.Is(err, lock.ErrNotAcquired) {
			s.logger.Info("job skipped, already running", zap.String("job", job))
			return
		}
		if err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", job), zap.Error(err))
		}
	}
}

// Len reports the number of scheduled entries.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.logger.Info("starting cron scheduler")
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("stopping cron scheduler")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
