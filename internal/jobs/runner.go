package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/lock"
	"github.com/leesh5000/picktrend/internal/matcher"
	"github.com/leesh5000/picktrend/internal/ranking"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// Job names accepted by Runner.Run.
const (
	JobCluster = "cluster"
	JobMatch   = "match"
	JobRank    = "rank"
)

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrRunNotFound = errors.New("job run not found")
)

// Publisher receives a period's leaderboard after it is generated.
type Publisher interface {
	Publish(ctx context.Context, p trend.RankingPeriod, entries []trend.RankingEntry) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, p trend.RankingPeriod, entries []trend.RankingEntry) error

func (f PublisherFunc) Publish(ctx context.Context, p trend.RankingPeriod, entries []trend.RankingEntry) error {
	return f(ctx, p, entries)
}

// Projector mirrors cluster state elsewhere after a clustering run.
type Projector interface {
	Project(ctx context.Context) error
}

// Request parameterizes a job run. Rank jobs use Kind and Key; a nil Key
// means the period containing the current time.
type Request struct {
	Kind    trend.PeriodKind
	Key     *trend.PeriodKey
	Rebuild bool
}

// Report summarizes a finished run.
type Report struct {
	RunID    string         `json:"run_id"`
	Job      string         `json:"job"`
	Counters map[string]int `json:"counters"`
	Errors   []string       `json:"errors,omitempty"`
	PeriodID int64          `json:"period_id,omitempty"`
}

// Runner executes the batch operations with locking and tracking.
type Runner struct {
	clusters   *cluster.Manager
	matcher    *matcher.Matcher
	ranker     *ranking.Generator
	clusterCfg cluster.Config
	matchOpts  matcher.MatchOptions

	locker     *lock.Locker
	tracker    Tracker
	projector  Projector
	publishers []Publisher
	now        func() time.Time
	logger     *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLocker serializes runs of the same job across processes.
func WithLocker(l *lock.Locker) RunnerOption { return func(r *Runner) { r.locker = l } }

func WithTracker(t Tracker) RunnerOption { return func(r *Runner) { r.tracker = t } }

func WithProjector(p Projector) RunnerOption { return func(r *Runner) { r.projector = p } }

func WithPublishers(p ...Publisher) RunnerOption {
	return func(r *Runner) { r.publishers = append(r.publishers, p...) }
}

func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

func NewRunner(
	clusters *cluster.Manager,
	m *matcher.Matcher,
	ranker *ranking.Generator,
	clusterCfg cluster.Config,
	matchOpts matcher.MatchOptions,
	logger *zap.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		clusters:   clusters,
		matcher:    m,
		ranker:     ranker,
		clusterCfg: clusterCfg,
		matchOpts:  matchOpts,
		tracker:    NopTracker{},
		now:        time.Now,
		logger:     logger.With(zap.String("component", "jobs")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one job under its lock. A run already in progress elsewhere
// yields lock.ErrNotAcquired.
func (r *Runner) Run(ctx context.Context, job string, req Request) (Report, error) {
	var exec func(context.Context, Request) (Report, error)
	switch job {
	case JobCluster:
		exec = r.runCluster
	case JobMatch:
		exec = r.runMatch
	case JobRank:
		if req.Kind == "" {
			req.Kind = trend.PeriodDaily
		}
		if _, err := trend.ParsePeriodKind(string(req.Kind)); err != nil {
			return Report{}, fmt.Errorf("%w: %v", ranking.ErrInvalidPeriod, err)
		}
		exec = r.runRank
	default:
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	if r.locker != nil {
		held, err := r.locker.Acquire(ctx, lockName(job, req))
		if err != nil {
			return Report{}, err
		}
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("lock release failed", zap.String("job", job), zap.Error(err))
			}
		}()
	}

	runID, err := r.tracker.Start(ctx, job)
	if err != nil {
		r.logger.Warn("job tracking unavailable", zap.String("job", job), zap.Error(err))
	}
	log := r.logger.With(zap.String("job", job), zap.String("run", runID))
	log.Info("job started")

	rep, err := exec(ctx, req)
	rep.RunID = runID
	rep.Job = job
	if err != nil {
		log.Error("job failed", zap.Error(err))
		if runID != "" {
			if terr := r.tracker.Fail(context.WithoutCancel(ctx), runID, err); terr != nil {
				log.Warn("job tracking failed", zap.Error(terr))
			}
		}
		return rep, err
	}

	rep.Counters["errors"] = len(rep.Errors)
	fields := make([]zap.Field, 0, len(rep.Counters))
	for k, v := range rep.Counters {
		fields = append(fields, zap.Int(k, v))
	}
	log.Info("job completed", fields...)
	if runID != "" {
		if terr := r.tracker.Complete(ctx, runID, rep.Counters, rep.Errors); terr != nil {
			log.Warn("job tracking failed", zap.Error(terr))
		}
	}
	return rep, nil
}

// lockName scopes rank locks by period kind so daily and monthly runs
// do not block each other.
func lockName(job string, req Request) string {
	if job == JobRank {
		return job + ":" + string(req.Kind)
	}
	return job
}

func (r *Runner) runCluster(ctx context.Context, req Request) (Report, error) {
	var res cluster.Result
	var err error
	if req.Rebuild {
		res, err = r.clusters.Rebuild(ctx, r.clusterCfg)
	} else {
		res, err = r.clusters.ClusterUnassigned(ctx, r.clusterCfg)
	}
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Counters: map[string]int{
			"clusters_created":  res.ClustersCreated,
			"keywords_assigned": res.KeywordsAssigned,
		},
		Errors: res.Errors,
	}
	if r.projector != nil {
		if err := r.projector.Project(ctx); err != nil {
			r.logger.Warn("cluster projection failed", zap.Error(err))
			rep.Errors = append(rep.Errors, fmt.Sprintf("projection: %v", err))
		}
	}
	return rep, nil
}

func (r *Runner) runMatch(ctx context.Context, _ Request) (Report, error) {
	res, err := r.matcher.MatchAll(ctx, r.matchOpts)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Counters: map[string]int{
			"processed": res.Processed,
			"matched":   res.Matched,
			"updated":   res.Updated,
		},
		Errors: res.Errors,
	}, nil
}

func (r *Runner) runRank(ctx context.Context, req Request) (Report, error) {
	key := ranking.KeyFor(req.Kind, r.now(), r.ranker.Location())
	if req.Key != nil {
		key = *req.Key
	}
	res, err := r.ranker.Generate(ctx, req.Kind, key)
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Counters: map[string]int{"rankings_created": res.RankingsCreated},
		Errors:   res.Errors,
		PeriodID: res.PeriodID,
	}
	if len(r.publishers) == 0 {
		return rep, nil
	}

	period, entries, err := r.ranker.Leaderboard(ctx, req.Kind, key)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("load leaderboard: %v", err))
		return rep, nil
	}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, period, entries); err != nil {
			r.logger.Warn("leaderboard publish failed", zap.Error(err))
			rep.Errors = append(rep.Errors, fmt.Sprintf("publish: %v", err))
		}
	}
	return rep, nil
}
