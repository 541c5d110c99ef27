package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/lock"
	"github.com/leesh5000/picktrend/internal/matcher"
	"github.com/leesh5000/picktrend/internal/ranking"
	"github.com/leesh5000/picktrend/internal/store/memstore"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

var now = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	period  trend.RankingPeriod
	entries []trend.RankingEntry
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, period trend.RankingPeriod, entries []trend.RankingEntry) error {
	p.period = period
	p.entries = entries
	return p.err
}

type countingProjector struct{ calls int }

func (p *countingProjector) Project(context.Context) error {
	p.calls++
	return nil
}

func newTestRunner(t *testing.T, opts ...RunnerOption) (*Runner, *memstore.Store) {
	t.Helper()
	logger := zap.NewNop()
	st := memstore.New()
	ctx := context.Background()

	for i, text := range []string{"에어팟", "아이폰16", "아이폰16 프로"} {
		k, err := st.UpsertKeyword(ctx, trend.Keyword{
			Text: text, Source: trend.SourceGoogleTrends,
			CreatedAt: now.Add(time.Duration(i-10) * time.Minute),
		})
		if err != nil {
			t.Fatalf("UpsertKeyword: %v", err)
		}
		st.RecordMetric(ctx, trend.Metric{KeywordID: k.ID, Source: trend.SourceGoogleTrends, CollectedAt: now.Add(-time.Hour), Value: float64(40 + 10*i)})
	}
	st.SaveProduct(ctx, trend.Product{Name: "에어팟 프로 2세대", Active: true})

	cm := cluster.New(st, nil, nil, logger)
	cm.SetClock(func() time.Time { return now })
	mm := matcher.New(st, nil, matcher.Config{}, logger)
	gen := ranking.New(st, ranking.Config{Location: time.UTC}, logger)
	gen.SetClock(func() time.Time { return now })

	opts = append([]RunnerOption{WithClock(func() time.Time { return now })}, opts...)
	r := NewRunner(cm, mm, gen, cluster.DefaultConfig(), matcher.MatchOptions{ClearExisting: true, PreserveManual: true}, logger, opts...)
	return r, st
}

func TestRunClusterProjects(t *testing.T) {
	proj := &countingProjector{}
	r, _ := newTestRunner(t, WithProjector(proj))

	rep, err := r.Run(context.Background(), JobCluster, Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Counters["clusters_created"] != 1 || rep.Counters["keywords_assigned"] != 2 {
		t.Fatalf("counters = %v", rep.Counters)
	}
	if rep.RunID == "" || rep.Job != JobCluster {
		t.Fatalf("report = %+v", rep)
	}
	if proj.calls != 1 {
		t.Fatalf("projector calls = %d", proj.calls)
	}
}

func TestRunMatch(t *testing.T) {
	r, _ := newTestRunner(t)
	rep, err := r.Run(context.Background(), JobMatch, Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Counters["processed"] != 3 || rep.Counters["matched"] != 1 {
		t.Fatalf("counters = %v", rep.Counters)
	}
}

func TestRunRankPublishesCurrentPeriod(t *testing.T) {
	pub := &recordingPublisher{}
	r, _ := newTestRunner(t, WithPublishers(pub))

	rep, err := r.Run(context.Background(), JobRank, Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Counters["rankings_created"] != 3 || rep.PeriodID == 0 {
		t.Fatalf("report = %+v", rep)
	}
	want := trend.PeriodKey{Year: 2025, Month: 3, Day: 10}
	if pub.period.Kind != trend.PeriodDaily || pub.period.Key != want {
		t.Fatalf("published period = %+v", pub.period)
	}
	if len(pub.entries) != 3 || pub.entries[0].Keyword != "아이폰16 프로" {
		t.Fatalf("published entries = %+v", pub.entries)
	}
}

func TestRunRankExplicitKeyAndPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("slack down")}
	rdb, _ := setupTestRedis(t)
	tr := NewRedisTracker(rdb, time.Hour, zap.NewNop())
	r, _ := newTestRunner(t, WithPublishers(pub), WithTracker(tr))
	ctx := context.Background()

	key := trend.PeriodKey{Year: 2025, Month: 3}
	rep, err := r.Run(ctx, JobRank, Request{Kind: trend.PeriodMonthly, Key: &key})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pub.period.Kind != trend.PeriodMonthly || pub.period.Key != key {
		t.Fatalf("published period = %+v", pub.period)
	}
	if len(rep.Errors) != 1 || rep.Counters["errors"] != 1 {
		t.Fatalf("errors = %v, counters = %v", rep.Errors, rep.Counters)
	}

	run, err := tr.Get(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("Get run: %v", err)
	}
	if run.Status != StatusSucceeded || run.Counters["errors"] != 1 || len(run.Errors) != 1 {
		t.Fatalf("tracked run = %+v", run)
	}
}

func TestRunRejectsUnknownJobAndBadPeriod(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	if _, err := r.Run(ctx, "crawl", Request{}); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("unknown job = %v", err)
	}
	bad := trend.PeriodKey{Year: 2025, Month: 2, Day: 30}
	if _, err := r.Run(ctx, JobRank, Request{Kind: trend.PeriodDaily, Key: &bad}); !errors.Is(err, ranking.ErrInvalidPeriod) {
		t.Fatalf("bad period = %v", err)
	}
	if _, err := r.Run(ctx, JobRank, Request{Kind: "weekly"}); !errors.Is(err, ranking.ErrInvalidPeriod) {
		t.Fatalf("weekly kind = %v", err)
	}
}

func TestRunHonorsLock(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	locker := lock.New(rdb, time.Minute)
	tr := NewRedisTracker(rdb, time.Hour, zap.NewNop())
	r, _ := newTestRunner(t, WithLocker(locker), WithTracker(tr))
	ctx := context.Background()

	held, err := locker.Acquire(ctx, JobMatch)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := r.Run(ctx, JobMatch, Request{}); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("Run while locked = %v", err)
	}
	held.Release(ctx)

	rep, err := r.Run(ctx, JobMatch, Request{})
	if err != nil {
		t.Fatalf("Run after release: %v", err)
	}
	run, err := tr.Get(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("Get run: %v", err)
	}
	if run.Status != StatusSucceeded || run.Counters["processed"] != 3 {
		t.Fatalf("tracked run = %+v", run)
	}
	// the runner released its own lock
	if _, err := locker.Acquire(ctx, JobMatch); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
}

func TestRankLocksArePerPeriodKind(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	locker := lock.New(rdb, time.Minute)
	r, _ := newTestRunner(t, WithLocker(locker))
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "rank:daily")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release(ctx)

	if _, err := r.Run(ctx, JobRank, Request{}); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("daily rank while locked = %v", err)
	}
	if _, err := r.Run(ctx, JobRank, Request{Kind: trend.PeriodMonthly}); err != nil {
		t.Fatalf("monthly rank blocked by daily lock: %v", err)
	}
}
