package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, s
}

func TestRedisTrackerLifecycle(t *testing.T) {
	rdb, s := setupTestRedis(t)
	tr := NewRedisTracker(rdb, time.Hour, zap.NewNop())
	at := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return at }
	ctx := context.Background()

	id, err := tr.Start(ctx, JobCluster)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	run, err := tr.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != StatusRunning || run.Job != JobCluster || !run.StartedAt.Equal(at) || run.FinishedAt != nil {
		t.Fatalf("running = %+v", run)
	}
	if ttl := s.TTL(runKeyPrefix + id); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	errs := make([]string, maxStoredErrors+5)
	for i := range errs {
		errs[i] = "keyword failed"
	}
	counters := map[string]int{"clusters_created": 2, "errors": len(errs)}
	if err := tr.Complete(ctx, id, counters, errs); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	run, _ = tr.Get(ctx, id)
	if run.Status != StatusSucceeded || run.Counters["clusters_created"] != 2 || run.FinishedAt == nil {
		t.Fatalf("completed = %+v", run)
	}
	if run.Counters["errors"] != maxStoredErrors+5 || len(run.Errors) != maxStoredErrors {
		t.Fatalf("errors: counter %d, stored %d", run.Counters["errors"], len(run.Errors))
	}

	events, err := tr.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 || events[0].Status != StatusSucceeded || events[1].Status != StatusRunning {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Job != JobCluster || events[0].RunID != id {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestRedisTrackerFail(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	tr := NewRedisTracker(rdb, 0, zap.NewNop())
	ctx := context.Background()

	id, _ := tr.Start(ctx, JobRank)
	if err := tr.Fail(ctx, id, errors.New("store down")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	run, _ := tr.Get(ctx, id)
	if run.Status != StatusFailed || run.Error != "store down" {
		t.Fatalf("run = %+v", run)
	}

	if _, err := tr.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Get missing = %v", err)
	}
	if err := tr.Complete(ctx, "missing", nil, nil); err == nil {
		t.Fatal("completing an unknown run should fail")
	}
}
