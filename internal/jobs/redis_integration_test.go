//go:build integration

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/leesh5000/picktrend/internal/cache"
	"github.com/leesh5000/picktrend/internal/lock"
)

var testRedisURL string

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	url, cleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	testRedisURL = url
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestRunnerAgainstRedis(t *testing.T) {
	ctx := context.Background()
	rdb, err := cache.Connect(ctx, testRedisURL)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()
	rdb.FlushDB(ctx)

	locker := lock.New(rdb, time.Minute)
	tr := NewRedisTracker(rdb, time.Hour, zap.NewNop())
	r, _ := newTestRunner(t, WithLocker(locker), WithTracker(tr))

	held, err := locker.Acquire(ctx, JobCluster)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := r.Run(ctx, JobCluster, Request{}); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("Run while locked = %v", err)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	rep, err := r.Run(ctx, JobCluster, Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	run, err := tr.Get(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != StatusSucceeded || run.Counters["clusters_created"] != 1 {
		t.Fatalf("run = %+v", run)
	}
	events, err := tr.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
}
