package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Status is a job run's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Tracker records job lifecycle transitions.
type Tracker interface {
	Start(ctx context.Context, job string) (string, error)
	Complete(ctx context.Context, runID string, counters map[string]int, errs []string) error
	Fail(ctx context.Context, runID string, cause error) error
}

// Event is one lifecycle transition as appended to the event stream.
type Event struct {
	RunID     string         `json:"run_id"`
	Job       string         `json:"job"`
	Status    Status         `json:"status"`
	Counters  map[string]int `json:"counters,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Run is the stored state of one job run.
type Run struct {
	ID         string         `json:"id"`
	Job        string         `json:"job"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Counters   map[string]int `json:"counters,omitempty"`
	Error      string         `json:"error,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

const (
	runKeyPrefix = "picktrend:job:"
	eventStream  = "picktrend:jobs"
	streamMaxLen = 1000

	// maxStoredErrors caps the per-item errors kept on a run hash.
	maxStoredErrors = 20
)

// RedisTracker keeps each run as a hash and appends every transition to a
// capped Redis stream.
type RedisTracker struct {
	rdb    *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewRedisTracker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisTracker {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisTracker{
		rdb:    rdb,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "job-tracker")),
	}
}

func (t *RedisTracker) Start(ctx context.Context, job string) (string, error) {
	id := uuid.New().String()
	at := t.now()
	key := runKeyPrefix + id

	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"job":        job,
		"status":     string(StatusRunning),
		"started_at": at.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("start run %s: %w", job, err)
	}
	return id, t.publish(ctx, Event{RunID: id, Job: job, Status: StatusRunning, Timestamp: at})
}

// Complete marks a run succeeded. Per-item errors do not fail the run;
// the first maxStoredErrors are kept for inspection.
func (t *RedisTracker) Complete(ctx context.Context, runID string, counters map[string]int, errs []string) error {
	if len(errs) > maxStoredErrors {
		errs = errs[:maxStoredErrors]
	}
	return t.finish(ctx, runID, StatusSucceeded, counters, errs, "")
}

func (t *RedisTracker) Fail(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.finish(ctx, runID, StatusFailed, nil, nil, msg)
}

func (t *RedisTracker) finish(ctx context.Context, runID string, status Status, counters map[string]int, errs []string, errMsg string) error {
	key := runKeyPrefix + runID
	job, err := t.rdb.HGet(ctx, key, "job").Result()
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	at := t.now()
	fields := map[string]interface{}{
		"status":      string(status),
		"finished_at": at.Format(time.RFC3339Nano),
	}
	if counters != nil {
		data, err := json.Marshal(counters)
		if err != nil {
			return err
		}
		fields["counters"] = string(data)
	}
	if len(errs) > 0 {
		data, err := json.Marshal(errs)
		if err != nil {
			return err
		}
		fields["errors"] = string(data)
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if err := t.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return t.publish(ctx, Event{RunID: runID, Job: job, Status: status, Counters: counters, Error: errMsg, Timestamp: at})
}

func (t *RedisTracker) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", eventStream, err)
	}
	t.logger.Debug("job event",
		zap.String("run", ev.RunID),
		zap.String("job", ev.Job),
		zap.String("status", string(ev.Status)))
	return nil
}

// Get loads a run's stored state.
func (t *RedisTracker) Get(ctx context.Context, runID string) (Run, error) {
	vals, err := t.rdb.HGetAll(ctx, runKeyPrefix+runID).Result()
	if err != nil {
		return Run{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(vals) == 0 {
		return Run{}, ErrRunNotFound
	}

	r := Run{ID: runID, Job: vals["job"], Status: Status(vals["status"]), Error: vals["error"]}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, vals["started_at"])
	if s := vals["finished_at"]; s != "" {
		if at, err := time.Parse(time.RFC3339Nano, s); err == nil {
			r.FinishedAt = &at
		}
	}
	if s := vals["counters"]; s != "" {
		if err := json.Unmarshal([]byte(s), &r.Counters); err != nil {
			return Run{}, fmt.Errorf("decode counters of %s: %w", runID, err)
		}
	}
	if s := vals["errors"]; s != "" {
		if err := json.Unmarshal([]byte(s), &r.Errors); err != nil {
			return Run{}, fmt.Errorf("decode errors of %s: %w", runID, err)
		}
	}
	return r, nil
}

// Recent returns up to n events, newest first.
func (t *RedisTracker) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := t.rdb.XRevRangeN(ctx, eventStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", eventStream, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if json.Unmarshal([]byte(data), &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

// NopTracker discards lifecycle events; used when Redis is not configured.
type NopTracker struct{}

func (NopTracker) Start(context.Context, string) (string, error) {
	return uuid.New().String(), nil
}

func (NopTracker) Complete(context.Context, string, map[string]int, []string) error { return nil }

func (NopTracker) Fail(context.Context, string, error) error { return nil }
