package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
)

type fakeLock struct {
	held bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.held = false; return nil }

type countingMetrics struct {
	success map[string]int
	failure map[string]int
}

func (m *countingMetrics) ObserveDuration(string, time.Duration) {}

func (m *countingMetrics) IncSuccess(job string) {
	if m.success == nil {
		m.success = map[string]int{}
	}
	m.success[job]++
}

func (m *countingMetrics) IncFailure(job string) {
	if m.failure == nil {
		m.failure = map[string]int{}
	}
	m.failure[job]++
}

func TestRunCycleRunsEveryJobAndCombinesFailures(t *testing.T) {
	var runs []string
	job := func(name string, err error) Job {
		return NewJob(name, func(context.Context) error {
			runs = append(runs, name)
			return err
		})
	}
	registry, err := NewRegistry(job("first", errors.New("boom")), job("second", nil), job("third", errors.New("bang")))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	metrics := &countingMetrics{}
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: &fakeLock{}, Metrics: metrics})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	err = svc.runCycle(context.Background())
	if err == nil {
		t.Fatalf("expected combined error")
	}
	if len(runs) != 3 {
		t.Fatalf("expected all jobs to run, got %v", runs)
	}
	if metrics.failure["first"] != 1 || metrics.failure["third"] != 1 || metrics.success["second"] != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestRunCycleSurvivesPanicsAndReleasesLock(t *testing.T) {
	var ranAfter bool
	registry, err := NewRegistry(
		NewJob("explodes", func(context.Context) error { panic("nil quote") }),
		NewJob("after", func(context.Context) error { ranAfter = true; return nil }),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	lock := &fakeLock{}
	metrics := &countingMetrics{}
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: lock, Metrics: metrics})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := svc.runCycle(context.Background()); err == nil {
		t.Fatalf("expected the panic to surface as an error")
	}
	if !ranAfter || metrics.failure["explodes"] != 1 {
		t.Fatalf("later jobs must still run, ranAfter=%v metrics=%+v", ranAfter, metrics)
	}
	if lock.held {
		t.Fatalf("lock must be released after the cycle")
	}
}

func TestRunCycleStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ranSecond bool
	registry, _ := NewRegistry(
		NewJob("first", func(context.Context) error { cancel(); return nil }),
		NewJob("second", func(context.Context) error { ranSecond = true; return nil }),
	)
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: &fakeLock{}})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := svc.runCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ranSecond {
		t.Fatalf("canceled cycle must not start more jobs")
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	ran := false
	registry, _ := NewRegistry(NewJob("only", func(context.Context) error { ran = true; return nil }))
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: &fakeLock{held: true}})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if ran {
		t.Fatalf("job must not run without the lock")
	}
}

func TestNewServiceDefaults(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected lock to be required")
	}
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if svc.interval != defaultInterval {
		t.Fatalf("unexpected default interval %s", svc.interval)
	}
}

func TestRedisLockIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	first, err := NewRedisLock(client, "cron-worker", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	second, _ := NewRedisLock(client, "cron-worker", time.Minute)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("second acquire must fail ok=%v err=%v", ok, err)
	}
	// a non-owner release leaves the lease alone
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists(client.LockKey("cron-worker")) {
		t.Fatalf("lease dropped by non-owner")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire after release ok=%v err=%v", ok, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	crashed, _ := NewRedisLock(client, "cron-worker", time.Minute)
	if ok, _ := crashed.Acquire(ctx); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(2 * time.Minute)

	next, _ := NewRedisLock(client, "cron-worker", time.Minute)
	if ok, err := next.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected lease to lapse ok=%v err=%v", ok, err)
	}
	if err := crashed.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists(client.LockKey("cron-worker")) {
		t.Fatalf("stale owner released the new lease")
	}
}

type fakeSweeper struct {
	limits    []int
	retry     applications.RetryFilter
	windowErr error
}

func (f *fakeSweeper) EscalateLapsedWindows(_ context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	return 2, f.windowErr
}

func (f *fakeSweeper) ExpireStaleQuotes(_ context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	return 1, nil
}

func (f *fakeSweeper) RetryPendingAssignments(_ context.Context, filter applications.RetryFilter) (applications.RetrySummary, error) {
	f.retry = filter
	return applications.RetrySummary{Attempted: 3, Assigned: 2, StillPending: 1}, nil
}

type processedCounts map[string]int

func (p processedCounts) AddProcessed(job, result string, n int) {
	p[job+"/"+result] += n
}

func TestSweepJobsCallApplications(t *testing.T) {
	sweeper := &fakeSweeper{windowErr: errors.New("notify failed")}
	counts := processedCounts{}
	jobs, err := NewSweepJobs(SweepJobsParams{
		Logger:            logger.Nop(),
		Applications:      sweeper,
		BatchSize:         25,
		PendingRetryBatch: 10,
		Metrics:           counts,
	})
	if err != nil {
		t.Fatalf("NewSweepJobs: %v", err)
	}
	want := []string{QuoteWindowJobName, QuoteExpiryJobName, PendingAssignmentJobName}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, job := range jobs {
		if job.Name() != want[i] {
			t.Fatalf("job %d: expected %s, got %s", i, want[i], job.Name())
		}
	}

	ctx := context.Background()
	if err := jobs[0].Run(ctx); err == nil {
		t.Fatalf("expected escalation error to surface")
	}
	if err := jobs[1].Run(ctx); err != nil {
		t.Fatalf("expiry: %v", err)
	}
	if err := jobs[2].Run(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sweeper.limits) != 2 || sweeper.limits[0] != 25 || sweeper.limits[1] != 25 {
		t.Fatalf("unexpected sweep limits %v", sweeper.limits)
	}
	if sweeper.retry.Limit != 10 || sweeper.retry.ModuleID != nil {
		t.Fatalf("unexpected retry filter %+v", sweeper.retry)
	}
	wantCounts := processedCounts{
		QuoteWindowJobName + "/escalated":           2,
		QuoteExpiryJobName + "/expired":             1,
		PendingAssignmentJobName + "/assigned":      2,
		PendingAssignmentJobName + "/still_pending": 1,
	}
	for key, n := range wantCounts {
		if counts[key] != n {
			t.Fatalf("%s: expected %d, got %d", key, n, counts[key])
		}
	}
}

func TestSweepJobsRequireApplications(t *testing.T) {
	if _, err := NewSweepJobs(SweepJobsParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected error")
	}
}
