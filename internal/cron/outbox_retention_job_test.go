package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

func TestOutboxRetentionJobUsesCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakePruner{}
	job := newOutboxRetentionJob(t, repo, 48*time.Hour)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !repo.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.cutoff)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one delete, got %d", repo.calls)
	}
}

func TestOutboxRetentionJobDefaultsRetention(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakePruner{}, 0)
	if job.retention != defaultOutboxRetention {
		t.Fatalf("expected default retention, got %s", job.retention)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakePruner{err: errors.New("boom")}, time.Hour)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newOutboxRetentionJob(t *testing.T, repo *fakePruner, retention time.Duration) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		Repository: repo,
		Retention:  retention,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return job.(*outboxRetentionJob)
}

type fakePruner struct {
	cutoff time.Time
	calls  int
	err    error
}

func (f *fakePruner) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}
