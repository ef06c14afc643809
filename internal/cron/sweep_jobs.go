package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const (
	QuoteWindowJobName       = "quote-window-escalation"
	QuoteExpiryJobName       = "quote-expiry"
	PendingAssignmentJobName = "pending-assignment-retry"

	defaultSweepBatch = 100
)

type quoteSweeper interface {
	EscalateLapsedWindows(ctx context.Context, limit int) (int, error)
	ExpireStaleQuotes(ctx context.Context, limit int) (int, error)
	RetryPendingAssignments(ctx context.Context, filter applications.RetryFilter) (applications.RetrySummary, error)
}

// ProcessedRecorder counts what each sweep changed.
type ProcessedRecorder interface {
	AddProcessed(job, result string, n int)
}

type noopProcessed struct{}

func (noopProcessed) AddProcessed(string, string, int) {}

// SweepJobsParams configure the application sweeps.
type SweepJobsParams struct {
	Logger            *logger.Logger
	Applications      quoteSweeper
	BatchSize         int
	PendingRetryBatch int
	Metrics           ProcessedRecorder
}

// NewSweepJobs returns the window escalation, quote expiry and pending
// assignment retry jobs, in that order.
func NewSweepJobs(params SweepJobsParams) ([]Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Applications == nil {
		return nil, fmt.Errorf("applications service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	retryBatch := params.PendingRetryBatch
	if retryBatch <= 0 {
		retryBatch = defaultSweepBatch
	}
	apps, logg := params.Applications, params.Logger
	processed := params.Metrics
	if processed == nil {
		processed = noopProcessed{}
	}

	return []Job{
		NewJob(QuoteWindowJobName, func(ctx context.Context) error {
			n, err := apps.EscalateLapsedWindows(ctx, batch)
			processed.AddProcessed(QuoteWindowJobName, "escalated", n)
			logg.Info(logg.WithField(ctx, "escalated", n), "quote window sweep finished")
			return err
		}),
		NewJob(QuoteExpiryJobName, func(ctx context.Context) error {
			n, err := apps.ExpireStaleQuotes(ctx, batch)
			processed.AddProcessed(QuoteExpiryJobName, "expired", n)
			logg.Info(logg.WithField(ctx, "expired", n), "quote expiry sweep finished")
			return err
		}),
		NewJob(PendingAssignmentJobName, func(ctx context.Context) error {
			summary, err := apps.RetryPendingAssignments(ctx, applications.RetryFilter{Limit: retryBatch})
			processed.AddProcessed(PendingAssignmentJobName, "assigned", summary.Assigned)
			processed.AddProcessed(PendingAssignmentJobName, "still_pending", summary.StillPending)
			return err
		}),
	}, nil
}
