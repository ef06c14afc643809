package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const defaultInterval = 15 * time.Minute

type jobMetrics interface {
	ObserveDuration(job string, duration time.Duration)
	IncSuccess(job string)
	IncFailure(job string)
}

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  jobMetrics
	Interval time.Duration
}

// Service runs every registered job once per interval while holding the lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  jobMetrics
	interval time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run sweeps immediately, then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
}

// runCycle runs every job even when earlier ones fail and returns the combined
// failures. Cancellation stops the cycle between jobs.
func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance holds the lock; skipping this cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.WarnErr(ctx, "failed to release cron lock", err)
		}
	}()

	var errs error
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		elapsed := time.Since(start)
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
		if s.metrics != nil {
			s.metrics.ObserveDuration(name, elapsed)
		}
		if err != nil {
			if s.metrics != nil {
				s.metrics.IncFailure(name)
			}
			s.logg.Error(jobCtx, "cron.job_failed", err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncSuccess(name)
		}
		s.logg.Debug(jobCtx, "cron.job_done")
	}()
	return job.Run(jobCtx)
}
