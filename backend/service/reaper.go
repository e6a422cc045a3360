package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Expirer drops finished jobs older than a cutoff
type Expirer interface {
	Expire(ctx context.Context, olderThan time.Duration) int
}

// ReaperOptions groups dependencies for Reaper
type ReaperOptions struct {
	Jobs      Expirer       // Required
	Interval  time.Duration // Required: time between sweeps
	Retention time.Duration // Required: age after which finished jobs go
	Logger    *slog.Logger  // Optional
}

// Reaper periodically expires finished jobs and their artifacts
type Reaper struct {
	jobs      Expirer
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewReaper constructs a Reaper
func NewReaper(opts ReaperOptions) (*Reaper, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job expirer is required")
	}
	if opts.Interval <= 0 || opts.Retention <= 0 {
		return nil, errors.New("reaper interval and retention must be positive")
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Reaper{
		jobs:      opts.Jobs,
		interval:  opts.Interval,
		retention: opts.Retention,
		logger:    l.With("component", "reaper"),
	}, nil
}

// Run sweeps at the configured interval until ctx is cancelled. It returns
// nil on cancellation.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper", "interval", r.interval, "retention", r.retention)

	if !r.waitWithJitter(ctx) {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns how many jobs were removed
func (r *Reaper) Sweep(ctx context.Context) int {
	n := r.jobs.Expire(ctx, r.retention)
	if n > 0 {
		r.logger.InfoContext(ctx, "expired finished jobs", "count", n)
	}
	return n
}

// waitWithJitter delays the first sweep by up to 10% of the interval. It
// reports false if ctx ended first.
func (r *Reaper) waitWithJitter(ctx context.Context) bool {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(time.Duration(rand.Int64N(maxJitter)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
