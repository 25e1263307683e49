// Package retention moves aged audit entries from the database to object
// storage on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// Job archives audit entries older than the retention window.
type Job struct {
	archiver      domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewJob creates a Job.
func NewJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *Job {
	return &Job{
		archiver:      archiver,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "retention")),
	}
}

// Run executes a single archive pass and returns the number of entries moved.
func (j *Job) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	j.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	n, err := j.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: archive audit before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logger.InfoContext(ctx, "archive run complete", slog.Int64("audit_archived", n))
	return n, nil
}

// RunCron runs the job on a 5-field cron schedule (UTC) until ctx is
// cancelled. A failed run is logged and the schedule continues.
func (j *Job) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("retention: cron %q: %w", cronExpr, err)
	}
	j.logger.InfoContext(ctx, "archive schedule started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(j.now())
		if err != nil {
			return fmt.Errorf("retention: cron %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		j.logger.DebugContext(ctx, "waiting for next archive run",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
