package lifecycle

import (
	"context"
	"errors"

	"acsd/internal/acserr"
	"acsd/internal/audit"
	"acsd/internal/eventbus"
	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

// runMetadataUpdater is the Event Bus subscriber spec.md §4.10 calls for:
// on a terminal event it folds the result back into the Job Store
// (last_run_at/last_exit_code), and it feeds the supplemental audit trail.
// A job deleted mid-run (or any other Job Store miss) is logged and
// ignored, never fatal to the subscriber loop.
func (c *Controller) runMetadataUpdater(ctx context.Context) {
	sub := c.Bus.Subscribe()
	for {
		ev, lag, err := sub.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, eventbus.ErrClosed) {
				c.log.Warn("lifecycle: metadata-updater recv failed", logx.Err(err))
			}
			return
		}
		if lag > 0 {
			c.log.Warn("lifecycle: metadata-updater fell behind the event bus", logx.Uint64("lag", lag))
			continue
		}

		switch ev.Type {
		case model.EventStarted:
			d := ev.Started
			if err := c.Audit.RecordTrigger(ctx, d.JobID, d.RunID, "scheduler", nil, d.Timestamp); err != nil && !errors.Is(err, audit.ErrDisabled) {
				c.log.Warn("lifecycle: audit record trigger failed", logx.String("job_id", d.JobID.String()), logx.Err(err))
			}
		case model.EventCompleted:
			d := ev.Completed
			code := d.ExitCode
			if err := c.Jobs.SetRunResult(d.JobID, d.Timestamp, &code); err != nil && acserr.KindOf(err) != acserr.KindNotFound {
				c.log.Warn("lifecycle: metadata-updater write failed", logx.String("job_id", d.JobID.String()), logx.Err(err))
			}
		case model.EventFailed:
			d := ev.Failed
			if err := c.Jobs.SetRunResult(d.JobID, d.Timestamp, nil); err != nil && acserr.KindOf(err) != acserr.KindNotFound {
				c.log.Warn("lifecycle: metadata-updater write failed", logx.String("job_id", d.JobID.String()), logx.Err(err))
			}
		case model.EventJobChanged:
			d := ev.JobChanged
			if err := c.Audit.RecordJobChange(ctx, d.JobID, d.Change, d.Timestamp); err != nil && !errors.Is(err, audit.ErrDisabled) {
				c.log.Warn("lifecycle: audit record job change failed", logx.String("job_id", d.JobID.String()), logx.Err(err))
			}
		}
	}
}
