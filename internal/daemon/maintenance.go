package daemon

import (
	"context"
	"time"

	"reelflow/internal/api"
	"reelflow/internal/cronlock"
	"reelflow/internal/failsafe"
	"reelflow/internal/logging"
)

// Job names used for cron leases. Every replica shares them.
const (
	JobFailsafeScan = "failsafe-scan"
	JobPurge        = "purge"
)

func (d *Daemon) startMaintenance(ctx context.Context) {
	if d.cfg.Failsafe.Enabled {
		d.startLoop(ctx, JobFailsafeScan, d.cfg.Failsafe.ScanIntervalDuration(), d.RunScan)
	}
	d.startLoop(ctx, JobPurge, d.cfg.Failsafe.PurgeIntervalDuration(), d.Purge)
}

func (d *Daemon) startLoop(ctx context.Context, job string, interval time.Duration, fn func(context.Context) (api.CronRun, error)) {
	if interval <= 0 {
		return
	}
	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		logger := d.logger.With(logging.String(logging.FieldJob, job))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := fn(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(logger, "maintenance job failed", "maintenance_failed",
					logging.String(logging.FieldErrorHint, "the job runs again on the next tick"),
					logging.Error(err),
				)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// RunScan runs one failsafe scan under the cluster-wide lease. A scan held by
// another replica reports a skipped outcome without error.
func (d *Daemon) RunScan(ctx context.Context) (api.CronRun, error) {
	var report failsafe.Report
	res, err := d.locker.WithLock(ctx, JobFailsafeScan, func(ctx context.Context) error {
		var scanErr error
		report, scanErr = d.scanner.Scan(ctx)
		return scanErr
	})
	run := d.cronRun(JobFailsafeScan, res, err)
	if res.Ran() {
		run.Report = api.FromReport(report)
	}
	d.runsMu.Lock()
	d.lastScan = &run
	d.runsMu.Unlock()
	return run, err
}

// Purge deletes expired webhook receipts and resolved dead letters past
// retention, under the cluster-wide lease.
func (d *Daemon) Purge(ctx context.Context) (api.CronRun, error) {
	var counts api.PurgeCounts
	res, err := d.locker.WithLock(ctx, JobPurge, func(ctx context.Context) error {
		now := d.engine.Now()
		receipts, err := d.store.PurgeReceipts(ctx, now)
		if err != nil {
			return err
		}
		counts.Receipts = receipts
		if retention := d.cfg.Webhooks.DeadLetterRetention(); retention > 0 {
			letters, err := d.store.PurgeDeadLetters(ctx, now.Add(-retention))
			if err != nil {
				return err
			}
			counts.DeadLetters = letters
		}
		return nil
	})
	run := d.cronRun(JobPurge, res, err)
	if res.Ran() {
		run.Purged = &counts
		if counts.Receipts > 0 || counts.DeadLetters > 0 {
			d.logger.Info("purged webhook bookkeeping",
				logging.String(logging.FieldEventType, "purge_completed"),
				logging.Int64("receipts", counts.Receipts),
				logging.Int64("dead_letters", counts.DeadLetters),
			)
		}
	}
	d.runsMu.Lock()
	d.lastPurge = &run
	d.runsMu.Unlock()
	return run, err
}

func (d *Daemon) cronRun(job string, res cronlock.Result, err error) api.CronRun {
	run := api.FromCronResult(res, d.engine.Now(), err)
	if run.Job == "" {
		run.Job = job
	}
	return run
}
