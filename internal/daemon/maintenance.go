package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/workflow"
)

// startMaintenance schedules the stale-heartbeat sweep. An empty schedule
// disables it.
func (d *Daemon) startMaintenance(ctx context.Context, monitor *workflow.HeartbeatMonitor) error {
	schedule := strings.TrimSpace(d.cfg.Workflow.MaintenanceSchedule)
	if schedule == "" {
		return nil
	}
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(schedule, func() { d.runMaintenance(ctx, monitor) }); err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "maintenance",
			fmt.Sprintf("invalid workflow.maintenance_schedule %q", schedule), err)
	}
	scheduler.Start()
	d.maintenance = scheduler
	d.logger.Debug("maintenance scheduled", logging.String("schedule", schedule))
	return nil
}

func (d *Daemon) stopMaintenance() {
	if d.maintenance == nil {
		return
	}
	<-d.maintenance.Stop().Done()
	d.maintenance = nil
}

func (d *Daemon) runMaintenance(ctx context.Context, monitor *workflow.HeartbeatMonitor) {
	if ctx.Err() != nil {
		return
	}
	if _, err := monitor.FailStale(ctx); err != nil {
		logging.WarnWithContext(d.logger, "stale task sweep failed", "stale_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stalled tasks stay RUNNING until the next sweep"),
		)
	}
}
