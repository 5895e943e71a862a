/*
scheduler.go - Scheduled maintenance jobs

PURPOSE:
  Runs the recurring-advance repair pass on a cron schedule. The repair is
  idempotent, so overlapping concerns (manual trigger via the API plus the
  scheduled run) are safe.

CONFIGURATION:
  The schedule is a standard cron expression (robfig/cron). The default of
  "0 3 * * *" runs the pass nightly at 03:00, before fortnight processing
  starts in the morning.

USAGE:
  scheduler := jobs.NewScheduler(repairer, "0 3 * * *", log)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lissa/commission-engine/advance"
)

// DefaultRepairSchedule runs the repair pass nightly at 03:00.
const DefaultRepairSchedule = "0 3 * * *"

// Scheduler owns the cron runner for background maintenance.
type Scheduler struct {
	cron     *cron.Cron
	repairer *advance.Repairer
	schedule string
	log      *logrus.Logger
}

// NewScheduler builds a scheduler. An empty schedule falls back to
// DefaultRepairSchedule.
func NewScheduler(repairer *advance.Repairer, schedule string, log *logrus.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultRepairSchedule
	}
	return &Scheduler{
		cron:     cron.New(),
		repairer: repairer,
		schedule: schedule,
		log:      log,
	}
}

// Start registers the jobs and launches the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runRepair); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("maintenance scheduler started")
	return nil
}

// Stop halts the cron runner and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("maintenance scheduler stopped")
}

func (s *Scheduler) runRepair() {
	result, err := s.repairer.CleanupDuplicates(context.Background())
	if err != nil {
		s.log.WithError(err).Error("scheduled recurring repair failed")
		return
	}
	if result.Deleted > 0 || result.Reset > 0 {
		s.log.WithFields(logrus.Fields{
			"deleted":      result.Deleted,
			"reset":        result.Reset,
			"logs_dropped": result.LogsDropped,
		}).Warn("scheduled recurring repair corrected inconsistencies")
		return
	}
	s.log.Debug("scheduled recurring repair found nothing to fix")
}
