package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/salesbridge/followup/internal/approval"
	"github.com/salesbridge/followup/internal/pending"
	"github.com/salesbridge/followup/internal/store"
)

// Retention for resolved approval requests before their sub-document slot is
// reclaimed.
const terminalRetention = 30 * 24 * time.Hour

// CronManager owns the daily housekeeping jobs: the queue report and the
// terminal-approval purge. Periodic sweeps with sub-hour cadence live in the
// scheduler package instead.
type CronManager struct {
	cron       *cron.Cron
	recipients store.RecipientStore
	workflow   *approval.Workflow
	location   *time.Location
}

func NewCronManager(recipients store.RecipientStore, workflow *approval.Workflow, location *time.Location) *CronManager {
	return &CronManager{
		cron:       cron.New(cron.WithLocation(location)),
		recipients: recipients,
		workflow:   workflow,
		location:   location,
	}
}

// SetupJobs registers the daily jobs. Times are in the organization's local
// timezone.
func (cm *CronManager) SetupJobs() error {
	// Daily at 4 AM local: queue and approval report.
	if _, err := cm.cron.AddFunc("0 4 * * *", cm.runDailyReport); err != nil {
		return err
	}

	// Daily at 2 AM local: purge long-resolved approvals.
	if _, err := cm.cron.AddFunc("0 2 * * *", cm.runPurge); err != nil {
		return err
	}

	return nil
}

func (cm *CronManager) Start() {
	cm.cron.Start()
	slog.Info("cron jobs started", "timezone", cm.location.String())
}

func (cm *CronManager) Stop() {
	ctx := cm.cron.Stop()
	<-ctx.Done()
	slog.Info("cron jobs stopped")
}

func (cm *CronManager) runDailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := pending.Stats(ctx, cm.recipients)
	if err != nil {
		slog.Error("daily report failed", "error", err)
		return
	}
	slog.Info("daily queue report",
		"queued", stats.Queued,
		"queued_by_type", stats.QueuedByType,
		"approvals", stats.Approvals,
		"calls_recorded", stats.CallsRecorded)
}

func (cm *CronManager) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := cm.workflow.PurgeTerminal(ctx, terminalRetention)
	if err != nil {
		slog.Error("approval purge finished with errors", "purged", n, "error", err)
		return
	}
	slog.Info("approval purge completed", "purged", n)
}
