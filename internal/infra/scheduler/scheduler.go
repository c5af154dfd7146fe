package scheduler

import (
	"context"
	"fmt"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/filequeue"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TriggerProcessor runs queued batch requests.
type TriggerProcessor interface {
	ProcessPendingTriggers(ctx context.Context) (int, error)
}

// HealthSource reports approval queue health.
type HealthSource interface {
	Health() (approval.HealthReport, error)
}

// HealthSink receives every health report, e.g. to export it as metrics.
type HealthSink interface {
	ObserveHealth(report approval.HealthReport)
}

// Reconciler repairs the approval queue layout and releases abandoned claims.
type Reconciler interface {
	Reconcile() (filequeue.ReconcileReport, error)
}

// BatchSubmitter queues a batch request.
type BatchSubmitter interface {
	Submit(ctx context.Context, requestedBy approval.UserID, maxTasks int, dryRun bool) (approval.TriggerID, error)
}

// Specs are the cron expressions of the scheduled jobs. An empty Batch disables the scheduled
// batch, an empty Reconcile the periodic queue repair.
type Specs struct {
	TriggerMonitor string
	HealthReport   string
	Reconcile      string
	Batch          string
	BatchMaxTasks  int
}

// WorkflowScheduler drives the trigger monitor, the periodic health report and the optional
// scheduled batch.
type WorkflowScheduler struct {
	cronEngine *cron.Cron
	triggers   TriggerProcessor
	health     HealthSource
	sink       HealthSink
	reconciler Reconciler
	batches    BatchSubmitter
	specs      Specs
	logger     *logrus.Entry
}

func NewWorkflowScheduler(triggers TriggerProcessor, health HealthSource, sink HealthSink, reconciler Reconciler, batches BatchSubmitter, specs Specs) *WorkflowScheduler {
	log := logger.Component("scheduler")
	return &WorkflowScheduler{
		// Overlapping runs of the same job are skipped; a slow batch must not pile up.
		cronEngine: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		triggers:   triggers,
		health:     health,
		sink:       sink,
		reconciler: reconciler,
		batches:    batches,
		specs:      specs,
		logger:     log,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *WorkflowScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting workflow scheduler...")

	if _, err := s.cronEngine.AddFunc(s.specs.TriggerMonitor, func() { s.RunTriggerMonitor(ctx) }); err != nil {
		return fmt.Errorf("could not add trigger monitor job %q: %w", s.specs.TriggerMonitor, err)
	}
	if s.specs.HealthReport != "" {
		if _, err := s.cronEngine.AddFunc(s.specs.HealthReport, s.ReportHealth); err != nil {
			return fmt.Errorf("could not add health report job %q: %w", s.specs.HealthReport, err)
		}
	}
	if s.specs.Reconcile != "" && s.reconciler != nil {
		if _, err := s.cronEngine.AddFunc(s.specs.Reconcile, s.ReconcileQueue); err != nil {
			return fmt.Errorf("could not add reconcile job %q: %w", s.specs.Reconcile, err)
		}
	}
	if s.specs.Batch != "" && s.batches != nil {
		if _, err := s.cronEngine.AddFunc(s.specs.Batch, func() { s.RunBatch(ctx) }); err != nil {
			return fmt.Errorf("could not add batch job %q: %w", s.specs.Batch, err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Workflow scheduler started")
	return nil
}

// RunTriggerMonitor processes every pending trigger once.
func (s *WorkflowScheduler) RunTriggerMonitor(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	handled, err := s.triggers.ProcessPendingTriggers(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Error during trigger processing")
		return
	}
	if handled > 0 {
		s.logger.WithField("handled", handled).Info("Pending triggers processed")
	}
}

// ReportHealth logs the queue health and forwards it to the sink.
func (s *WorkflowScheduler) ReportHealth() {
	report, err := s.health.Health()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read queue health")
		return
	}
	if s.sink != nil {
		s.sink.ObserveHealth(report)
	}

	fields := logrus.Fields{"status": report.Status, "total": report.Total}
	for state, n := range report.Counts {
		fields[string(state)] = n
	}
	entry := s.logger.WithFields(fields)
	switch report.Status {
	case approval.HealthHealthy:
		entry.Info("Approval queue healthy")
	default:
		entry.Warn("Approval queue needs attention")
	}
}

// ReconcileQueue returns claims of exited or stalled watchers to their partitions.
func (s *WorkflowScheduler) ReconcileQueue() {
	report, err := s.reconciler.Reconcile()
	if err != nil {
		s.logger.WithError(err).Error("Approval queue reconcile failed")
		return
	}
	if report != (filequeue.ReconcileReport{}) {
		s.logger.WithFields(logrus.Fields{
			"duplicates_removed": report.DuplicatesRemoved,
			"claims_released":    report.ClaimsReleased,
			"temp_files_removed": report.TempFilesRemoved,
		}).Warn("Approval queue repaired")
	}
}

// RunBatch submits the scheduled batch. The monitor job picks it up like any other trigger.
func (s *WorkflowScheduler) RunBatch(ctx context.Context) {
	id, err := s.batches.Submit(ctx, 0, s.specs.BatchMaxTasks, false)
	if err != nil {
		s.logger.WithError(err).Error("Failed to submit scheduled batch")
		return
	}
	s.logger.WithFields(logrus.Fields{"trigger_id": id.String(), "max_tasks": s.specs.BatchMaxTasks}).Info("Scheduled batch submitted")
}

func (s *WorkflowScheduler) Stop() {
	s.logger.Info("Stopping workflow scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Workflow scheduler gracefully stopped")
}
