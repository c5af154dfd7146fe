package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"letter_outreach_bot/internal/app"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/config"
	"letter_outreach_bot/internal/infra/httpapi"
	"letter_outreach_bot/internal/infra/logger"
	"letter_outreach_bot/internal/infra/scheduler"
	"letter_outreach_bot/internal/infra/telegram"
	"letter_outreach_bot/internal/infra/watcher"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "letter-outreach-bot",
		Short:         "Drafts outreach letters, routes them through Telegram approval and mails them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newRunCmd(),
		newTriggerCmd(),
		newStatusCmd(),
		newCheckCmd(),
	)
	return cmd
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.Environment)
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot: Telegram, watchers, trigger monitor and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.AppConfig) error {
	log := logger.Component("main")
	log.Info("Letter outreach bot starting...")

	s, err := buildServices(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	handlers := telegram.NewHandlers(ctx, s.approvals, s.approvals, s.triggers, cfg.Telegram.ChatID, cfg.Cron.BatchMaxTasks)
	handlers.Register(s.bot)

	approvalWatcher := watcher.NewApprovalWatcher(s.queue, s.orch, cfg.Queue.PollInterval)
	improvementWatcher := watcher.NewNeedsImprovementWatcher(s.queue, s.orch, cfg.Queue.PollInterval)
	if err := approvalWatcher.Start(ctx); err != nil {
		return fmt.Errorf("could not start approval watcher: %w", err)
	}
	defer approvalWatcher.Stop()
	if err := improvementWatcher.Start(ctx); err != nil {
		return fmt.Errorf("could not start improvement watcher: %w", err)
	}
	defer improvementWatcher.Stop()

	sched := scheduler.NewWorkflowScheduler(s.triggers, s.approvals, s.metrics, s.queue, s.triggers, scheduler.Specs{
		TriggerMonitor: cfg.Cron.TriggerMonitor,
		HealthReport:   cfg.Cron.HealthReport,
		Reconcile:      cfg.Cron.Reconcile,
		Batch:          cfg.Cron.Batch,
		BatchMaxTasks:  cfg.Cron.BatchMaxTasks,
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	sched.ReportHealth()

	server := httpapi.NewServer(cfg.HTTPAddr, s.approvals, s.triggers, promhttp.Handler())
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.ListenAndServe() }()

	go s.bot.Start()
	defer s.bot.Stop()

	log.Info("Application setup complete")
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP API stopped")
		}
	}

	log.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP API shutdown")
	}
	return nil
}

func newTriggerCmd() *cobra.Command {
	var (
		maxTasks    int
		dryRun      bool
		requestedBy int64
		now         bool
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Queue a workflow batch for the running bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if now {
				s, err := buildServices(ctx, cfg, false)
				if err != nil {
					return err
				}
				defer s.Close()
				id, err := s.triggers.Submit(ctx, approval.UserID(requestedBy), maxTasks, dryRun)
				if err != nil {
					return err
				}
				t, err := s.triggers.ProcessTrigger(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), triggerSummary(t))
				return nil
			}

			s := &services{}
			if err := openQueue(ctx, cfg, s, false); err != nil {
				return err
			}
			defer s.Close()
			id, err := app.NewTriggerService(s.queue, nil).Submit(ctx, approval.UserID(requestedBy), maxTasks, dryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger %s queued\n", id)
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxTasks, "max-tasks", "n", 5, "maximum number of tasks to process")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "select tasks without processing them")
	cmd.Flags().Int64Var(&requestedBy, "requested-by", 0, "Telegram user id recorded as requester")
	cmd.Flags().BoolVar(&now, "now", false, "process the batch in this process instead of the running bot")
	return cmd
}

func triggerSummary(t *approval.WorkflowTrigger) string {
	if t.Result == nil {
		return fmt.Sprintf("trigger %s pending", t.TriggerID)
	}
	return fmt.Sprintf("trigger %s: %s", t.TriggerID, *t.Result)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print approval queue health and per-state counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s := &services{}
			if err := openQueue(cmd.Context(), cfg, s, false); err != nil {
				return err
			}
			defer s.Close()

			report, err := s.queue.HealthCheck()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s (%d records)\n", report.Status, report.Total)
			for _, state := range approval.AllStates {
				fmt.Fprintf(out, "  %-22s %d\n", state, report.Counts[state])
			}
			pending, err := s.queue.ListPendingTriggers()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "pending triggers: %d\n", len(pending))
			if report.Status == approval.HealthUnhealthy {
				return errors.New("approval queue is unhealthy")
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify CRM authentication and the mail service credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := buildServices(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "zoho: authenticated")

			balance, err := s.mail.Balance(cmd.Context())
			if err != nil {
				return fmt.Errorf("letterexpress: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "letterexpress: ok (balance %.2f EUR, mode %s)\n", balance, cfg.LetterExpress.Mode)
			return nil
		},
	}
}
