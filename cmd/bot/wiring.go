package main

import (
	"context"
	"fmt"
	"time"

	"letter_outreach_bot/internal/app"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/baserow"
	"letter_outreach_bot/internal/infra/config"
	idb "letter_outreach_bot/internal/infra/database"
	"letter_outreach_bot/internal/infra/dossier"
	"letter_outreach_bot/internal/infra/filequeue"
	"letter_outreach_bot/internal/infra/letterexpress"
	"letter_outreach_bot/internal/infra/letters"
	"letter_outreach_bot/internal/infra/logger"
	"letter_outreach_bot/internal/infra/metrics"
	"letter_outreach_bot/internal/infra/nango"
	"letter_outreach_bot/internal/infra/pdf"
	"letter_outreach_bot/internal/infra/telegram"
	"letter_outreach_bot/internal/infra/zoho"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// services is the assembled application.
type services struct {
	cfg       *config.AppConfig
	queue     *filequeue.Queue
	metrics   *metrics.Metrics
	bot       *telebot.Bot
	mail      *letterexpress.Client
	orch      *app.Orchestrator
	approvals *app.ApprovalService
	triggers  *app.TriggerService

	closers []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("Error during shutdown")
		}
	}
}

// openQueue opens the approval queue with the metrics and, when DATABASE_URL is set, the audit
// log attached. The long-running bot reconciles the layout on startup; one-shot commands that
// share the directory with a running bot leave it alone.
func openQueue(ctx context.Context, cfg *config.AppConfig, s *services, reconcile bool) error {
	s.metrics = metrics.New(prometheus.DefaultRegisterer)
	opts := []filequeue.Option{
		filequeue.WithHealthThresholds(approval.HealthThresholds{MaxPending: cfg.Queue.MaxPending, MaxFailed: cfg.Queue.MaxFailed}),
		filequeue.WithClaimGrace(cfg.Queue.ClaimGrace),
		filequeue.WithObserver(s.metrics),
	}

	if cfg.DatabaseURL != "" {
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("could not connect to database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := idb.EnsureSchema(ctx, db); err != nil {
			return err
		}
		opts = append(opts, filequeue.WithObserver(idb.NewPostgresTransitionRepository(db)))
		logger.Log.Info("Transition audit log enabled")
	}

	q, err := filequeue.New(cfg.Queue.Dir, opts...)
	if err != nil {
		return fmt.Errorf("could not open approval queue: %w", err)
	}
	s.queue = q
	if !reconcile {
		return nil
	}
	report, err := q.Reconcile()
	if err != nil {
		return fmt.Errorf("could not reconcile approval queue: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"dir":                q.BaseDir(),
		"duplicates_removed": report.DuplicatesRemoved,
		"claims_released":    report.ClaimsReleased,
		"temp_files_removed": report.TempFilesRemoved,
	}).Info("Approval queue ready")
	return nil
}

// tokenCache shares OAuth tokens through redis when REDIS_URL is set.
func tokenCache(cfg *config.AppConfig, s *services) (nango.TokenCache, error) {
	if cfg.RedisURL == "" {
		return nango.NewMemoryTokenCache(time.Now), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	s.closers = append(s.closers, rdb.Close)
	return nango.NewRedisTokenCache(rdb, "letter_outreach:nango:"), nil
}

// buildServices wires the full workflow: CRM session, collaborators, processor, orchestrator and
// the application services.
func buildServices(ctx context.Context, cfg *config.AppConfig, reconcile bool) (*services, error) {
	s := &services{cfg: cfg}
	if err := openQueue(ctx, cfg, s, reconcile); err != nil {
		s.Close()
		return nil, err
	}

	cache, err := tokenCache(cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	nangoClient := nango.NewClient(cfg.Nango.SecretKey,
		nango.WithBaseURL(cfg.Nango.BaseURL),
		nango.WithCache(cache),
		nango.WithExpiryBuffer(cfg.Nango.ExpiryBuffer),
	)
	tokens := nango.NewTokenProvider(nangoClient, cfg.Nango.ConnectionID, cfg.Nango.IntegrationID)
	crm, err := zoho.NewClient(tokens, zoho.WithBaseURL(cfg.Zoho.BaseURL)).Authenticate(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("zoho authentication failed: %w", err)
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Telegram.BotToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Component("telebot").WithError(err)
			if c != nil && c.Chat() != nil {
				entry = entry.WithField("chat_id", c.Chat().ID)
			}
			entry.Error("Telegram handler error")
		},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}
	s.bot = bot

	printOpts, err := cfg.PrintOptions()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.mail = letterexpress.NewClient(letterexpress.Config{
		BaseURL:  cfg.LetterExpress.BaseURL,
		Username: cfg.LetterExpress.Username,
		APIKey:   cfg.LetterExpress.APIKey,
		Mode:     cfg.LetterExpress.Mode,
	})

	processor := app.NewWorkflowProcessor(app.Collaborators{
		CRM: crm,
		Profiles: baserow.NewClient(baserow.Config{
			BaseURL:          cfg.Baserow.BaseURL,
			APIKey:           cfg.Baserow.APIKey,
			TableID:          cfg.Baserow.TableID,
			ProfileIDField:   cfg.Baserow.ProfileIDField,
			ProfileJSONField: cfg.Baserow.ProfileJSONField,
		}),
		Dossiers: dossier.NewClient(cfg.Dossier.BaseURL, cfg.Dossier.Timeout, cfg.Dossier.LogDir),
		Letters: letters.NewGenerator(letters.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			SenderName: cfg.OpenAI.SenderName,
			OurCompany: cfg.OpenAI.OurCompany,
		}),
		Renderer: pdf.NewRenderer(cfg.PDFService.BaseURL, cfg.PDFService.TemplatesDir, cfg.PDFService.Timeout),
		Mail:     s.mail,
		Notifier: telegram.NewNotifier(bot, cfg.Telegram.ChatID),
		Queue:    s.queue,
	}, app.ProcessorConfig{
		OwnerID:          cfg.Zoho.OwnerID,
		SenderAddress:    cfg.SenderAddress(),
		PrintOptions:     printOpts,
		RequestedBy:      approval.UserID(cfg.Telegram.ChatID),
		PageLimitRetries: cfg.Queue.PageLimitRetries,
	})

	s.orch = app.NewOrchestrator(processor)
	s.approvals = app.NewApprovalService(s.queue)
	s.triggers = app.NewTriggerService(s.queue, s.orch)
	return s, nil
}
