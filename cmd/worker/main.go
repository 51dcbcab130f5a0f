package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coursejobs/internal/adapter/gemini"
	"coursejobs/internal/adapter/smtp"
	"coursejobs/internal/adapter/stripe"
	"coursejobs/internal/adapter/transcribe"
	"coursejobs/internal/config"
	"coursejobs/internal/jobs"
	"coursejobs/internal/logging"
	"coursejobs/internal/media"
	"coursejobs/internal/queue"
	"coursejobs/internal/storage"
	"coursejobs/internal/store"
	"coursejobs/internal/task"
	"coursejobs/internal/telemetry"
	"coursejobs/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("worker_id", workerID()))
	defer func() { _ = log.Sync() }()

	if err := queue.ValidateRouting(); err != nil {
		log.Fatal("routing table", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	rdb := queue.NewRedisClient(cfg)
	defer rdb.Close()

	var queues []worker.JobQueue
	for _, desc := range queue.Descriptors() {
		queues = append(queues, queue.NewRedisQueue(rdb, desc, cfg.LeaseGrace))
	}

	var (
		embedder   worker.Embedder
		translator media.Translator
	)
	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY not set, embedding and translation jobs will fail")
	} else {
		ai, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel, cfg.GeminiTextModel, log)
		if err != nil {
			log.Fatal("gemini client", zap.Error(err))
		}
		defer ai.Close()
		embedder, translator = ai, ai
	}

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal("object storage", zap.Error(err))
	}
	// Jobs call GenerateNow and TranslateNow, so the runner is only a fallback.
	mediaJob, _ := queue.Lookup(queue.MediaAnalysis)
	runner := task.New(log, cfg.BackgroundTimeout)
	mediaSvc := media.NewService(
		st,
		transcribe.New(cfg.TranscriptionURL, cfg.TranscriptionAPIKey, cfg.TranscriptionTimeout),
		translator,
		objects,
		runner,
		cfg.ArtifactStaleAfter(mediaJob.Timeout),
		log,
	)

	handlers := worker.NewHandlers(worker.Dependencies{
		Mailer:    newMailer(cfg, log),
		Directory: st,
		Customers: stripe.New(cfg.StripeBaseURL, cfg.StripeAPIKey, nil, log),
		Users:     st,
		Embedder:  embedder,
		Content:   st,
		Media:     mediaSvc,
	}, log)

	pool := worker.NewPool(queues, st, handlers, worker.PoolConfig{
		PollInterval: cfg.WorkerPollInterval,
		BatchSize:    int64(cfg.ScheduledBatchSize),
	}, log)
	auditor := jobs.NewAuditor(st, cfg.AuditInterval, cfg.StuckPendingAfter, log)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return auditor.Run(gctx) })
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	log.Info("worker started",
		zap.Int("queues", len(queues)),
		zap.Duration("lease_grace", cfg.LeaseGrace),
		zap.String("metrics_addr", cfg.MetricsAddr))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
	}
	log.Info("worker stopped")
}

func newMailer(cfg *config.Config, log *zap.Logger) worker.Mailer {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, emails are logged instead of sent")
		return smtp.NewLogMailer(log)
	}
	m, err := smtp.NewMailer(smtp.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		log.Fatal("smtp mailer", zap.Error(err))
	}
	return m
}

func workerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if hostname, _ := os.Hostname(); hostname != "" {
		return hostname
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}
