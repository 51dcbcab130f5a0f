package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coursejobs/internal/adapter/gemini"
	"coursejobs/internal/adapter/transcribe"
	"coursejobs/internal/api"
	"coursejobs/internal/billing"
	"coursejobs/internal/cache"
	"coursejobs/internal/config"
	"coursejobs/internal/jobs"
	"coursejobs/internal/logging"
	"coursejobs/internal/media"
	"coursejobs/internal/queue"
	"coursejobs/internal/ratelimit"
	"coursejobs/internal/storage"
	"coursejobs/internal/store"
	"coursejobs/internal/task"
	"coursejobs/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateWebhooks(); err != nil {
		log.Fatal("webhook config", zap.Error(err))
	}
	if err := queue.ValidateRouting(); err != nil {
		log.Fatal("routing table", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	pushers := make(map[queue.Name]jobs.Pusher)
	for _, desc := range queue.Descriptors() {
		pushers[desc.Name] = queue.NewRedisQueue(rdb, desc, cfg.LeaseGrace)
	}
	enqueuer, err := jobs.NewEnqueuer(st, pushers, log)
	if err != nil {
		log.Fatal("build enqueuer", zap.Error(err))
	}

	catalog, err := billing.NewCatalog(cfg.PricePlans)
	if err != nil {
		log.Fatal("price plans", zap.Error(err))
	}
	statuses, err := billing.NewStatusMapper(cfg.UnknownSubscriptionState)
	if err != nil {
		log.Fatal("subscription status fallback", zap.Error(err))
	}
	webhooks := webhook.NewProcessor(
		st,
		billing.NewReconciler(catalog, statuses, log),
		enqueuer,
		cache.NewTenantCache(rdb, cfg.TenantCachePrefix),
		map[webhook.Endpoint]string{
			webhook.EndpointBilling: cfg.BillingWebhookSecret,
			webhook.EndpointConnect: cfg.ConnectWebhookSecret,
		},
		cfg.SignatureTolerance,
		log,
	)

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal("object storage", zap.Error(err))
	}
	var translator media.Translator
	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY not set, subtitle translation is disabled")
	} else {
		ai, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel, cfg.GeminiTextModel, log)
		if err != nil {
			log.Fatal("gemini client", zap.Error(err))
		}
		defer ai.Close()
		translator = ai
	}

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

	server := api.New(api.Options{
		Webhooks: webhooks,
		Media:    mediaSvc,
		Admin:    st,
		Limiter:  ratelimit.NewTokenBucket(rdb, "ratelimit:subtitles:", cfg.RateLimitCapacity, cfg.RateLimitRefill),
		Health:   []api.Pinger{st, redisPinger{rdb}},
	}, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	// Subtitle pipelines started by requests get a bounded chance to finish.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()
	if err := runner.Wait(drainCtx); err != nil {
		log.Warn("background tasks still running at exit", zap.Error(err))
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
