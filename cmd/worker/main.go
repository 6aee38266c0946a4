package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyhub/internal/channel"
	"notifyhub/internal/config"
	"notifyhub/internal/mapper"
	"notifyhub/internal/mqhandler"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/internal/worker"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/outbox"
	redisclient "notifyhub/pkg/redis"
	"notifyhub/pkg/util"
)

func main() {
	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification delivery worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, log)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	// repositories
	notifRepo := repository.NewNotificationRepository(dbConn, log)
	prefRepo := repository.NewPreferenceRepository(dbConn)
	tokenRepo := repository.NewDeviceTokenRepository(dbConn, log)
	logRepo := repository.NewDeliveryLogRepository(dbConn, log)
	templateRepo := repository.NewTemplateRepository(dbConn)
	guardianRepo := repository.NewGuardianRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// services
	rules := service.NewDeliveryRules(cfg.Delivery, notifRepo, log)
	prefs := service.NewPreferenceService(prefRepo, log)

	// channel adapters; the push provider client is injected at deploy time,
	// a missing client surfaces through the adapter's structured status
	emailAdapter := channel.NewEmailAdapter(cfg.SMTP, userRepo, log)
	pushAdapter := channel.NewPushAdapter(cfg.Push, newPushClient(cfg.Push, log), tokenRepo, log)

	status := pushAdapter.Status()
	log.Info("Push provider status",
		zap.Bool("enabled", status.Enabled),
		zap.Bool("initialized", status.Initialized),
		zap.Bool("sdk_installed", status.SDKInstalled),
		zap.Bool("credentials_exist", status.CredentialsExist),
	)

	// queue worker
	qw := worker.New(
		notifRepo,
		prefs,
		logRepo,
		rules,
		[]channel.Adapter{emailAdapter, pushAdapter},
		cfg.Delivery,
		log,
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		qw.Start(ctx)
	}()

	// event ingestion consumer
	eventHandler := mqhandler.NewChildEventHandler(
		mapper.NewMapper(notifRepo, guardianRepo, templateRepo, log),
		deduper,
		log,
	)

	log.Info("Init consumer: child.events.q")
	eventConsumer, err := mq.NewConsumer(cfg.MQ.URL, "child.events.q", "child.#", log)
	if err != nil {
		log.Fatal("Event consumer init failed", zap.Error(err))
	}
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	eventConsumer.SetHandler(eventHandler.Handle)
	eventConsumer.SetDLQPublisher(publisher)
	go func() {
		if err := eventConsumer.StartConsuming(); err != nil {
			log.Fatal("Event consumer crashed", zap.Error(err))
		}
	}()
	defer eventConsumer.Close()

	// outbox dispatcher for notification.sent / notification.failed events

	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, log)
	go dispatcher.Start(ctx)

	// daily retention maintenance
	go runMaintenance(ctx, cfg, notifRepo, logRepo, tokenRepo, log)

	// metrics endpoint
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := ":" + cfg.Server.MetricsPort
		log.Info("Metrics endpoint listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	log.Info("Worker running")
	<-ctx.Done()
	log.Info("Shutdown signal received, draining...")

	// the worker loop returns only between passes, so waiting on it means
	// every in-flight send reached a terminal mark
	<-workerDone
	log.Info("Worker drained")
}

// newPushClient wires the configured push provider. Returns nil when no
// credentials are configured; the adapter reports that through Status()
// instead of failing startup.
func newPushClient(cfg config.PushConfig, log *zap.Logger) channel.Client {
	if !cfg.Enabled || cfg.CredentialsFile == "" {
		return nil
	}
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		log.Warn("Push credentials file missing, push disabled",
			zap.String("path", cfg.CredentialsFile),
			zap.Error(err),
		)
		return nil
	}
	// TODO(push): plug in the FCM client implementation once the provider
	// account is provisioned; the adapter only needs channel.Client.
	return nil
}

func runMaintenance(
	ctx context.Context,
	cfg *config.Config,
	notifRepo *repository.NotificationRepository,
	logRepo *repository.DeliveryLogRepository,
	tokenRepo *repository.DeviceTokenRepository,
	log *zap.Logger,
) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retention := cfg.Delivery.LogRetentionDays

			if n, err := logRepo.Purge(ctx, retention); err != nil {
				log.Error("Delivery log purge failed", zap.Error(err))
			} else if n > 0 {
				log.Info("Purged delivery logs", zap.Int64("count", n))
			}

			if n, err := notifRepo.PurgeTerminal(ctx, retention); err != nil {
				log.Error("Terminal notification purge failed", zap.Error(err))
			} else if n > 0 {
				log.Info("Purged terminal notifications", zap.Int64("count", n))
			}

			if n, err := tokenRepo.PurgeStale(ctx, retention); err != nil {
				log.Error("Stale token purge failed", zap.Error(err))
			} else if n > 0 {
				log.Info("Purged stale device tokens", zap.Int64("count", n))
			}
		}
	}
}
