// notifyq triggers a single queue worker pass. Intended for cron setups and
// operational poking; with -dry-run it mutates nothing and reports what a
// real pass would attempt.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/channel"
	"notifyhub/internal/config"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/internal/worker"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
)

func main() {
	batchSize := flag.Int("batch", 0, "batch size for this pass (default: configured batch size)")
	dryRun := flag.Bool("dry-run", false, "report what would be sent without any state mutation")
	showHealth := flag.Bool("health", false, "print queue health assessment after the pass")
	showStats := flag.Bool("stats", false, "print delivery statistics for the last 24h instead of running a pass")
	flag.Parse()

	cfg := config.Load()
	if *batchSize > 0 {
		cfg.Delivery.BatchSize = *batchSize
	}

	log := logger.NewLogger()
	defer log.Sync()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	notifRepo := repository.NewNotificationRepository(dbConn, log)
	prefRepo := repository.NewPreferenceRepository(dbConn)
	tokenRepo := repository.NewDeviceTokenRepository(dbConn, log)
	logRepo := repository.NewDeliveryLogRepository(dbConn, log)
	userRepo := repository.NewUserRepository(dbConn)

	rules := service.NewDeliveryRules(cfg.Delivery, notifRepo, log)
	prefs := service.NewPreferenceService(prefRepo, log)

	adapters := []channel.Adapter{
		channel.NewEmailAdapter(cfg.SMTP, userRepo, log),
		channel.NewPushAdapter(cfg.Push, nil, tokenRepo, log),
	}

	qw := worker.New(notifRepo, prefs, logRepo, rules, adapters, cfg.Delivery, log)
	if *dryRun {
		qw = qw.WithDryRun()
	}

	ctx := context.Background()

	if *showStats {
		if err := printStats(ctx, logRepo); err != nil {
			log.Fatal("Statistics query failed", zap.Error(err))
		}
		return
	}
	report, err := qw.RunOnce(ctx)
	if err != nil {
		log.Fatal("Worker pass failed", zap.Error(err))
	}

	if *dryRun {
		fmt.Printf("dry run: %d eligible notification(s)\n", report.Claimed)
		for _, item := range report.WouldSend {
			fmt.Printf("  would send %s type=%s recipient=%s channel=%s\n",
				item.ID, item.Type, item.RecipientID, item.Channel)
		}
	} else {
		fmt.Printf("pass complete: claimed=%d sent=%d retried=%d failed=%d\n",
			report.Claimed, report.Sent, report.Retried, report.Failed)
	}

	if *showHealth {
		health, err := rules.AssessQueueHealth(ctx)
		if err != nil {
			log.Error("Health assessment failed", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("queue health: %s (pending=%d failure_rate=%.2f%%)\n",
			health.Status, health.PendingDepth, health.FailureRate*100)
		for _, rec := range health.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
}

func printStats(ctx context.Context, logRepo *repository.DeliveryLogRepository) error {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	stats, err := logRepo.Statistics(ctx, from, to)
	if err != nil {
		return err
	}
	fmt.Println("delivery attempts (last 24h):")
	for _, s := range stats {
		fmt.Printf("  %-6s %-8s count=%-6d avg=%.0fms min=%dms max=%dms\n",
			s.Channel, s.Status, s.Count, s.AvgMs, s.MinMs, s.MaxMs)
	}

	rates, err := logRepo.SuccessRates(ctx, from, to)
	if err != nil {
		return err
	}
	fmt.Println("success rates (skipped excluded):")
	for ch, rate := range rates {
		fmt.Printf("  %-6s %.2f%%\n", ch, rate)
	}

	errs, err := logRepo.TopErrors(ctx, 5, "")
	if err != nil {
		return err
	}
	fmt.Println("top errors:")
	for _, e := range errs {
		fmt.Printf("  %-20s %-6s count=%d\n", e.ErrorCode, e.Channel, e.Count)
	}
	return nil
}
