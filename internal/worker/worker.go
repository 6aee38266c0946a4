package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/channel"
	"notifyhub/internal/config"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/metrics"
)

// QueueStore is the queue surface the worker drives. The claim is atomic at
// the storage level: two workers never receive the same row.
type QueueStore interface {
	ClaimBatch(ctx context.Context, limit, maxAttempts, baseDelayMinutes int) ([]*model.Notification, error)
	ListEligible(ctx context.Context, limit, maxAttempts, baseDelayMinutes int) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string, maxAttempts int) (bool, error)
	MarkFailedPermanent(ctx context.Context, id, errMsg string) error
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context, window time.Duration) (*repository.QueueStats, error)
}

// ChannelResolver applies recipient preferences to the requested channel.
type ChannelResolver interface {
	DetermineEffectiveChannel(ctx context.Context, recipientID, notifType string, requested model.Channel) (model.Channel, error)
}

// DeliveryLogStore records every attempt, append-only.
type DeliveryLogStore interface {
	Insert(ctx context.Context, entry *model.DeliveryLog) error
}

// RetryPolicy supplies the attempts budget and backoff base so the worker and
// the store always apply the same policy.
type RetryPolicy interface {
	MaxAttempts() int
	BaseDelayMinutes() int
}

// PreviewItem describes one notification a dry-run pass would have attempted.
type PreviewItem struct {
	ID          string
	RecipientID string
	Type        string
	Channel     model.Channel
}

// PassReport summarizes one worker pass.
type PassReport struct {
	Claimed   int
	Sent      int
	Retried   int
	Failed    int
	WouldSend []PreviewItem
}

// Worker claims eligible notifications and drives them through the channel
// adapters. Items are processed concurrently but each item's terminal status
// is decided exactly once, after every applicable channel was attempted.
type Worker struct {
	store    QueueStore
	prefs    ChannelResolver
	logs     DeliveryLogStore
	policy   RetryPolicy
	adapters map[model.Channel]channel.Adapter
	cfg      config.DeliveryConfig
	logger   *zap.Logger
	dryRun   bool
}

func New(
	store QueueStore,
	prefs ChannelResolver,
	logs DeliveryLogStore,
	policy RetryPolicy,
	adapters []channel.Adapter,
	cfg config.DeliveryConfig,
	logger *zap.Logger,
) *Worker {
	byChannel := make(map[model.Channel]channel.Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &Worker{
		store:    store,
		prefs:    prefs,
		logs:     logs,
		policy:   policy,
		adapters: byChannel,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithDryRun returns a copy that previews eligible work without mutating
// anything.
func (w *Worker) WithDryRun() *Worker {
	clone := *w
	clone.dryRun = true
	return &clone
}

// Start runs worker passes on a fixed interval until ctx is cancelled.
// In-flight sends complete before Start returns.
func (w *Worker) Start(ctx context.Context) {
	interval := time.Duration(w.cfg.IntervalSeconds) * time.Second
	w.logger.Info("Starting queue worker",
		zap.Duration("interval", interval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("concurrency", w.cfg.Concurrency),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Queue worker stopped")
			return
		case <-ticker.C:
			// the pass runs on a detached context so claims made before a
			// shutdown signal still reach a terminal mark
			if _, err := w.RunOnce(context.WithoutCancel(ctx)); err != nil {
				w.logger.Error("Worker pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single pass: reconcile stale claims, claim a batch, and
// process it. With dry-run enabled it only reports what would be attempted.
func (w *Worker) RunOnce(ctx context.Context) (*PassReport, error) {
	report := &PassReport{}

	if w.dryRun {
		batch, err := w.store.ListEligible(ctx, w.cfg.BatchSize, w.policy.MaxAttempts(), w.policy.BaseDelayMinutes())
		if err != nil {
			return nil, fmt.Errorf("failed to list eligible notifications: %w", err)
		}
		for _, n := range batch {
			effective, err := w.prefs.DetermineEffectiveChannel(ctx, n.RecipientID, n.Type, n.Channel)
			if err != nil {
				effective = n.Channel
			}
			report.WouldSend = append(report.WouldSend, PreviewItem{
				ID:          n.ID,
				RecipientID: n.RecipientID,
				Type:        n.Type,
				Channel:     effective,
			})
		}
		report.Claimed = len(batch)
		return report, nil
	}

	if _, err := w.store.ReleaseStale(ctx, time.Duration(w.cfg.StaleAfterMinutes)*time.Minute); err != nil {
		w.logger.Error("Stale reconciliation failed", zap.Error(err))
	}

	batch, err := w.store.ClaimBatch(ctx, w.cfg.BatchSize, w.policy.MaxAttempts(), w.policy.BaseDelayMinutes())
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	report.Claimed = len(batch)

	if len(batch) > 0 {
		w.logger.Info("Claimed notification batch", zap.Int("count", len(batch)))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.Concurrency)

	for _, n := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(n *model.Notification) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := w.process(ctx, n)

			mu.Lock()
			switch outcome {
			case model.StatusSent:
				report.Sent++
			case model.StatusFailed:
				report.Failed++
			default:
				report.Retried++
			}
			mu.Unlock()
		}(n)
	}
	wg.Wait()

	w.refreshQueueGauges(ctx)
	return report, nil
}

// process drives one claimed notification to a single terminal decision and
// never lets an individual failure escape the pass.
func (w *Worker) process(ctx context.Context, n *model.Notification) (outcome model.Status) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while processing notification",
				zap.String("id", n.ID),
				zap.Any("panic", r),
			)
			outcome = w.fail(ctx, n, fmt.Sprintf("panic: %v", r), false)
		}
	}()

	effective, err := w.prefs.DetermineEffectiveChannel(ctx, n.RecipientID, n.Type, n.Channel)
	if err != nil {
		w.logger.Error("Preference lookup failed",
			zap.String("id", n.ID),
			zap.Error(err),
		)
		return w.fail(ctx, n, fmt.Sprintf("preference lookup failed: %v", err), false)
	}

	requested := expandChannels(n.Channel)
	attempted := expandChannels(effective)

	// a requested channel the recipient disabled is logged as skipped, not
	// failed
	for _, ch := range requested {
		if !containsChannel(attempted, ch) {
			w.logAttempt(ctx, n, ch, &channel.DeliveryResult{
				ErrorCode:    channel.CodeTypeDisabled,
				ErrorMessage: "recipient disabled this channel for the notification type",
			}, model.DeliverySkipped)
		}
	}

	if effective == model.ChannelNone {
		if err := w.store.MarkFailedPermanent(ctx, n.ID, "all requested channels disabled by recipient preferences"); err != nil {
			w.logger.Error("Failed to mark notification failed", zap.String("id", n.ID), zap.Error(err))
		}
		metrics.IncrementProcessed("failed")
		return model.StatusFailed
	}

	var results []*channel.DeliveryResult
	for _, ch := range attempted {
		adapter, ok := w.adapters[ch]
		if !ok {
			w.logger.Error("No adapter registered for channel", zap.String("channel", string(ch)))
			continue
		}

		res := adapter.Send(ctx, n)
		results = append(results, res)

		status := model.DeliveryFailed
		if res.Success {
			status = model.DeliverySuccess
		}
		w.logAttempt(ctx, n, ch, res, status)
		metrics.RecordDeliveryLatency(string(ch), status, res.DeliveryTimeMs)
	}

	// sent when at least one channel succeeded
	for _, res := range results {
		if res.Success {
			if err := w.store.MarkSent(ctx, n.ID); err != nil {
				w.logger.Error("Failed to mark notification sent", zap.String("id", n.ID), zap.Error(err))
			}
			metrics.IncrementProcessed("sent")
			return model.StatusSent
		}
	}

	allPermanent := len(results) > 0
	var reasons []string
	for _, res := range results {
		if !res.Permanent {
			allPermanent = false
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", res.ErrorCode, res.ErrorMessage))
	}

	return w.fail(ctx, n, strings.Join(reasons, "; "), allPermanent)
}

func (w *Worker) fail(ctx context.Context, n *model.Notification, reason string, permanent bool) model.Status {
	if permanent {
		if err := w.store.MarkFailedPermanent(ctx, n.ID, reason); err != nil {
			w.logger.Error("Failed to mark notification failed", zap.String("id", n.ID), zap.Error(err))
		}
		metrics.IncrementProcessed("failed")
		return model.StatusFailed
	}

	terminal, err := w.store.MarkFailed(ctx, n.ID, reason, w.policy.MaxAttempts())
	if err != nil {
		w.logger.Error("Failed to mark notification failed", zap.String("id", n.ID), zap.Error(err))
		return model.StatusPending
	}
	if terminal {
		w.logger.Warn("Notification exhausted retries",
			zap.String("id", n.ID),
			zap.Int("attempts", n.Attempts),
		)
		metrics.IncrementProcessed("failed")
		return model.StatusFailed
	}
	metrics.IncrementProcessed("retried")
	return model.StatusPending
}

func (w *Worker) logAttempt(ctx context.Context, n *model.Notification, ch model.Channel, res *channel.DeliveryResult, status string) {
	entry := &model.DeliveryLog{
		NotificationID:      n.ID,
		Channel:             ch,
		Status:              status,
		RecipientIdentifier: res.Target,
		AttemptNumber:       n.Attempts,
		ErrorCode:           res.ErrorCode,
		ErrorMessage:        res.ErrorMessage,
		ResponseData:        res.ProviderResponse,
		DeliveryTimeMs:      res.DeliveryTimeMs,
	}
	if err := w.logs.Insert(ctx, entry); err != nil {
		w.logger.Error("Failed to write delivery log",
			zap.String("notification_id", n.ID),
			zap.String("channel", string(ch)),
			zap.Error(err),
		)
	}
}

func (w *Worker) refreshQueueGauges(ctx context.Context) {
	stats, err := w.store.Stats(ctx, 24*time.Hour)
	if err != nil {
		w.logger.Error("Failed to refresh queue gauges", zap.Error(err))
		return
	}
	metrics.SetQueueDepth(string(model.StatusPending), stats.Pending)
	metrics.SetQueueDepth(string(model.StatusProcessing), stats.Processing)
}

func expandChannels(c model.Channel) []model.Channel {
	switch c {
	case model.ChannelBoth:
		return []model.Channel{model.ChannelEmail, model.ChannelPush}
	case model.ChannelEmail, model.ChannelPush:
		return []model.Channel{c}
	default:
		return nil
	}
}

func containsChannel(channels []model.Channel, c model.Channel) bool {
	for _, ch := range channels {
		if ch == c {
			return true
		}
	}
	return false
}
