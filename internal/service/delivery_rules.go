package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

// HealthStatus values for queue health assessment.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// RulesQueueStore is the slice of the queue store the rules service needs for
// diagnostics.
type RulesQueueStore interface {
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	Stats(ctx context.Context, window time.Duration) (*repository.QueueStats, error)
}

// RetryInfo is a diagnostic projection of a notification's retry state.
type RetryInfo struct {
	Attempts     int
	MaxAttempts  int
	Remaining    int
	NextRetryAt  *time.Time
	IsReady      bool
	CurrentDelay time.Duration
	NextDelay    time.Duration
}

// QueueHealth summarizes queue condition for operators.
type QueueHealth struct {
	Status          string
	PendingDepth    int
	FailureRate     float64
	RecoveryRate    float64
	Recommendations []string
}

// DeliveryRules owns retry timing and eligibility policy, isolated from
// storage. Configuration is passed at construction, never read from ambient
// state.
type DeliveryRules struct {
	cfg    config.DeliveryConfig
	store  RulesQueueStore
	logger *zap.Logger
	now    func() time.Time
}

func NewDeliveryRules(cfg config.DeliveryConfig, store RulesQueueStore, logger *zap.Logger) *DeliveryRules {
	return &DeliveryRules{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RetryDelayMinutes is the canonical exponential backoff formula:
// 0 for attempt <= 0, otherwise base * 2^(attempt-1).
func RetryDelayMinutes(attemptNumber, baseDelayMinutes int) int {
	if attemptNumber <= 0 {
		return 0
	}
	return baseDelayMinutes << (attemptNumber - 1)
}

// CalculateRetryDelay returns the delay before the next attempt given the
// number of attempts already made.
func (s *DeliveryRules) CalculateRetryDelay(attemptNumber int) time.Duration {
	return time.Duration(RetryDelayMinutes(attemptNumber, s.cfg.RetryDelayMinutes)) * time.Minute
}

// IsReadyForRetry reports whether enough time has passed since the last
// attempt. A never-attempted notification is always ready.
func (s *DeliveryRules) IsReadyForRetry(n *model.Notification) bool {
	if n.Attempts == 0 || n.LastAttemptAt == nil {
		return true
	}
	return !s.now().Before(n.LastAttemptAt.Add(s.CalculateRetryDelay(n.Attempts)))
}

func (s *DeliveryRules) HasExhaustedRetries(n *model.Notification) bool {
	return n.Attempts >= s.cfg.MaxAttempts
}

// ShouldAttemptDelivery is the full eligibility check: pending, budget left,
// and backoff elapsed.
func (s *DeliveryRules) ShouldAttemptDelivery(n *model.Notification) bool {
	return n.Status == model.StatusPending &&
		!s.HasExhaustedRetries(n) &&
		s.IsReadyForRetry(n)
}

// MaxAttempts exposes the configured attempts budget so the queue store's
// exhaustion check is always fed from the same policy.
func (s *DeliveryRules) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

func (s *DeliveryRules) BaseDelayMinutes() int {
	return s.cfg.RetryDelayMinutes
}

// GetRetryInfo projects a notification's retry state for operators.
func (s *DeliveryRules) GetRetryInfo(ctx context.Context, id string) (*RetryInfo, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	info := &RetryInfo{
		Attempts:     n.Attempts,
		MaxAttempts:  s.cfg.MaxAttempts,
		Remaining:    s.cfg.MaxAttempts - n.Attempts,
		IsReady:      s.IsReadyForRetry(n),
		CurrentDelay: s.CalculateRetryDelay(n.Attempts),
		NextDelay:    s.CalculateRetryDelay(n.Attempts + 1),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if n.LastAttemptAt != nil && n.Attempts > 0 {
		next := n.LastAttemptAt.Add(info.CurrentDelay)
		info.NextRetryAt = &next
	}
	return info, nil
}

// AssessQueueHealth derives a health status from queue depth, failure rate
// and retry recovery over the last 24 hours.
func (s *DeliveryRules) AssessQueueHealth(ctx context.Context) (*QueueHealth, error) {
	stats, err := s.store.Stats(ctx, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue stats: %w", err)
	}
	return s.assess(stats), nil
}

func (s *DeliveryRules) assess(stats *repository.QueueStats) *QueueHealth {
	h := &QueueHealth{
		Status:       HealthHealthy,
		PendingDepth: stats.Pending,
	}

	finished := stats.SentWindow + stats.FailWindow
	if finished > 0 {
		h.FailureRate = float64(stats.FailWindow) / float64(finished)
	}
	if stats.SentWindow > 0 {
		h.RecoveryRate = float64(stats.RecoveredWindow) / float64(stats.SentWindow)
	}

	th := s.cfg.Health

	if h.FailureRate > th.FailureRateWarning {
		h.Status = HealthWarning
		h.Recommendations = append(h.Recommendations,
			fmt.Sprintf("failure rate %.0f%% exceeds %.0f%%: check provider status and recent error codes",
				h.FailureRate*100, th.FailureRateWarning*100))
	}
	if stats.Pending > th.PendingWarning {
		h.Status = HealthWarning
		h.Recommendations = append(h.Recommendations,
			fmt.Sprintf("pending backlog at %d: consider raising batch size or worker frequency", stats.Pending))
	}
	if h.FailureRate > th.FailureRateCritical {
		h.Status = HealthCritical
	}
	if stats.Pending > th.PendingCritical {
		h.Status = HealthCritical
	}
	if stats.Processing > 0 && stats.SentWindow == 0 && stats.FailWindow == 0 {
		h.Recommendations = append(h.Recommendations,
			fmt.Sprintf("%d notifications in processing with no recent outcomes: worker may be stalled", stats.Processing))
	}

	if s.logger != nil && h.Status != HealthHealthy {
		s.logger.Warn("Queue health degraded",
			zap.String("status", h.Status),
			zap.Int("pending", h.PendingDepth),
			zap.Float64("failure_rate", h.FailureRate),
		)
	}
	return h
}
