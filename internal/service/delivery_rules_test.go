package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

type fakeRulesStore struct {
	notification *model.Notification
	stats        *repository.QueueStats
}

func (f *fakeRulesStore) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	return f.notification, nil
}

func (f *fakeRulesStore) Stats(ctx context.Context, window time.Duration) (*repository.QueueStats, error) {
	return f.stats, nil
}

func testDeliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		MaxAttempts:       3,
		RetryDelayMinutes: 5,
		Health: config.HealthThresholds{
			PendingWarning:      500,
			PendingCritical:     1000,
			FailureRateWarning:  0.10,
			FailureRateCritical: 0.20,
		},
	}
}

func TestRetryDelayMinutes(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{0, 0},
		{-1, 0},
		{1, 5},
		{2, 10},
		{3, 20},
		{4, 40},
	}
	for _, c := range cases {
		if got := RetryDelayMinutes(c.attempt, 5); got != c.want {
			t.Errorf("RetryDelayMinutes(%d, 5) = %d, want %d", c.attempt, got, c.want)
		}
	}
}

func TestIsReadyForRetry(t *testing.T) {
	rules := NewDeliveryRules(testDeliveryConfig(), nil, zap.NewNop())

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	last := base.Add(-9 * time.Minute)
	n := &model.Notification{Attempts: 2, LastAttemptAt: &last}

	// attempts=2 means a 10 minute delay; 9 minutes elapsed is too early
	rules.now = func() time.Time { return base }
	if rules.IsReadyForRetry(n) {
		t.Fatal("expected not ready 9 minutes after second attempt")
	}

	rules.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !rules.IsReadyForRetry(n) {
		t.Fatal("expected ready 11 minutes after second attempt")
	}
}

func TestIsReadyForRetryNeverAttempted(t *testing.T) {
	rules := NewDeliveryRules(testDeliveryConfig(), nil, zap.NewNop())
	if !rules.IsReadyForRetry(&model.Notification{Attempts: 0}) {
		t.Fatal("never-attempted notification must be immediately ready")
	}
}

func TestShouldAttemptDelivery(t *testing.T) {
	rules := NewDeliveryRules(testDeliveryConfig(), nil, zap.NewNop())

	if !rules.ShouldAttemptDelivery(&model.Notification{Status: model.StatusPending}) {
		t.Fatal("fresh pending notification should be attempted")
	}
	if rules.ShouldAttemptDelivery(&model.Notification{Status: model.StatusSent}) {
		t.Fatal("sent notification must never be attempted")
	}
	if rules.ShouldAttemptDelivery(&model.Notification{Status: model.StatusPending, Attempts: 3}) {
		t.Fatal("exhausted notification must never be attempted")
	}
}

func TestGetRetryInfo(t *testing.T) {
	last := time.Now().Add(-time.Hour)
	store := &fakeRulesStore{
		notification: &model.Notification{
			ID:            "n1",
			Status:        model.StatusPending,
			Attempts:      2,
			LastAttemptAt: &last,
		},
	}
	rules := NewDeliveryRules(testDeliveryConfig(), store, zap.NewNop())

	info, err := rules.GetRetryInfo(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetRetryInfo failed: %v", err)
	}
	if info.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", info.Remaining)
	}
	if info.CurrentDelay != 10*time.Minute {
		t.Errorf("CurrentDelay = %s, want 10m", info.CurrentDelay)
	}
	if info.NextDelay != 20*time.Minute {
		t.Errorf("NextDelay = %s, want 20m", info.NextDelay)
	}
	if !info.IsReady {
		t.Error("an hour past a 10 minute delay should be ready")
	}
	if info.NextRetryAt == nil {
		t.Error("NextRetryAt should be set once attempted")
	}
}

func TestAssessQueueHealth(t *testing.T) {
	cases := []struct {
		name  string
		stats repository.QueueStats
		want  string
	}{
		{"empty queue", repository.QueueStats{}, HealthHealthy},
		{"normal load", repository.QueueStats{Pending: 100, SentWindow: 95, FailWindow: 5}, HealthHealthy},
		{"elevated failures", repository.QueueStats{Pending: 10, SentWindow: 85, FailWindow: 15}, HealthWarning},
		{"deep backlog", repository.QueueStats{Pending: 600, SentWindow: 99, FailWindow: 1}, HealthWarning},
		{"failure storm", repository.QueueStats{Pending: 10, SentWindow: 70, FailWindow: 30}, HealthCritical},
		{"backlog overflow", repository.QueueStats{Pending: 1500}, HealthCritical},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := &fakeRulesStore{stats: &c.stats}
			rules := NewDeliveryRules(testDeliveryConfig(), store, zap.NewNop())

			h, err := rules.AssessQueueHealth(context.Background())
			if err != nil {
				t.Fatalf("AssessQueueHealth failed: %v", err)
			}
			if h.Status != c.want {
				t.Errorf("status = %s, want %s", h.Status, c.want)
			}
		})
	}
}

func TestAssessQueueHealthRecoveryRate(t *testing.T) {
	store := &fakeRulesStore{stats: &repository.QueueStats{
		SentWindow:      100,
		RecoveredWindow: 25,
	}}
	rules := NewDeliveryRules(testDeliveryConfig(), store, zap.NewNop())

	h, err := rules.AssessQueueHealth(context.Background())
	if err != nil {
		t.Fatalf("AssessQueueHealth failed: %v", err)
	}
	if h.RecoveryRate != 0.25 {
		t.Errorf("recovery rate = %v, want 0.25", h.RecoveryRate)
	}
}
