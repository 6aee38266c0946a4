package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/pkg/outbox"
)

// ErrValidation is returned when an enqueue request is missing required
// fields. Such requests are rejected before persistence and never retried.
var ErrValidation = errors.New("invalid enqueue request")

// ErrNotFound is returned when a notification id does not exist.
var ErrNotFound = errors.New("notification not found")

// QueueStats is a snapshot of queue composition used for health assessment.
type QueueStats struct {
	Pending    int
	Processing int
	SentWindow int
	FailWindow int
	// RecoveredWindow counts notifications sent after more than one attempt,
	// i.e. retries that eventually succeeded.
	RecoveredWindow int
}

// NotificationRepository is the durable queue store. It exclusively owns
// Notification lifecycle transitions.
type NotificationRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:         db,
		outboxRepo: outbox.NewRepository(db),
		logger:     logger,
	}
}

// Enqueue inserts a new pending notification and returns its id.
func (r *NotificationRepository) Enqueue(ctx context.Context, n *model.Notification) (string, error) {
	if n.RecipientID == "" {
		return "", fmt.Errorf("%w: recipient_id is required", ErrValidation)
	}
	if n.Type == "" {
		return "", fmt.Errorf("%w: type is required", ErrValidation)
	}
	switch n.Channel {
	case model.ChannelEmail, model.ChannelPush, model.ChannelBoth:
	case "":
		n.Channel = model.ChannelBoth
	default:
		return "", fmt.Errorf("%w: unknown channel %q", ErrValidation, n.Channel)
	}

	data, err := json.Marshal(n.Data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data payload: %w", err)
	}

	id := uuid.NewString()
	query := `
        INSERT INTO notifications (id, recipient_id, type, title, body, data, channel, status, attempts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, NOW())
    `
	_, err = r.db.Exec(ctx, query, id, n.RecipientID, n.Type, n.Title, n.Body, data, string(n.Channel))
	if err != nil {
		r.logger.Error("Failed to enqueue notification", zap.Error(err))
		return "", err
	}

	r.logger.Info("Notification enqueued",
		zap.String("id", id),
		zap.String("recipient_id", n.RecipientID),
		zap.String("type", n.Type),
		zap.String("channel", string(n.Channel)),
	)
	return id, nil
}

const notificationColumns = `
    id, recipient_id, type, title, body, data, channel, status,
    attempts, last_attempt_at, sent_at, error_message, created_at
`

// ClaimBatch atomically claims up to limit eligible notifications: status
// flips to processing and attempts is incremented in a single conditional
// update, so two concurrent workers can never claim the same row. Eligibility
// mirrors the delivery rules backoff: attempts = 0, or the exponential delay
// since last_attempt_at has elapsed.
func (r *NotificationRepository) ClaimBatch(ctx context.Context, limit, maxAttempts, baseDelayMinutes int) ([]*model.Notification, error) {
	query := `
        UPDATE notifications
        SET status = 'processing', attempts = attempts + 1, last_attempt_at = NOW()
        WHERE id IN (
            SELECT id FROM notifications
            WHERE status = 'pending'
              AND attempts < $2
              AND (attempts = 0
                   OR last_attempt_at + ($3 * power(2, attempts - 1) * interval '1 minute') <= NOW())
            ORDER BY created_at ASC
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + notificationColumns

	rows, err := r.db.Query(ctx, query, limit, maxAttempts, baseDelayMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// ListEligible returns what ClaimBatch would claim, without mutating
// anything. Used by the dry-run pass.
func (r *NotificationRepository) ListEligible(ctx context.Context, limit, maxAttempts, baseDelayMinutes int) ([]*model.Notification, error) {
	query := `
        SELECT ` + notificationColumns + `
        FROM notifications
        WHERE status = 'pending'
          AND attempts < $2
          AND (attempts = 0
               OR last_attempt_at + ($3 * power(2, attempts - 1) * interval '1 minute') <= NOW())
        ORDER BY created_at ASC
        LIMIT $1
    `

	rows, err := r.db.Query(ctx, query, limit, maxAttempts, baseDelayMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkSent transitions a processing notification to terminal sent and records
// a notification.sent outbox event in the same transaction.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var recipientID, notifType, channel string
	err = tx.QueryRow(ctx, `
        UPDATE notifications
        SET status = 'sent', sent_at = NOW(), error_message = NULL
        WHERE id = $1 AND status = 'processing'
        RETURNING recipient_id, type, channel
    `, id).Scan(&recipientID, &notifType, &channel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark sent: %w", err)
	}

	payload := mqcontracts.NotificationSentPayload{
		NotificationID: id,
		RecipientID:    recipientID,
		Type:           notifType,
		Channel:        channel,
		SentAt:         time.Now(),
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "notification", &id, "notification.sent", payload); err != nil {
		return fmt.Errorf("failed to insert notification.sent outbox event: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkFailed records a failed attempt. While attempts < maxAttempts the
// notification reverts to pending for a later retry; once the budget is
// consumed it transitions to terminal failed and a notification.failed outbox
// event is recorded. Returns true when the failure was terminal.
// maxAttempts comes from the delivery rules configuration so the exhaustion
// check here can never disagree with DeliveryRules.HasExhaustedRetries.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, errMsg string, maxAttempts int) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status, recipientID, notifType string
	var attempts int
	err = tx.QueryRow(ctx, `
        UPDATE notifications
        SET status = CASE WHEN attempts >= $3 THEN 'failed' ELSE 'pending' END,
            error_message = $2
        WHERE id = $1 AND status = 'processing'
        RETURNING status, attempts, recipient_id, type
    `, id, errMsg, maxAttempts).Scan(&status, &attempts, &recipientID, &notifType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to mark failed: %w", err)
	}

	terminal := status == string(model.StatusFailed)
	if terminal {
		payload := mqcontracts.NotificationFailedPayload{
			NotificationID: id,
			RecipientID:    recipientID,
			Type:           notifType,
			Error:          errMsg,
			Attempts:       attempts,
		}
		if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "notification", &id, "notification.failed", payload); err != nil {
			return false, fmt.Errorf("failed to insert notification.failed outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return terminal, nil
}

// MarkFailedPermanent fails a notification immediately, regardless of the
// remaining attempts budget. Used when every channel was disabled or the
// provider positively classified the failure as permanent.
func (r *NotificationRepository) MarkFailedPermanent(ctx context.Context, id, errMsg string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var recipientID, notifType string
	var attempts int
	err = tx.QueryRow(ctx, `
        UPDATE notifications
        SET status = 'failed', error_message = $2
        WHERE id = $1 AND status = 'processing'
        RETURNING attempts, recipient_id, type
    `, id, errMsg).Scan(&attempts, &recipientID, &notifType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark permanently failed: %w", err)
	}

	payload := mqcontracts.NotificationFailedPayload{
		NotificationID: id,
		RecipientID:    recipientID,
		Type:           notifType,
		Error:          errMsg,
		Attempts:       attempts,
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "notification", &id, "notification.failed", payload); err != nil {
		return fmt.Errorf("failed to insert notification.failed outbox event: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	if len(notifications) == 0 {
		return nil, ErrNotFound
	}
	return notifications[0], nil
}

// ReleaseStale reverts processing rows whose attempt started longer than
// olderThan ago back to pending. A hung provider call must not leave a row
// stuck in processing forever.
func (r *NotificationRepository) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
        UPDATE notifications
        SET status = 'pending'
        WHERE status = 'processing'
          AND last_attempt_at < NOW() - ($1 * interval '1 second')
    `
	tag, err := r.db.Exec(ctx, query, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale notifications: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Warn("Released stale processing notifications",
			zap.Int64("count", tag.RowsAffected()),
		)
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminal deletes sent/failed notifications older than the retention
// window. Delivery logs cascade with their notification.
func (r *NotificationRepository) PurgeTerminal(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
        DELETE FROM notifications
        WHERE status IN ('sent', 'failed')
          AND created_at < NOW() - ($1 * interval '1 day')
    `
	tag, err := r.db.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns queue composition counts; windowed counts cover the last
// window duration.
func (r *NotificationRepository) Stats(ctx context.Context, window time.Duration) (*QueueStats, error) {
	var s QueueStats
	query := `
        SELECT
            COUNT(*) FILTER (WHERE status = 'pending'),
            COUNT(*) FILTER (WHERE status = 'processing'),
            COUNT(*) FILTER (WHERE status = 'sent' AND sent_at >= NOW() - $1::interval),
            COUNT(*) FILTER (WHERE status = 'failed' AND last_attempt_at >= NOW() - $1::interval),
            COUNT(*) FILTER (WHERE status = 'sent' AND attempts > 1 AND sent_at >= NOW() - $1::interval)
        FROM notifications
    `
	err := r.db.QueryRow(ctx, query, window).Scan(
		&s.Pending,
		&s.Processing,
		&s.SentWindow,
		&s.FailWindow,
		&s.RecoveredWindow,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	return &s, nil
}

func scanNotifications(rows pgx.Rows) ([]*model.Notification, error) {
	var notifications []*model.Notification
	for rows.Next() {
		var n model.Notification
		var data []byte
		var channel, status string
		err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.Type,
			&n.Title,
			&n.Body,
			&data,
			&channel,
			&status,
			&n.Attempts,
			&n.LastAttemptAt,
			&n.SentAt,
			&n.ErrorMessage,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Channel = model.Channel(channel)
		n.Status = model.Status(status)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal data payload: %w", err)
			}
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}
