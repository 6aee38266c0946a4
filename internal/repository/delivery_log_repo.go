package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

// LogFilter narrows delivery log queries. Zero values mean "no filter".
type LogFilter struct {
	NotificationID string
	Channel        model.Channel
	Status         string
	Limit          int
	Offset         int
}

// ChannelStatusStat is one row of the channel x status statistics grouping.
type ChannelStatusStat struct {
	Channel model.Channel
	Status  string
	Count   int
	AvgMs   float64
	MinMs   int64
	MaxMs   int64
}

type ErrorCount struct {
	ErrorCode string
	Channel   model.Channel
	Count     int
}

type TimelineBucket struct {
	Hour    time.Time
	Success int
	Failed  int
	Skipped int
}

// DeliveryLogRepository is the append-only audit trail of delivery attempts.
// Entries are inserted once and never updated.
type DeliveryLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeliveryLogRepository(db *pgxpool.Pool, logger *zap.Logger) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db, logger: logger}
}

func (r *DeliveryLogRepository) Insert(ctx context.Context, entry *model.DeliveryLog) error {
	var response []byte
	if entry.ResponseData != nil {
		var err error
		response, err = json.Marshal(entry.ResponseData)
		if err != nil {
			return fmt.Errorf("failed to marshal response data: %w", err)
		}
	}

	query := `
        INSERT INTO delivery_logs
            (notification_id, channel, status, recipient_identifier, attempt_number,
             error_code, error_message, response_data, delivery_time_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
    `
	_, err := r.db.Exec(ctx, query,
		entry.NotificationID,
		string(entry.Channel),
		entry.Status,
		entry.RecipientIdentifier,
		entry.AttemptNumber,
		entry.ErrorCode,
		entry.ErrorMessage,
		response,
		entry.DeliveryTimeMs,
	)
	if err != nil {
		r.logger.Error("Failed to insert delivery log", zap.Error(err))
		return err
	}
	return nil
}

func (r *DeliveryLogRepository) List(ctx context.Context, filter LogFilter) ([]*model.DeliveryLog, error) {
	query := `
        SELECT id, notification_id, channel, status, recipient_identifier,
               attempt_number, error_code, error_message, response_data,
               delivery_time_ms, created_at
        FROM delivery_logs
        WHERE ($1 = '' OR notification_id = $1::uuid)
          AND ($2 = '' OR channel = $2)
          AND ($3 = '' OR status = $3)
        ORDER BY created_at DESC
        LIMIT $4 OFFSET $5
    `
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, query,
		filter.NotificationID, string(filter.Channel), filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.DeliveryLog
	for rows.Next() {
		var e model.DeliveryLog
		var channel string
		var response []byte
		err := rows.Scan(
			&e.ID,
			&e.NotificationID,
			&channel,
			&e.Status,
			&e.RecipientIdentifier,
			&e.AttemptNumber,
			&e.ErrorCode,
			&e.ErrorMessage,
			&response,
			&e.DeliveryTimeMs,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery log: %w", err)
		}
		e.Channel = model.Channel(channel)
		if len(response) > 0 {
			if err := json.Unmarshal(response, &e.ResponseData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response data: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Statistics groups attempts by channel and status with latency aggregates.
func (r *DeliveryLogRepository) Statistics(ctx context.Context, from, to time.Time) ([]ChannelStatusStat, error) {
	query := `
        SELECT channel, status, COUNT(*),
               COALESCE(AVG(delivery_time_ms), 0),
               COALESCE(MIN(delivery_time_ms), 0),
               COALESCE(MAX(delivery_time_ms), 0)
        FROM delivery_logs
        WHERE created_at >= $1 AND created_at < $2
        GROUP BY channel, status
        ORDER BY channel, status
    `
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery statistics: %w", err)
	}
	defer rows.Close()

	var stats []ChannelStatusStat
	for rows.Next() {
		var s ChannelStatusStat
		var channel string
		if err := rows.Scan(&channel, &s.Status, &s.Count, &s.AvgMs, &s.MinMs, &s.MaxMs); err != nil {
			return nil, fmt.Errorf("failed to scan statistic: %w", err)
		}
		s.Channel = model.Channel(channel)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// SuccessRates returns the per-channel success percentage rounded to two
// decimals. Skipped entries are excluded from the denominator: they reflect
// recipient preferences, not delivery health.
func (r *DeliveryLogRepository) SuccessRates(ctx context.Context, from, to time.Time) (map[model.Channel]float64, error) {
	query := `
        SELECT channel,
               ROUND(
                   COUNT(*) FILTER (WHERE status = 'success') * 100.0
                   / NULLIF(COUNT(*) FILTER (WHERE status IN ('success', 'failed')), 0),
                   2
               )
        FROM delivery_logs
        WHERE created_at >= $1 AND created_at < $2
        GROUP BY channel
    `
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query success rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[model.Channel]float64)
	for rows.Next() {
		var channel string
		var rate *float64
		if err := rows.Scan(&channel, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan success rate: %w", err)
		}
		if rate != nil {
			rates[model.Channel(channel)] = *rate
		}
	}
	return rates, rows.Err()
}

func (r *DeliveryLogRepository) TopErrors(ctx context.Context, limit int, channel model.Channel) ([]ErrorCount, error) {
	query := `
        SELECT error_code, channel, COUNT(*)
        FROM delivery_logs
        WHERE status = 'failed'
          AND error_code <> ''
          AND ($2 = '' OR channel = $2)
        GROUP BY error_code, channel
        ORDER BY COUNT(*) DESC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit, string(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to query top errors: %w", err)
	}
	defer rows.Close()

	var errorCounts []ErrorCount
	for rows.Next() {
		var e ErrorCount
		var ch string
		if err := rows.Scan(&e.ErrorCode, &ch, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error count: %w", err)
		}
		e.Channel = model.Channel(ch)
		errorCounts = append(errorCounts, e)
	}
	return errorCounts, rows.Err()
}

// Timeline buckets attempts by hour.
func (r *DeliveryLogRepository) Timeline(ctx context.Context, from, to time.Time) ([]TimelineBucket, error) {
	query := `
        SELECT date_trunc('hour', created_at) AS hour,
               COUNT(*) FILTER (WHERE status = 'success'),
               COUNT(*) FILTER (WHERE status = 'failed'),
               COUNT(*) FILTER (WHERE status = 'skipped')
        FROM delivery_logs
        WHERE created_at >= $1 AND created_at < $2
        GROUP BY hour
        ORDER BY hour
    `
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery timeline: %w", err)
	}
	defer rows.Close()

	var buckets []TimelineBucket
	for rows.Next() {
		var b TimelineBucket
		if err := rows.Scan(&b.Hour, &b.Success, &b.Failed, &b.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan timeline bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Purge deletes log entries older than the retention window.
func (r *DeliveryLogRepository) Purge(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        DELETE FROM delivery_logs
        WHERE created_at < NOW() - ($1 * interval '1 day')
    `, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivery logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
