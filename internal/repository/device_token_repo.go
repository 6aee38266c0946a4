package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

// DeviceTokenRepository manages push token lifecycle. Tokens are deactivated
// when the provider reports them invalid and purged only after a retention
// window.
type DeviceTokenRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeviceTokenRepository(db *pgxpool.Pool, logger *zap.Logger) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db, logger: logger}
}

// Register upserts a token. Re-registering an existing token reactivates it
// and moves it to the given recipient.
func (r *DeviceTokenRepository) Register(ctx context.Context, recipientID, token, deviceType string) error {
	query := `
        INSERT INTO device_tokens (recipient_id, token, device_type, active, created_at)
        VALUES ($1, $2, $3, TRUE, NOW())
        ON CONFLICT (token)
        DO UPDATE SET recipient_id = EXCLUDED.recipient_id,
                      device_type = EXCLUDED.device_type,
                      active = TRUE
    `
	_, err := r.db.Exec(ctx, query, recipientID, token, deviceType)
	if err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

func (r *DeviceTokenRepository) ListActiveForRecipient(ctx context.Context, recipientID string) ([]*model.DeviceToken, error) {
	query := `
        SELECT id, recipient_id, token, device_type, active, last_used_at, created_at
        FROM device_tokens
        WHERE recipient_id = $1 AND active = TRUE
        ORDER BY created_at
    `
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.DeviceToken
	for rows.Next() {
		var t model.DeviceToken
		err := rows.Scan(&t.ID, &t.RecipientID, &t.Token, &t.DeviceType, &t.Active, &t.LastUsedAt, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// Deactivate marks a token inactive. Deactivating an already-inactive or
// unknown token is a no-op, so the provider-driven side effect is idempotent.
func (r *DeviceTokenRepository) Deactivate(ctx context.Context, token string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE device_tokens SET active = FALSE WHERE token = $1 AND active = TRUE
    `, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("Deactivated invalid device token",
			zap.String("token_prefix", truncateToken(token)),
		)
	}
	return nil
}

// TouchUsed updates last_used_at for tokens that just received a successful
// delivery.
func (r *DeviceTokenRepository) TouchUsed(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
        UPDATE device_tokens SET last_used_at = NOW() WHERE token = ANY($1)
    `, tokens)
	if err != nil {
		return fmt.Errorf("failed to touch tokens: %w", err)
	}
	return nil
}

// PurgeStale hard-deletes inactive tokens unused beyond the retention window.
func (r *DeviceTokenRepository) PurgeStale(ctx context.Context, retentionDays int) (int64, error) {
	query := `
        DELETE FROM device_tokens
        WHERE active = FALSE
          AND COALESCE(last_used_at, created_at) < NOW() - ($1 * interval '1 day')
    `
	tag, err := r.db.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func truncateToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
