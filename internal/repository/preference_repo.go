package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
)

// PreferenceRepository stores explicit per-recipient channel preferences.
// Absence of a row means both channels are enabled.
type PreferenceRepository struct {
	db *pgxpool.Pool
}

func NewPreferenceRepository(db *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored preference, or nil when none exists.
func (r *PreferenceRepository) Get(ctx context.Context, recipientID, notifType string) (*model.Preference, error) {
	query := `
        SELECT recipient_id, type, email_enabled, push_enabled
        FROM notification_preferences
        WHERE recipient_id = $1 AND type = $2
    `
	var p model.Preference
	err := r.db.QueryRow(ctx, query, recipientID, notifType).Scan(
		&p.RecipientID,
		&p.Type,
		&p.EmailEnabled,
		&p.PushEnabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return &p, nil
}

func (r *PreferenceRepository) Upsert(ctx context.Context, p *model.Preference) error {
	query := `
        INSERT INTO notification_preferences (recipient_id, type, email_enabled, push_enabled)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (recipient_id, type)
        DO UPDATE SET email_enabled = EXCLUDED.email_enabled, push_enabled = EXCLUDED.push_enabled
    `
	_, err := r.db.Exec(ctx, query, p.RecipientID, p.Type, p.EmailEnabled, p.PushEnabled)
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

// Delete removes one preference row, restoring default-enabled behavior for
// that type.
func (r *PreferenceRepository) Delete(ctx context.Context, recipientID, notifType string) error {
	_, err := r.db.Exec(ctx, `
        DELETE FROM notification_preferences WHERE recipient_id = $1 AND type = $2
    `, recipientID, notifType)
	return err
}

// DeleteAll removes every preference row for a recipient.
func (r *PreferenceRepository) DeleteAll(ctx context.Context, recipientID string) error {
	_, err := r.db.Exec(ctx, `
        DELETE FROM notification_preferences WHERE recipient_id = $1
    `, recipientID)
	return err
}

func (r *PreferenceRepository) ListForRecipient(ctx context.Context, recipientID string) ([]*model.Preference, error) {
	query := `
        SELECT recipient_id, type, email_enabled, push_enabled
        FROM notification_preferences
        WHERE recipient_id = $1
        ORDER BY type
    `
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*model.Preference
	for rows.Next() {
		var p model.Preference
		if err := rows.Scan(&p.RecipientID, &p.Type, &p.EmailEnabled, &p.PushEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, &p)
	}
	return prefs, rows.Err()
}
