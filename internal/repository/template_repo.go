package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyhub/internal/model"
)

type TemplateRepository struct {
	db *pgxpool.Pool
}

func NewTemplateRepository(db *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// GetByType returns the template for a notification type, or nil when none
// exists.
func (r *TemplateRepository) GetByType(ctx context.Context, notifType string) (*model.Template, error) {
	query := `
        SELECT type, email_subject, email_body, push_title, push_body, active
        FROM notification_templates
        WHERE type = $1
    `
	var t model.Template
	err := r.db.QueryRow(ctx, query, notifType).Scan(
		&t.Type,
		&t.EmailSubject,
		&t.EmailBody,
		&t.PushTitle,
		&t.PushBody,
		&t.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

func (r *TemplateRepository) Upsert(ctx context.Context, t *model.Template) error {
	query := `
        INSERT INTO notification_templates (type, email_subject, email_body, push_title, push_body, active)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (type)
        DO UPDATE SET email_subject = EXCLUDED.email_subject,
                      email_body = EXCLUDED.email_body,
                      push_title = EXCLUDED.push_title,
                      push_body = EXCLUDED.push_body,
                      active = EXCLUDED.active
    `
	_, err := r.db.Exec(ctx, query, t.Type, t.EmailSubject, t.EmailBody, t.PushTitle, t.PushBody, t.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}
