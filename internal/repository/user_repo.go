package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository reads recipient contact details. User management itself
// belongs to another subsystem; this engine only needs the email address.
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetEmail(ctx context.Context, recipientID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `
        SELECT email FROM users WHERE id = $1
    `, recipientID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("recipient %s not found", recipientID)
		}
		return "", fmt.Errorf("failed to get recipient email: %w", err)
	}
	return email, nil
}
