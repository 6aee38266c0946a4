package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GuardianRepository resolves notification recipients from the guardianship
// relation. Only guardians with an active relation and child data access
// rights receive child-related notifications.
type GuardianRepository struct {
	db *pgxpool.Pool
}

func NewGuardianRepository(db *pgxpool.Pool) *GuardianRepository {
	return &GuardianRepository{db: db}
}

func (r *GuardianRepository) ListGuardianIDs(ctx context.Context, childID string) ([]string, error) {
	query := `
        SELECT guardian_id
        FROM guardianships
        WHERE child_id = $1 AND active = TRUE AND can_view_child_data = TRUE
        ORDER BY guardian_id
    `
	rows, err := r.db.Query(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guardians: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan guardian id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
