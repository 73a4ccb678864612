package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const expertColumns = `id, panel_id, email, name, organization, expertise, status, invited_by, user_id, created_at, updated_at`

// ExpertRepository handles expert database operations
type ExpertRepository struct {
	db *sqlx.DB
}

// NewExpertRepository creates a new expert repository
func NewExpertRepository(db *sqlx.DB) *ExpertRepository {
	return &ExpertRepository{db: db}
}

// CreateIfAbsent inserts an expert row unless the panel already has one for the email.
// It reports whether a row was inserted.
func (r *ExpertRepository) CreateIfAbsent(ctx context.Context, q sqlx.ExtContext, expert *models.Expert) (bool, error) {
	query := `
		INSERT INTO experts (id, panel_id, email, name, organization, expertise, status, invited_by, created_at, updated_at)
		VALUES (:id, :panel_id, :email, :name, :organization, :expertise, :status, :invited_by, :created_at, :updated_at)
		ON CONFLICT (panel_id, email) DO NOTHING
	`
	res, err := sqlx.NamedExecContext(ctx, q, query, expert)
	if err != nil {
		return false, fmt.Errorf("failed to create expert: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to create expert: %w", err)
	}
	return n > 0, nil
}

// ListByPanel returns all experts of a panel
func (r *ExpertRepository) ListByPanel(ctx context.Context, panelID string) ([]models.Expert, error) {
	var experts []models.Expert
	err := r.db.SelectContext(ctx, &experts,
		`SELECT `+expertColumns+` FROM experts WHERE panel_id = $1 ORDER BY created_at`, panelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list experts: %w", err)
	}
	return experts, nil
}

// Respond records an invitee's answer, linking their identity on accept
func (r *ExpertRepository) Respond(ctx context.Context, q sqlx.ExecerContext, panelID, email string, status models.ExpertStatus, userID *string) error {
	query := `
		UPDATE experts
		SET status = $3, user_id = COALESCE($4, user_id), updated_at = NOW()
		WHERE panel_id = $1 AND email = $2
	`
	if _, err := q.ExecContext(ctx, query, panelID, email, status, userID); err != nil {
		return fmt.Errorf("failed to update expert: %w", err)
	}
	return nil
}
