package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const invitationColumns = `id, panel_id, panel_name, email, name, token, status, invited_by, expires_at, responded_at, created_at`

// InvitationRepository handles panel invitation database operations
type InvitationRepository struct {
	db *sqlx.DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *sqlx.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Create inserts a new invitation
func (r *InvitationRepository) Create(ctx context.Context, q sqlx.ExtContext, inv *models.PanelInvitation) error {
	query := `
		INSERT INTO panel_invitations (id, panel_id, panel_name, email, name, token, status, invited_by, expires_at, created_at)
		VALUES (:id, :panel_id, :panel_name, :email, :name, :token, :status, :invited_by, :expires_at, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, q, query, inv); err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetByID retrieves an invitation by ID
func (r *InvitationRepository) GetByID(ctx context.Context, id string) (*models.PanelInvitation, error) {
	inv, err := getOne[models.PanelInvitation](ctx, r.db,
		`SELECT `+invitationColumns+` FROM panel_invitations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// GetByTokenForUpdate retrieves and locks an invitation by token
func (r *InvitationRepository) GetByTokenForUpdate(ctx context.Context, tx *sqlx.Tx, token string) (*models.PanelInvitation, error) {
	inv, err := getOne[models.PanelInvitation](ctx, tx,
		`SELECT `+invitationColumns+` FROM panel_invitations WHERE token = $1 FOR UPDATE`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// GetByToken retrieves an invitation by token
func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*models.PanelInvitation, error) {
	inv, err := getOne[models.PanelInvitation](ctx, r.db,
		`SELECT `+invitationColumns+` FROM panel_invitations WHERE token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListByPanel returns a panel's invitations, newest first
func (r *InvitationRepository) ListByPanel(ctx context.Context, panelID string) ([]models.PanelInvitation, error) {
	var invs []models.PanelInvitation
	err := r.db.SelectContext(ctx, &invs,
		`SELECT `+invitationColumns+` FROM panel_invitations WHERE panel_id = $1 ORDER BY created_at DESC`, panelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invs, nil
}

// HasPending reports whether email already has a pending invitation to the panel
func (r *InvitationRepository) HasPending(ctx context.Context, q sqlx.QueryerContext, panelID, email string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM panel_invitations WHERE panel_id = $1 AND email = $2 AND status = 'pending')`,
		panelID, email)
	if err != nil {
		return false, fmt.Errorf("failed to check pending invitation: %w", err)
	}
	return exists, nil
}

// SetStatus moves a pending invitation to status. It reports false when the
// invitation was no longer pending.
func (r *InvitationRepository) SetStatus(ctx context.Context, q sqlx.ExecerContext, id string, status models.InvitationStatus, respondedAt *time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE panel_invitations SET status = $2, responded_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, status, respondedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update invitation: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to update invitation: %w", err)
	}
	return n > 0, nil
}

// ResetExpiry pushes back a pending invitation's expiry
func (r *InvitationRepository) ResetExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE panel_invitations SET expires_at = $2 WHERE id = $1 AND status = 'pending'`, id, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to reset invitation expiry: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to reset invitation expiry: %w", err)
	}
	return n > 0, nil
}

// ExpirePastDue marks every pending invitation whose expiry is before now as expired
func (r *InvitationRepository) ExpirePastDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE panel_invitations SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return rowsAffected(res)
}
