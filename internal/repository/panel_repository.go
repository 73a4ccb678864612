package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const panelColumns = `id, name, description, creator_id, admin_ids, expert_ids, status, created_at, updated_at`

// PanelRepository handles panel database operations
type PanelRepository struct {
	db *sqlx.DB
}

// NewPanelRepository creates a new panel repository
func NewPanelRepository(db *sqlx.DB) *PanelRepository {
	return &PanelRepository{db: db}
}

// Create inserts a new panel
func (r *PanelRepository) Create(ctx context.Context, panel *models.Panel) error {
	query := `
		INSERT INTO panels (id, name, description, creator_id, admin_ids, expert_ids, status, created_at, updated_at)
		VALUES (:id, :name, :description, :creator_id, :admin_ids, :expert_ids, :status, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, panel); err != nil {
		return fmt.Errorf("failed to create panel: %w", err)
	}
	return nil
}

// GetByID retrieves a panel by ID
func (r *PanelRepository) GetByID(ctx context.Context, id string) (*models.Panel, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

// GetByIDTx retrieves a panel by ID using q
func (r *PanelRepository) GetByIDTx(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Panel, error) {
	panel, err := getOne[models.Panel](ctx, q, `SELECT `+panelColumns+` FROM panels WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get panel: %w", err)
	}
	return panel, nil
}

// ListForUser returns panels the user administers or belongs to as an expert
func (r *PanelRepository) ListForUser(ctx context.Context, userID string) ([]models.Panel, error) {
	query := `
		SELECT ` + panelColumns + `
		FROM panels
		WHERE $1 = ANY(admin_ids) OR $1 = ANY(expert_ids)
		ORDER BY created_at DESC
	`

	var panels []models.Panel
	if err := r.db.SelectContext(ctx, &panels, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list panels: %w", err)
	}
	return panels, nil
}

// SetStatus changes the panel status
func (r *PanelRepository) SetStatus(ctx context.Context, id string, status models.PanelStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE panels SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update panel status: %w", err)
	}
	return nil
}

// AddExpert adds userID to the panel's expert set if absent
func (r *PanelRepository) AddExpert(ctx context.Context, q sqlx.ExecerContext, panelID, userID string) error {
	query := `
		UPDATE panels
		SET expert_ids = array_append(expert_ids, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(expert_ids))
	`
	if _, err := q.ExecContext(ctx, query, panelID, userID); err != nil {
		return fmt.Errorf("failed to add panel expert: %w", err)
	}
	return nil
}

// RemoveExpert removes userID from the panel's expert set
func (r *PanelRepository) RemoveExpert(ctx context.Context, panelID, userID string) (bool, error) {
	query := `
		UPDATE panels
		SET expert_ids = array_remove(expert_ids, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(expert_ids)
	`
	res, err := r.db.ExecContext(ctx, query, panelID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove panel expert: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to remove panel expert: %w", err)
	}
	return n > 0, nil
}
