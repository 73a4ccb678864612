package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const feedbackColumns = `id, topic_id, panel_id, round_id, round_number, expert_id, type, content, parent_id,
	agreements, upvotes, downvotes, metadata, created_at, updated_at`

// FeedbackRepository handles feedback database operations
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a new feedback item
func (r *FeedbackRepository) Create(ctx context.Context, fb *models.Feedback) error {
	query := `
		INSERT INTO feedback (id, topic_id, panel_id, round_id, round_number, expert_id, type, content, parent_id,
			agreements, upvotes, downvotes, metadata, created_at, updated_at)
		VALUES (:id, :topic_id, :panel_id, :round_id, :round_number, :expert_id, :type, :content, :parent_id,
			:agreements, :upvotes, :downvotes, :metadata, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, fb); err != nil {
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	return nil
}

// GetByID retrieves a feedback item by ID
func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*models.Feedback, error) {
	fb, err := getOne[models.Feedback](ctx, r.db, `SELECT `+feedbackColumns+` FROM feedback WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return fb, nil
}

// GetForUpdate retrieves and row-locks a feedback item inside tx
func (r *FeedbackRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Feedback, error) {
	fb, err := getOne[models.Feedback](ctx, tx, `SELECT `+feedbackColumns+` FROM feedback WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock feedback: %w", err)
	}
	return fb, nil
}

// List returns feedback matching every non-zero field of filter, oldest first
func (r *FeedbackRepository) List(ctx context.Context, filter models.FeedbackFilter) ([]models.Feedback, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.TopicID != "" {
		add("topic_id = $%d", filter.TopicID)
	}
	if filter.RoundNumber > 0 {
		add("round_number = $%d", filter.RoundNumber)
	}
	if filter.ExpertID != "" {
		add("expert_id = $%d", filter.ExpertID)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.ParentID != "" {
		add("parent_id = $%d", filter.ParentID)
	}

	query := `SELECT ` + feedbackColumns + ` FROM feedback`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var items []models.Feedback
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return items, nil
}

// SetAgreement records one expert's agreement level in a single atomic update.
// It reports false when the feedback does not exist or its round is no longer active.
func (r *FeedbackRepository) SetAgreement(ctx context.Context, id, expertID string, level int) (bool, error) {
	query := `
		UPDATE feedback
		SET agreements = jsonb_set(agreements, ARRAY[$2::text], to_jsonb($3::int), true), updated_at = NOW()
		WHERE id = $1
		  AND EXISTS (SELECT 1 FROM rounds WHERE rounds.id = feedback.round_id AND rounds.status = 'active')
	`
	res, err := r.db.ExecContext(ctx, query, id, expertID, level)
	if err != nil {
		return false, fmt.Errorf("failed to set agreement: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to set agreement: %w", err)
	}
	return n > 0, nil
}

// SetVotes replaces the vote sets of a feedback item inside tx
func (r *FeedbackRepository) SetVotes(ctx context.Context, tx *sqlx.Tx, id string, upvotes, downvotes []string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE feedback SET upvotes = $2, downvotes = $3, updated_at = NOW() WHERE id = $1`,
		id, pq.StringArray(upvotes), pq.StringArray(downvotes))
	if err != nil {
		return fmt.Errorf("failed to update votes: %w", err)
	}
	return nil
}
