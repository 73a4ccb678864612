package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const topicColumns = `id, panel_id, title, description, question, created_by, status, round_number,
	current_round_id, total_rounds, raw_input, ai_extracted, ai_confidence, created_at, updated_at`

// TopicRepository handles topic database operations
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// Create inserts a new topic
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	query := `
		INSERT INTO topics (id, panel_id, title, description, question, created_by, status, round_number,
			current_round_id, total_rounds, raw_input, ai_extracted, ai_confidence, created_at, updated_at)
		VALUES (:id, :panel_id, :title, :description, :question, :created_by, :status, :round_number,
			:current_round_id, :total_rounds, :raw_input, :ai_extracted, :ai_confidence, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

// GetByID retrieves a topic by ID
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*models.Topic, error) {
	topic, err := getOne[models.Topic](ctx, r.db, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return topic, nil
}

// GetForUpdate retrieves and row-locks a topic inside tx
func (r *TopicRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Topic, error) {
	topic, err := getOne[models.Topic](ctx, tx, `SELECT `+topicColumns+` FROM topics WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock topic: %w", err)
	}
	return topic, nil
}

// List returns a panel's topics, optionally filtered by status, newest first
func (r *TopicRepository) List(ctx context.Context, panelID string, status models.TopicStatus) ([]models.Topic, error) {
	query := `
		SELECT ` + topicColumns + `
		FROM topics
		WHERE panel_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`

	var topics []models.Topic
	if err := r.db.SelectContext(ctx, &topics, query, panelID, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return topics, nil
}

// UpdateContent rewrites the editable fields of a draft topic.
// It reports false when the topic is missing or no longer a draft.
func (r *TopicRepository) UpdateContent(ctx context.Context, topic *models.Topic) (bool, error) {
	query := `
		UPDATE topics
		SET title = $2, description = $3, question = $4, total_rounds = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`
	res, err := r.db.ExecContext(ctx, query, topic.ID, topic.Title, topic.Description, topic.Question, topic.TotalRounds)
	if err != nil {
		return false, fmt.Errorf("failed to update topic: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to update topic: %w", err)
	}
	return n > 0, nil
}

// DeleteDraft deletes a topic that has not been opened
func (r *TopicRepository) DeleteDraft(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM topics WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete topic: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to delete topic: %w", err)
	}
	return n > 0, nil
}

// SetCurrentRound points the topic at its newly opened round
func (r *TopicRepository) SetCurrentRound(ctx context.Context, tx *sqlx.Tx, id string, roundNumber int, roundID string) error {
	query := `
		UPDATE topics
		SET round_number = $2, current_round_id = $3, status = 'active', updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, id, roundNumber, roundID); err != nil {
		return fmt.Errorf("failed to update topic round: %w", err)
	}
	return nil
}

// SetStatus changes the topic status
func (r *TopicRepository) SetStatus(ctx context.Context, q sqlx.ExecerContext, id string, status models.TopicStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE topics SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update topic status: %w", err)
	}
	return nil
}
