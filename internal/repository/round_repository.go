package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const roundColumns = `id, topic_id, round_number, status, start_date, end_date, summary, consensus, created_at`

// RoundRepository handles round database operations
type RoundRepository struct {
	db *sqlx.DB
}

// NewRoundRepository creates a new round repository
func NewRoundRepository(db *sqlx.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// Create inserts a new round
func (r *RoundRepository) Create(ctx context.Context, tx *sqlx.Tx, round *models.Round) error {
	query := `
		INSERT INTO rounds (id, topic_id, round_number, status, start_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.ExecContext(ctx, query,
		round.ID, round.TopicID, round.RoundNumber, round.Status, round.StartDate, round.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

// HasActive reports whether any round of the topic is active
func (r *RoundRepository) HasActive(ctx context.Context, q sqlx.QueryerContext, topicID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM rounds WHERE topic_id = $1 AND status = 'active')`, topicID)
	if err != nil {
		return false, fmt.Errorf("failed to check active round: %w", err)
	}
	return exists, nil
}

// IsActive reports whether the round with id is active. Inside a transaction
// the round row stays share-locked until commit, so it cannot close meanwhile.
func (r *RoundRepository) IsActive(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var status []string
	err := sqlx.SelectContext(ctx, q, &status, `SELECT status FROM rounds WHERE id = $1 FOR SHARE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check round status: %w", err)
	}
	return len(status) == 1 && status[0] == string(models.RoundStatusActive), nil
}

// Get retrieves a topic's round by number
func (r *RoundRepository) Get(ctx context.Context, topicID string, roundNumber int) (*models.Round, error) {
	round, err := getOne[models.Round](ctx, r.db,
		`SELECT `+roundColumns+` FROM rounds WHERE topic_id = $1 AND round_number = $2`, topicID, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// GetActive retrieves the topic's active round, if any
func (r *RoundRepository) GetActive(ctx context.Context, topicID string) (*models.Round, error) {
	round, err := getOne[models.Round](ctx, r.db,
		`SELECT `+roundColumns+` FROM rounds WHERE topic_id = $1 AND status = 'active'`, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return round, nil
}

// List returns all rounds of a topic in order
func (r *RoundRepository) List(ctx context.Context, topicID string) ([]models.Round, error) {
	var rounds []models.Round
	err := r.db.SelectContext(ctx, &rounds,
		`SELECT `+roundColumns+` FROM rounds WHERE topic_id = $1 ORDER BY round_number`, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	return rounds, nil
}

// Complete closes an active round with its summary and consensus snapshot.
// It reports false when the round was no longer active.
func (r *RoundRepository) Complete(ctx context.Context, id string, endDate time.Time, summary string, metrics models.ConsensusMetrics) (bool, error) {
	query := `
		UPDATE rounds
		SET status = 'completed', end_date = $2, summary = $3, consensus = $4
		WHERE id = $1 AND status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, id, endDate, summary, metrics)
	if err != nil {
		return false, fmt.Errorf("failed to complete round: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to complete round: %w", err)
	}
	return n > 0, nil
}
