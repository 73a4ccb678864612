package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kpessa/delphi-webapp/internal/models"
)

// DigestRepository handles the email digest queue
type DigestRepository struct {
	db *sqlx.DB
}

// NewDigestRepository creates a new digest repository
func NewDigestRepository(db *sqlx.DB) *DigestRepository {
	return &DigestRepository{db: db}
}

// Enqueue adds a notification to the user's digest. Re-enqueueing the same
// notification is a no-op.
func (r *DigestRepository) Enqueue(ctx context.Context, entry *models.DigestEntry) error {
	query := `
		INSERT INTO email_digest_queue (user_id, frequency, notification_id, type, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, notification_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, entry.UserID, entry.Frequency, entry.NotificationID,
		entry.Type, entry.Title, entry.Message, entry.Data, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue digest entry: %w", err)
	}
	return nil
}

// PendingUsers returns the users with queued entries of any of the frequencies
func (r *DigestRepository) PendingUsers(ctx context.Context, frequencies []models.EmailFrequency) ([]string, error) {
	var users []string
	err := r.db.SelectContext(ctx, &users,
		`SELECT DISTINCT user_id FROM email_digest_queue WHERE frequency = ANY($1) ORDER BY user_id`,
		pq.Array(frequencyStrings(frequencies)))
	if err != nil {
		return nil, fmt.Errorf("failed to list digest users: %w", err)
	}
	return users, nil
}

// ListForUser returns the user's queued entries of any of the frequencies, oldest first
func (r *DigestRepository) ListForUser(ctx context.Context, userID string, frequencies []models.EmailFrequency) ([]models.DigestEntry, error) {
	query := `
		SELECT id, user_id, frequency, notification_id, type, title, message, data, created_at
		FROM email_digest_queue
		WHERE user_id = $1 AND frequency = ANY($2)
		ORDER BY created_at, id
	`

	var entries []models.DigestEntry
	if err := r.db.SelectContext(ctx, &entries, query, userID, pq.Array(frequencyStrings(frequencies))); err != nil {
		return nil, fmt.Errorf("failed to list digest entries: %w", err)
	}
	return entries, nil
}

// DeleteByIDs removes processed queue entries
func (r *DigestRepository) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM email_digest_queue WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete digest entries: %w", err)
	}
	return nil
}

func frequencyStrings(frequencies []models.EmailFrequency) []string {
	out := make([]string, len(frequencies))
	for i, f := range frequencies {
		out[i] = string(f)
	}
	return out
}
