package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
)

// PreferencesRepository handles notification preference database operations
type PreferencesRepository struct {
	db *sqlx.DB
}

// NewPreferencesRepository creates a new preferences repository
func NewPreferencesRepository(db *sqlx.DB) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

// Get retrieves a user's stored preferences, or nil when none were saved
func (r *PreferencesRepository) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	prefs, err := getOne[models.NotificationPreferences](ctx, r.db, `
		SELECT user_id, email, email_frequency, topic_assigned, new_feedback, round_closed,
		       consensus_reached, invitation, sound, browser_notifications, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification preferences: %w", err)
	}
	return prefs, nil
}

// Upsert stores the user's preferences
func (r *PreferencesRepository) Upsert(ctx context.Context, prefs *models.NotificationPreferences) error {
	query := `
		INSERT INTO notification_preferences (user_id, email, email_frequency, topic_assigned, new_feedback,
			round_closed, consensus_reached, invitation, sound, browser_notifications, updated_at)
		VALUES (:user_id, :email, :email_frequency, :topic_assigned, :new_feedback,
			:round_closed, :consensus_reached, :invitation, :sound, :browser_notifications, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			email_frequency = EXCLUDED.email_frequency,
			topic_assigned = EXCLUDED.topic_assigned,
			new_feedback = EXCLUDED.new_feedback,
			round_closed = EXCLUDED.round_closed,
			consensus_reached = EXCLUDED.consensus_reached,
			invitation = EXCLUDED.invitation,
			sound = EXCLUDED.sound,
			browser_notifications = EXCLUDED.browser_notifications,
			updated_at = NOW()
	`
	if _, err := r.db.NamedExecContext(ctx, query, prefs); err != nil {
		return fmt.Errorf("failed to save notification preferences: %w", err)
	}
	return nil
}
