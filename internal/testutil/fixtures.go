package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/repository"
)

// Fixtures holds test data: one panel administered by Admin with two
// accepted experts, and a draft topic on that panel
type Fixtures struct {
	DB       *sqlx.DB
	Admin    *models.User
	ExpertA  *models.User
	ExpertB  *models.User
	Outsider *models.User
	Panel    *models.Panel
	Topic    *models.Topic
}

// SetupFixtures creates test data
func SetupFixtures(t *testing.T, db *sqlx.DB) *Fixtures {
	t.Helper()

	f := &Fixtures{DB: db}
	f.Admin = CreateUser(t, db, "admin@test.com", "Panel Admin")
	f.ExpertA = CreateUser(t, db, "expert.a@test.com", "Expert A")
	f.ExpertB = CreateUser(t, db, "expert.b@test.com", "Expert B")
	f.Outsider = CreateUser(t, db, "outsider@test.com", "Outsider")
	f.Panel = CreatePanel(t, db, f.Admin.ID, f.ExpertA.ID, f.ExpertB.ID)
	f.Topic = CreateTopic(t, db, f.Panel.ID, f.Admin.ID)
	return f
}

// CreateUser stores a user profile
func CreateUser(t *testing.T, db *sqlx.DB, email, name string) *models.User {
	t.Helper()

	user := &models.User{
		ID:          "user-" + uuid.NewString(),
		Email:       email,
		DisplayName: name,
	}
	if err := repository.NewUserRepository(db).Upsert(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}
	return user
}

// CreatePanel stores an active panel with the given admin and experts
func CreatePanel(t *testing.T, db *sqlx.DB, adminID string, expertIDs ...string) *models.Panel {
	t.Helper()

	now := time.Now().UTC()
	panel := &models.Panel{
		ID:          uuid.NewString(),
		Name:        "Sepsis Panel",
		Description: "Early sepsis detection in emergency care",
		CreatorID:   adminID,
		AdminIDs:    []string{adminID},
		ExpertIDs:   append([]string{}, expertIDs...),
		Status:      models.PanelStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repository.NewPanelRepository(db).Create(context.Background(), panel); err != nil {
		t.Fatalf("Failed to create panel: %v", err)
	}
	return panel
}

// CreateTopic stores a draft topic
func CreateTopic(t *testing.T, db *sqlx.DB, panelID, createdBy string) *models.Topic {
	t.Helper()

	now := time.Now().UTC()
	topic := &models.Topic{
		ID:          uuid.NewString(),
		PanelID:     panelID,
		Title:       "Sepsis screening",
		Description: "Which screening protocol should the emergency department adopt?",
		Question:    "How should we screen for sepsis at triage?",
		CreatedBy:   createdBy,
		Status:      models.TopicStatusDraft,
		TotalRounds: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repository.NewTopicRepository(db).Create(context.Background(), topic); err != nil {
		t.Fatalf("Failed to create topic: %v", err)
	}
	return topic
}
