package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/pkg/validator"
)

// PanelStore persists panels
type PanelStore interface {
	PanelReader
	Create(ctx context.Context, panel *models.Panel) error
	ListForUser(ctx context.Context, userID string) ([]models.Panel, error)
	SetStatus(ctx context.Context, id string, status models.PanelStatus) error
	RemoveExpert(ctx context.Context, panelID, userID string) (bool, error)
}

// ExpertLister lists the invitees of a panel
type ExpertLister interface {
	ListByPanel(ctx context.Context, panelID string) ([]models.Expert, error)
}

// PanelInput carries the fields of a new panel
type PanelInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// PanelService manages expert panels
type PanelService struct {
	panels  PanelStore
	experts ExpertLister
	now     func() time.Time
}

// NewPanelService creates a new panel service
func NewPanelService(panels PanelStore, experts ExpertLister) *PanelService {
	return &PanelService{
		panels:  panels,
		experts: experts,
		now:     time.Now,
	}
}

// Create adds a panel administered by its creator
func (s *PanelService) Create(ctx context.Context, userID string, in PanelInput) (*models.Panel, error) {
	in.Name = validator.SanitizeString(in.Name)
	in.Description = validator.SanitizeString(in.Description)
	if err := validator.ValidateStruct(&in); err != nil {
		return nil, apperrors.InvalidArgument(err.Error())
	}

	now := s.now().UTC()
	panel := &models.Panel{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		CreatorID:   userID,
		AdminIDs:    pq.StringArray{userID},
		ExpertIDs:   pq.StringArray{},
		Status:      models.PanelStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.panels.Create(ctx, panel); err != nil {
		return nil, apperrors.Internal(err, "failed to create panel")
	}

	slog.Info("Created panel", "panel_id", panel.ID, "creator_id", userID)
	return panel, nil
}

// Get returns a panel the caller belongs to
func (s *PanelService) Get(ctx context.Context, userID, panelID string) (*models.Panel, error) {
	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}
	return panel, nil
}

// ListForUser returns the panels the caller administers or is an expert of
func (s *PanelService) ListForUser(ctx context.Context, userID string) ([]models.Panel, error) {
	panels, err := s.panels.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list panels")
	}
	if panels == nil {
		panels = []models.Panel{}
	}
	return panels, nil
}

// Archive closes a panel to new topics
func (s *PanelService) Archive(ctx context.Context, userID, panelID string) error {
	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return err
	}
	if panel.Status == models.PanelStatusArchived {
		return apperrors.Conflict("Panel is already archived")
	}

	if err := s.panels.SetStatus(ctx, panelID, models.PanelStatusArchived); err != nil {
		return apperrors.Internal(err, "failed to archive panel")
	}

	slog.Info("Archived panel", "panel_id", panelID, "user_id", userID)
	return nil
}

// ListExperts returns the invitees of a panel with their status
func (s *PanelService) ListExperts(ctx context.Context, userID, panelID string) ([]models.Expert, error) {
	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}

	experts, err := s.experts.ListByPanel(ctx, panelID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list experts")
	}
	if experts == nil {
		experts = []models.Expert{}
	}
	return experts, nil
}

// RemoveExpert takes an expert off the panel. Their feedback is kept.
func (s *PanelService) RemoveExpert(ctx context.Context, userID, panelID, expertUserID string) error {
	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return err
	}

	removed, err := s.panels.RemoveExpert(ctx, panelID, expertUserID)
	if err != nil {
		return apperrors.Internal(err, "failed to remove expert")
	}
	if !removed {
		return apperrors.NotFound("Expert is not a member of this panel")
	}

	slog.Info("Removed panel expert", "panel_id", panelID, "expert_id", expertUserID, "user_id", userID)
	return nil
}
