package service

import (
	"context"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/models"
)

// TopicReader loads topics
type TopicReader interface {
	GetByID(ctx context.Context, id string) (*models.Topic, error)
}

// PanelReader loads panels
type PanelReader interface {
	GetByID(ctx context.Context, id string) (*models.Panel, error)
}

// loadPanel fetches a panel, mapping a missing row to NotFound
func loadPanel(ctx context.Context, panels PanelReader, panelID string) (*models.Panel, error) {
	panel, err := panels.GetByID(ctx, panelID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load panel")
	}
	if panel == nil {
		return nil, apperrors.NotFound("Panel not found")
	}
	return panel, nil
}

// loadTopic fetches a topic and its panel, mapping missing rows to NotFound
func loadTopic(ctx context.Context, topics TopicReader, panels PanelReader, topicID string) (*models.Topic, *models.Panel, error) {
	topic, err := topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, nil, apperrors.Internal(err, "failed to load topic")
	}
	if topic == nil {
		return nil, nil, apperrors.NotFound("Topic not found")
	}

	panel, err := loadPanel(ctx, panels, topic.PanelID)
	if err != nil {
		return nil, nil, err
	}
	return topic, panel, nil
}

func requireAdmin(panel *models.Panel, userID string) error {
	if !panel.IsAdmin(userID) {
		return apperrors.Unauthorized("Only panel administrators can perform this action")
	}
	return nil
}

func requireMember(panel *models.Panel, userID string) error {
	if !panel.IsMember(userID) {
		return apperrors.Unauthorized("You are not a member of this panel")
	}
	return nil
}
