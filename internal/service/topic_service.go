package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/pkg/validator"
)

// MaxTotalRounds bounds the planned number of rounds of a topic
const MaxTotalRounds = 10

// TopicStore persists topics
type TopicStore interface {
	TopicReader
	Create(ctx context.Context, topic *models.Topic) error
	List(ctx context.Context, panelID string, status models.TopicStatus) ([]models.Topic, error)
	UpdateContent(ctx context.Context, topic *models.Topic) (bool, error)
	DeleteDraft(ctx context.Context, id string) (bool, error)
}

// TopicExtractor turns raw text into a topic draft
type TopicExtractor interface {
	ExtractTopic(ctx context.Context, rawText, panelContext string) (*TopicExtraction, error)
}

// TopicInput carries the editable fields of a topic
type TopicInput struct {
	PanelID     string `json:"panelId" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Question    string `json:"question" validate:"required,max=1000"`
	TotalRounds int    `json:"totalRounds"`
}

// TopicService manages discussion topics
type TopicService struct {
	topics    TopicStore
	panels    PanelReader
	extractor TopicExtractor
	events    events.Publisher
	now       func() time.Time
}

// NewTopicService creates a new topic service
func NewTopicService(topics TopicStore, panels PanelReader, extractor TopicExtractor, publisher events.Publisher) *TopicService {
	return &TopicService{
		topics:    topics,
		panels:    panels,
		extractor: extractor,
		events:    publisher,
		now:       time.Now,
	}
}

// Create adds a draft topic to a panel the caller administers
func (s *TopicService) Create(ctx context.Context, userID string, in TopicInput) (*models.Topic, error) {
	topic, err := s.newTopic(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, topic)
}

// CreateFromText extracts a topic from raw text and stores it as an AI-extracted draft
func (s *TopicService) CreateFromText(ctx context.Context, userID, panelID, rawText string) (*models.Topic, error) {
	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}

	extraction, err := s.extractor.ExtractTopic(ctx, rawText, panel.Description)
	if err != nil {
		return nil, err
	}

	topic, err := s.newTopic(ctx, userID, TopicInput{
		PanelID:     panelID,
		Title:       extraction.Title,
		Description: extraction.Description,
		Question:    extraction.Question,
	})
	if err != nil {
		return nil, err
	}

	raw := validator.SanitizeString(rawText)
	confidence := extraction.Confidence
	topic.RawInput = &raw
	topic.AIExtracted = true
	topic.AIConfidence = &confidence

	return s.store(ctx, topic)
}

func (s *TopicService) newTopic(ctx context.Context, userID string, in TopicInput) (*models.Topic, error) {
	in = sanitizeTopicInput(in)
	if err := validateTopicInput(in); err != nil {
		return nil, err
	}

	panel, err := loadPanel(ctx, s.panels, in.PanelID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}
	if panel.Status == models.PanelStatusArchived {
		return nil, apperrors.Conflict("Panel is archived")
	}

	now := s.now().UTC()
	return &models.Topic{
		ID:          uuid.NewString(),
		PanelID:     panel.ID,
		Title:       in.Title,
		Description: in.Description,
		Question:    in.Question,
		CreatedBy:   userID,
		Status:      models.TopicStatusDraft,
		RoundNumber: 1,
		TotalRounds: in.TotalRounds,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *TopicService) store(ctx context.Context, topic *models.Topic) (*models.Topic, error) {
	if err := s.topics.Create(ctx, topic); err != nil {
		return nil, apperrors.Internal(err, "failed to create topic")
	}

	slog.Info("Created topic", "topic_id", topic.ID, "panel_id", topic.PanelID, "ai_extracted", topic.AIExtracted)
	s.events.Publish(ctx, events.TopicCreated{Topic: *topic})
	return topic, nil
}

func sanitizeTopicInput(in TopicInput) TopicInput {
	in.Title = validator.SanitizeString(in.Title)
	in.Description = validator.SanitizeString(in.Description)
	in.Question = validator.SanitizeString(in.Question)
	if in.TotalRounds == 0 {
		in.TotalRounds = models.DefaultTotalRounds
	}
	return in
}

func validateTopicInput(in TopicInput) error {
	if err := validator.ValidateStruct(&in); err != nil {
		return apperrors.InvalidArgument(err.Error())
	}
	if in.TotalRounds < 1 || in.TotalRounds > MaxTotalRounds {
		return apperrors.Newf(apperrors.KindInvalidArgument, "totalRounds must be between 1 and %d", MaxTotalRounds)
	}
	return nil
}

// Get returns a topic the caller can see
func (s *TopicService) Get(ctx context.Context, userID, topicID string) (*models.Topic, error) {
	topic, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}
	return topic, nil
}

// List returns a panel's topics, optionally filtered by status
func (s *TopicService) List(ctx context.Context, userID, panelID string, status models.TopicStatus) ([]models.Topic, error) {
	switch status {
	case "", models.TopicStatusDraft, models.TopicStatusActive, models.TopicStatusCompleted:
	default:
		return nil, apperrors.InvalidArgument("status must be one of draft, active, completed")
	}

	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}

	topics, err := s.topics.List(ctx, panelID, status)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list topics")
	}
	if topics == nil {
		topics = []models.Topic{}
	}
	return topics, nil
}

// Update rewrites a draft topic's content
func (s *TopicService) Update(ctx context.Context, userID, topicID string, in TopicInput) (*models.Topic, error) {
	topic, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}

	in.PanelID = topic.PanelID
	in = sanitizeTopicInput(in)
	if err := validateTopicInput(in); err != nil {
		return nil, err
	}

	topic.Title = in.Title
	topic.Description = in.Description
	topic.Question = in.Question
	topic.TotalRounds = in.TotalRounds

	ok, err := s.topics.UpdateContent(ctx, topic)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to update topic")
	}
	if !ok {
		return nil, apperrors.Conflict("Only draft topics can be edited")
	}

	topic.UpdatedAt = s.now().UTC()
	slog.Info("Updated topic", "topic_id", topic.ID)
	return topic, nil
}

// Delete removes a draft topic
func (s *TopicService) Delete(ctx context.Context, userID, topicID string) error {
	_, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return err
	}

	ok, err := s.topics.DeleteDraft(ctx, topicID)
	if err != nil {
		return apperrors.Internal(err, "failed to delete topic")
	}
	if !ok {
		return apperrors.Conflict("Only draft topics can be deleted")
	}

	slog.Info("Deleted topic", "topic_id", topicID)
	return nil
}
