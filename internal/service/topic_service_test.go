package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
)

type memTopicStore struct {
	topics map[string]models.Topic
}

func (s *memTopicStore) GetByID(_ context.Context, id string) (*models.Topic, error) {
	t, ok := s.topics[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *memTopicStore) Create(_ context.Context, topic *models.Topic) error {
	s.topics[topic.ID] = *topic
	return nil
}

func (s *memTopicStore) List(_ context.Context, panelID string, status models.TopicStatus) ([]models.Topic, error) {
	var out []models.Topic
	for _, t := range s.topics {
		if t.PanelID == panelID && (status == "" || t.Status == status) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTopicStore) UpdateContent(_ context.Context, topic *models.Topic) (bool, error) {
	current, ok := s.topics[topic.ID]
	if !ok || current.Status != models.TopicStatusDraft {
		return false, nil
	}
	s.topics[topic.ID] = *topic
	return true, nil
}

func (s *memTopicStore) DeleteDraft(_ context.Context, id string) (bool, error) {
	current, ok := s.topics[id]
	if !ok || current.Status != models.TopicStatusDraft {
		return false, nil
	}
	delete(s.topics, id)
	return true, nil
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.events = append(p.events, e)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractTopic(ctx context.Context, rawText, panelContext string) (*TopicExtraction, error) {
	args := m.Called(ctx, rawText, panelContext)
	extraction, _ := args.Get(0).(*TopicExtraction)
	return extraction, args.Error(1)
}

func newTopicFixture() (*TopicService, *memTopicStore, *recordingPublisher, *mockExtractor) {
	store := &memTopicStore{topics: map[string]models.Topic{}}
	publisher := &recordingPublisher{}
	extractor := &mockExtractor{}
	panels := memPanels{
		"panel-1":  {ID: "panel-1", Description: "Emergency medicine", AdminIDs: []string{"admin-1"}, ExpertIDs: []string{"expert-1"}, Status: models.PanelStatusActive},
		"archived": {ID: "archived", AdminIDs: []string{"admin-1"}, Status: models.PanelStatusArchived},
	}
	return NewTopicService(store, panels, extractor, publisher), store, publisher, extractor
}

func TestTopicCreate(t *testing.T) {
	svc, store, publisher, _ := newTopicFixture()

	topic, err := svc.Create(context.Background(), "admin-1", TopicInput{
		PanelID:  "panel-1",
		Title:    "  Triage protocol  ",
		Question: "Which triage scale should we adopt?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Triage protocol", topic.Title)
	assert.Equal(t, models.TopicStatusDraft, topic.Status)
	assert.Equal(t, 1, topic.RoundNumber)
	assert.Equal(t, models.DefaultTotalRounds, topic.TotalRounds)
	assert.Equal(t, "admin-1", topic.CreatedBy)
	assert.False(t, topic.AIExtracted)
	assert.Contains(t, store.topics, topic.ID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, events.NameTopicCreated, publisher.events[0].EventName())
}

func TestTopicCreateErrors(t *testing.T) {
	svc, _, publisher, _ := newTopicFixture()

	tests := []struct {
		name   string
		userID string
		in     TopicInput
		kind   apperrors.Kind
	}{
		{"missing title", "admin-1", TopicInput{PanelID: "panel-1", Question: "q"}, apperrors.KindInvalidArgument},
		{"missing question", "admin-1", TopicInput{PanelID: "panel-1", Title: "t"}, apperrors.KindInvalidArgument},
		{"too many rounds", "admin-1", TopicInput{PanelID: "panel-1", Title: "t", Question: "q", TotalRounds: 11}, apperrors.KindInvalidArgument},
		{"unknown panel", "admin-1", TopicInput{PanelID: "nope", Title: "t", Question: "q"}, apperrors.KindNotFound},
		{"expert cannot create", "expert-1", TopicInput{PanelID: "panel-1", Title: "t", Question: "q"}, apperrors.KindUnauthorized},
		{"archived panel", "admin-1", TopicInput{PanelID: "archived", Title: "t", Question: "q"}, apperrors.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.userID, tt.in)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
		})
	}
	assert.Empty(t, publisher.events)
}

func TestTopicCreateFromText(t *testing.T) {
	svc, _, _, extractor := newTopicFixture()
	extractor.On("ExtractTopic", mock.Anything, "Wait times are too long.", "Emergency medicine").
		Return(&TopicExtraction{
			Title:      "Wait times",
			Question:   "How can we reduce wait times?",
			Confidence: 0.3,
		}, nil)

	topic, err := svc.CreateFromText(context.Background(), "admin-1", "panel-1", "Wait times are too long.")
	require.NoError(t, err)

	assert.True(t, topic.AIExtracted)
	require.NotNil(t, topic.AIConfidence)
	assert.Equal(t, 0.3, *topic.AIConfidence)
	require.NotNil(t, topic.RawInput)
	assert.Equal(t, "Wait times are too long.", *topic.RawInput)
	extractor.AssertExpectations(t)
}

func TestTopicUpdateAndDeleteDraftOnly(t *testing.T) {
	svc, store, _, _ := newTopicFixture()
	ctx := context.Background()

	topic, err := svc.Create(ctx, "admin-1", TopicInput{PanelID: "panel-1", Title: "Draft", Question: "q?"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "admin-1", topic.ID, TopicInput{Title: "Renamed", Question: "q?", TotalRounds: 3})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 3, store.topics[topic.ID].TotalRounds)

	active := store.topics[topic.ID]
	active.Status = models.TopicStatusActive
	store.topics[topic.ID] = active

	_, err = svc.Update(ctx, "admin-1", topic.ID, TopicInput{Title: "Again", Question: "q?"})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(svc.Delete(ctx, "admin-1", topic.ID)))
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(svc.Delete(ctx, "expert-1", topic.ID)))
}

func TestTopicListAndGet(t *testing.T) {
	svc, _, _, _ := newTopicFixture()
	ctx := context.Background()

	topic, err := svc.Create(ctx, "admin-1", TopicInput{PanelID: "panel-1", Title: "Draft", Question: "q?"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "expert-1", topic.ID)
	require.NoError(t, err)
	assert.Equal(t, topic.ID, got.ID)

	_, err = svc.Get(ctx, "outsider", topic.ID)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))

	drafts, err := svc.List(ctx, "expert-1", "panel-1", models.TopicStatusDraft)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	active, err := svc.List(ctx, "expert-1", "panel-1", models.TopicStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.List(ctx, "expert-1", "panel-1", "bogus")
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}
