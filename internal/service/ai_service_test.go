package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/config"
	"github.com/kpessa/delphi-webapp/internal/models"
)

func newTestAIService(llm *mockLLM, feedback *mockFeedbackLister) *AIService {
	return NewAIService(llm, feedback, config.LLMConfig{Model: "gpt-4-turbo-preview"})
}

func TestExtractTopicUnconfigured(t *testing.T) {
	svc := newTestAIService(&mockLLM{}, &mockFeedbackLister{})

	_, err := svc.ExtractTopic(context.Background(), "some text", "")
	assert.Equal(t, apperrors.KindServiceUnavailable, apperrors.KindOf(err))
}

func TestExtractTopicRequiresText(t *testing.T) {
	svc := newTestAIService(&mockLLM{enabled: true}, &mockFeedbackLister{})

	_, err := svc.ExtractTopic(context.Background(), "   ", "")
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestExtractTopicParsesModelOutput(t *testing.T) {
	llm := &mockLLM{enabled: true}
	llm.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req ChatRequest) bool {
		return req.JSON && req.Temperature == 0.3 && req.MaxTokens == 1000 && req.Model == "gpt-4-turbo-preview"
	})).Return(`{
		"title": "Reduce ED wait times",
		"description": "Waiting times exceed four hours.",
		"question": "",
		"suggestedFeedbackTypes": ["solution", "bogus", "Concern", "solution"],
		"confidence": 0
	}`, nil)

	got, err := newTestAIService(llm, &mockFeedbackLister{}).ExtractTopic(context.Background(), "raw", "Emergency care")
	require.NoError(t, err)

	assert.Equal(t, "Reduce ED wait times", got.Title)
	assert.Equal(t, "What are your thoughts on this topic?", got.Question)
	assert.Equal(t, []models.FeedbackType{models.FeedbackTypeSolution, models.FeedbackTypeConcern}, got.SuggestedFeedbackTypes)
	assert.Equal(t, 0.7, got.Confidence)
	llm.AssertExpectations(t)
}

func TestExtractTopicDefaults(t *testing.T) {
	llm := &mockLLM{enabled: true}
	llm.On("ChatCompletion", mock.Anything, mock.Anything).Return(`{"suggestedFeedbackTypes": ["nope"]}`, nil)

	got, err := newTestAIService(llm, &mockFeedbackLister{}).ExtractTopic(context.Background(), "raw", "")
	require.NoError(t, err)

	assert.Equal(t, "Untitled Topic", got.Title)
	assert.Equal(t, []models.FeedbackType{"idea", "solution", "concern"}, got.SuggestedFeedbackTypes)
}

func TestExtractTopicFallsBackToHeuristic(t *testing.T) {
	text := "Nurse staffing shortages are a growing problem. Night shifts are hardest hit."

	for name, reply := range map[string]struct {
		content string
		err     error
	}{
		"call failure": {"", errors.New("timeout")},
		"invalid json": {"not json", nil},
	} {
		t.Run(name, func(t *testing.T) {
			llm := &mockLLM{enabled: true}
			llm.On("ChatCompletion", mock.Anything, mock.Anything).Return(reply.content, reply.err)

			got, err := newTestAIService(llm, &mockFeedbackLister{}).ExtractTopic(context.Background(), text, "")
			require.NoError(t, err)

			assert.Equal(t, "Nurse staffing shortages are a growing problem", got.Title)
			assert.Equal(t, "How should we address Nurse staffing shortages are a growing problem?", got.Question)
			assert.Equal(t, 0.3, got.Confidence)
		})
	}
}

func TestHeuristicExtraction(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		question string
		types    []models.FeedbackType
	}{
		{
			name:     "risk keywords",
			text:     "Patient safety during handover",
			question: "What risks or concerns do you see regarding Patient safety during handover?",
			types:    []models.FeedbackType{"concern", "solution"},
		},
		{
			name:     "improvement keywords",
			text:     "Discharge planning could be better!",
			question: "How can we improve Discharge planning could be better?",
			types:    []models.FeedbackType{"idea", "solution", "refinement"},
		},
		{
			name:     "no keywords",
			text:     "Quarterly review",
			question: "What are your thoughts on this topic?",
			types:    []models.FeedbackType{"idea", "solution", "concern"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HeuristicExtraction(tt.text)
			assert.Equal(t, tt.question, got.Question)
			assert.Equal(t, tt.types, got.SuggestedFeedbackTypes)
			assert.Equal(t, 0.3, got.Confidence)
		})
	}
}

func TestHeuristicExtractionTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "word "
	}

	got := HeuristicExtraction(long + long)
	assert.LessOrEqual(t, len([]rune(got.Title)), 100)
	assert.LessOrEqual(t, len([]rune(got.Description)), 500)
	assert.NotEmpty(t, got.Title)
}

func TestGenerateRoundSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfigured", func(t *testing.T) {
		_, err := newTestAIService(&mockLLM{}, &mockFeedbackLister{}).GenerateRoundSummary(ctx, "t1", 1)
		assert.Equal(t, apperrors.KindServiceUnavailable, apperrors.KindOf(err))
	})

	t.Run("no feedback", func(t *testing.T) {
		feedback := &mockFeedbackLister{}
		feedback.On("List", ctx, models.FeedbackFilter{TopicID: "t1", RoundNumber: 1}).Return([]models.Feedback{}, nil)

		got, err := newTestAIService(&mockLLM{enabled: true}, feedback).GenerateRoundSummary(ctx, "t1", 1)
		require.NoError(t, err)
		assert.Equal(t, "No feedback provided in this round.", got)
	})

	t.Run("prompt lists type and content", func(t *testing.T) {
		feedback := &mockFeedbackLister{}
		feedback.On("List", ctx, mock.Anything).Return([]models.Feedback{
			{Type: models.FeedbackTypeIdea, Content: "Add triage nurse"},
			{Type: models.FeedbackTypeConcern, Content: "Budget"},
		}, nil)

		llm := &mockLLM{enabled: true}
		llm.On("ChatCompletion", ctx, mock.MatchedBy(func(req ChatRequest) bool {
			return len(req.Messages) == 2 &&
				req.Messages[0].Content == roundSummaryPrompt &&
				req.Messages[1].Content == "idea: Add triage nurse\nconcern: Budget" &&
				req.MaxTokens == 500
		})).Return("Experts agree on triage.", nil)

		got, err := newTestAIService(llm, feedback).GenerateRoundSummary(ctx, "t1", 2)
		require.NoError(t, err)
		assert.Equal(t, "Experts agree on triage.", got)
		llm.AssertExpectations(t)
	})
}

func TestSummarizeRound(t *testing.T) {
	ctx := context.Background()

	got, err := newTestAIService(&mockLLM{}, &mockFeedbackLister{}).SummarizeRound(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Automatic summary not available.", got)

	feedback := &mockFeedbackLister{}
	feedback.On("List", ctx, mock.Anything).Return([]models.Feedback{{Type: "idea", Content: "x"}}, nil)
	llm := &mockLLM{enabled: true}
	llm.On("ChatCompletion", ctx, mock.Anything).Return("", errors.New("rate limited"))

	_, err = newTestAIService(llm, feedback).SummarizeRound(ctx, "t1", 1)
	assert.Error(t, err)
}
