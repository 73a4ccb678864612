package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/models"
)

type memRounds []models.Round

func (r memRounds) Get(_ context.Context, topicID string, roundNumber int) (*models.Round, error) {
	for _, round := range r {
		if round.TopicID == topicID && round.RoundNumber == roundNumber {
			return &round, nil
		}
	}
	return nil, nil
}

func (r memRounds) List(_ context.Context, topicID string) ([]models.Round, error) {
	var out []models.Round
	for _, round := range r {
		if round.TopicID == topicID {
			out = append(out, round)
		}
	}
	return out, nil
}

type memFeedback struct {
	items []models.Feedback
	calls int
}

func (f *memFeedback) List(_ context.Context, filter models.FeedbackFilter) ([]models.Feedback, error) {
	f.calls++
	var out []models.Feedback
	for _, fb := range f.items {
		if fb.TopicID == filter.TopicID && (filter.RoundNumber == 0 || fb.RoundNumber == filter.RoundNumber) {
			out = append(out, fb)
		}
	}
	return out, nil
}

func newTrendFixture() (*TrendService, *memFeedback) {
	snapshot := models.ConsensusMetrics{ConsensusLevel: 64, ParticipationRate: 50, TotalParticipants: 2, TotalFeedback: 3}
	rounds := memRounds{
		{ID: "r-1", TopicID: "topic-1", RoundNumber: 1, Status: models.RoundStatusCompleted, Consensus: &snapshot},
		{ID: "r-2", TopicID: "topic-1", RoundNumber: 2, Status: models.RoundStatusActive},
	}
	feedback := &memFeedback{items: []models.Feedback{
		{
			ID: "fb-1", TopicID: "topic-1", RoundNumber: 2, ExpertID: "expert-1",
			Type: models.FeedbackTypeIdea, Content: "Use a sepsis screening tool",
			Agreements: models.Agreements{"expert-1": 2, "expert-2": 2},
			Upvotes:    []string{"expert-2"},
		},
		{
			ID: "fb-2", TopicID: "topic-1", RoundNumber: 2, ExpertID: "expert-2",
			Type: models.FeedbackTypeConcern, Content: "Alert fatigue",
			Agreements: models.Agreements{"expert-1": -1},
		},
	}}
	topics := memTopics{"topic-1": {ID: "topic-1", PanelID: "panel-1", Title: "Sepsis", Question: "How should we screen?"}}
	panels := memPanels{"panel-1": {
		ID:        "panel-1",
		AdminIDs:  []string{"admin-1"},
		ExpertIDs: []string{"expert-1", "expert-2"},
	}}
	return NewTrendService(topics, panels, rounds, feedback), feedback
}

func TestRoundTrends(t *testing.T) {
	svc, feedback := newTrendFixture()

	trends, err := svc.RoundTrends(context.Background(), "expert-1", "topic-1")
	require.NoError(t, err)
	require.Len(t, trends, 2)

	assert.False(t, trends[0].Live)
	assert.Equal(t, 64, trends[0].Metrics.ConsensusLevel)

	assert.True(t, trends[1].Live)
	assert.Equal(t, 2, trends[1].Metrics.TotalFeedback)
	assert.Equal(t, 1, feedback.calls, "stored snapshots need no feedback")

	_, err = svc.RoundTrends(context.Background(), "outsider", "topic-1")
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

func TestRoundConsensusItems(t *testing.T) {
	svc, _ := newTrendFixture()

	view, err := svc.RoundConsensus(context.Background(), "expert-2", "topic-1", 2)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)

	first := view.Items[0]
	assert.Equal(t, "fb-1", first.FeedbackID)
	assert.Equal(t, 2, first.Stats.Participants)
	assert.InDelta(t, 2.0, first.Stats.Mean, 1e-9)
	assert.Equal(t, 100, first.Stats.Consensus)
	assert.Equal(t, [5]int{0, 0, 0, 0, 2}, first.Stats.Distribution)

	_, err = svc.RoundConsensus(context.Background(), "expert-2", "topic-1", 9)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestExportRound(t *testing.T) {
	trends, _ := newTrendFixture()
	svc := NewExportService(trends)

	_, err := svc.ExportRound(context.Background(), "expert-1", "topic-1", 2)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))

	export, err := svc.ExportRound(context.Background(), "admin-1", "topic-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "topic-topic-1-round-2.xlsx", export.Filename)

	f, err := excelize.OpenReader(bytes.NewReader(export.Data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{FeedbackSheet, ConsensusSheet}, f.GetSheetList())

	rows, err := f.GetRows(FeedbackSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Type", rows[0][0])
	assert.Equal(t, []string{"idea", "Use a sepsis screening tool", "0", "0", "0", "0", "2", "2", "2", "2", "100", "1", "0"}, rows[1])

	for _, sheet := range f.GetSheetList() {
		sheetRows, err := f.GetRows(sheet)
		require.NoError(t, err)
		for _, row := range sheetRows {
			for _, cell := range row {
				assert.NotContains(t, cell, "expert-", "expert ids must not be exported")
			}
		}
	}

	summary, err := f.GetRows(ConsensusSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Topic", "Sepsis"}, summary[0])
}
