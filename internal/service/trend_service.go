package service

import (
	"context"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/consensus"
	"github.com/kpessa/delphi-webapp/internal/models"
)

// RoundReader loads the rounds of a topic
type RoundReader interface {
	Get(ctx context.Context, topicID string, roundNumber int) (*models.Round, error)
	List(ctx context.Context, topicID string) ([]models.Round, error)
}

// RoundTrend is the consensus of one round within a topic's history
type RoundTrend struct {
	RoundNumber int                     `json:"roundNumber"`
	Status      models.RoundStatus      `json:"status"`
	Live        bool                    `json:"live"`
	Metrics     models.ConsensusMetrics `json:"metrics"`
}

// ItemConsensus is the agreement picture of one feedback item.
// Only aggregates are exposed, never who agreed.
type ItemConsensus struct {
	FeedbackID string              `json:"feedbackId"`
	Type       models.FeedbackType `json:"type"`
	Content    string              `json:"content"`
	Stats      consensus.ItemStats `json:"stats"`
}

// RoundConsensus is the full consensus view of a round
type RoundConsensus struct {
	RoundTrend
	Items []ItemConsensus `json:"items"`
}

// TrendService reports how consensus develops across rounds
type TrendService struct {
	topics   TopicReader
	panels   PanelReader
	rounds   RoundReader
	feedback FeedbackLister
}

// NewTrendService creates a new trend service
func NewTrendService(topics TopicReader, panels PanelReader, rounds RoundReader, feedback FeedbackLister) *TrendService {
	return &TrendService{
		topics:   topics,
		panels:   panels,
		rounds:   rounds,
		feedback: feedback,
	}
}

// RoundTrends returns the metrics of every round of a topic in round order.
// Closed rounds report their stored snapshot, the active round is computed live.
func (s *TrendService) RoundTrends(ctx context.Context, userID, topicID string) ([]RoundTrend, error) {
	_, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}

	rounds, err := s.rounds.List(ctx, topicID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list rounds")
	}

	trends := make([]RoundTrend, 0, len(rounds))
	for i := range rounds {
		trend, _, err := s.trend(ctx, &rounds[i], panel, false)
		if err != nil {
			return nil, err
		}
		trends = append(trends, trend)
	}
	return trends, nil
}

// RoundConsensus returns a round's metrics together with per-item statistics
func (s *TrendService) RoundConsensus(ctx context.Context, userID, topicID string, roundNumber int) (*RoundConsensus, error) {
	_, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}

	round, err := s.rounds.Get(ctx, topicID, roundNumber)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round")
	}
	if round == nil {
		return nil, apperrors.NotFound("Round not found")
	}

	trend, items, err := s.trend(ctx, round, panel, true)
	if err != nil {
		return nil, err
	}
	return &RoundConsensus{RoundTrend: trend, Items: itemConsensus(items)}, nil
}

// trend resolves the metrics of a round. Feedback is loaded only when the
// metrics must be computed live or withItems is set.
func (s *TrendService) trend(ctx context.Context, round *models.Round, panel *models.Panel, withItems bool) (RoundTrend, []models.Feedback, error) {
	trend := RoundTrend{RoundNumber: round.RoundNumber, Status: round.Status}

	stored := round.Status == models.RoundStatusCompleted && round.Consensus != nil
	var items []models.Feedback
	if !stored || withItems {
		var err error
		if items, err = s.roundFeedback(ctx, round); err != nil {
			return trend, nil, err
		}
	}

	if stored {
		trend.Metrics = *round.Consensus
	} else {
		trend.Live = true
		trend.Metrics = consensus.Calculate(items, panel.MemberCount())
	}
	return trend, items, nil
}

func (s *TrendService) roundFeedback(ctx context.Context, round *models.Round) ([]models.Feedback, error) {
	items, err := s.feedback.List(ctx, models.FeedbackFilter{TopicID: round.TopicID, RoundNumber: round.RoundNumber})
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round feedback")
	}
	return items, nil
}

func itemConsensus(items []models.Feedback) []ItemConsensus {
	out := make([]ItemConsensus, 0, len(items))
	for _, fb := range items {
		out = append(out, ItemConsensus{
			FeedbackID: fb.ID,
			Type:       fb.Type,
			Content:    fb.Content,
			Stats:      consensus.Item(fb.Agreements),
		})
	}
	return out
}
