package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/consensus"
	"github.com/kpessa/delphi-webapp/internal/database"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/repository"
)

// Summarizer produces the summary stored with a closed round
type Summarizer interface {
	SummarizeRound(ctx context.Context, topicID string, roundNumber int) (string, error)
}

// RoundService manages the round lifecycle of topics
type RoundService struct {
	db         *sqlx.DB
	topics     *repository.TopicRepository
	rounds     *repository.RoundRepository
	panels     *repository.PanelRepository
	feedback   *repository.FeedbackRepository
	summarizer Summarizer
	events     events.Publisher
	threshold  int
	now        func() time.Time
}

// NewRoundService creates a new round service
func NewRoundService(
	db *sqlx.DB,
	topics *repository.TopicRepository,
	rounds *repository.RoundRepository,
	panels *repository.PanelRepository,
	feedback *repository.FeedbackRepository,
	summarizer Summarizer,
	publisher events.Publisher,
	consensusThreshold int,
) *RoundService {
	return &RoundService{
		db:         db,
		topics:     topics,
		rounds:     rounds,
		panels:     panels,
		feedback:   feedback,
		summarizer: summarizer,
		events:     publisher,
		threshold:  consensusThreshold,
		now:        time.Now,
	}
}

// OpenInitialRound starts round 1 of a topic and activates it
func (s *RoundService) OpenInitialRound(ctx context.Context, userID, topicID string) (*models.Round, error) {
	if err := s.authorizeAdmin(ctx, userID, topicID); err != nil {
		return nil, err
	}

	ctx, cancel := database.Detach(ctx)
	defer cancel()

	var round *models.Round
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		topic, err := s.lockOpenTopic(ctx, tx, topicID)
		if err != nil {
			return err
		}

		round, err = s.createRound(ctx, tx, topic.ID, 1)
		return err
	})
	if err != nil {
		return nil, translateTxError(err, "Topic already has an active round")
	}

	slog.Info("Opened initial round", "topic_id", topicID, "round_id", round.ID)
	return round, nil
}

// AdvanceRound starts the next round of a topic. It fails while a round is still active.
func (s *RoundService) AdvanceRound(ctx context.Context, userID, topicID string) (*models.Round, error) {
	if err := s.authorizeAdmin(ctx, userID, topicID); err != nil {
		return nil, err
	}

	ctx, cancel := database.Detach(ctx)
	defer cancel()

	var round *models.Round
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		topic, err := s.lockOpenTopic(ctx, tx, topicID)
		if err != nil {
			return err
		}

		round, err = s.createRound(ctx, tx, topic.ID, topic.RoundNumber+1)
		return err
	})
	if err != nil {
		return nil, translateTxError(err, "Topic already has an active round")
	}

	slog.Info("Advanced round", "topic_id", topicID, "round_number", round.RoundNumber)
	return round, nil
}

// lockOpenTopic locks the topic row and checks it can take a new round
func (s *RoundService) lockOpenTopic(ctx context.Context, tx *sqlx.Tx, topicID string) (*models.Topic, error) {
	topic, err := s.topics.GetForUpdate(ctx, tx, topicID)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, apperrors.NotFound("Topic not found")
	}
	if topic.Status == models.TopicStatusCompleted {
		return nil, apperrors.Conflict("Topic is already completed")
	}

	active, err := s.rounds.HasActive(ctx, tx, topicID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, apperrors.Conflict("Topic already has an active round")
	}
	return topic, nil
}

func (s *RoundService) createRound(ctx context.Context, tx *sqlx.Tx, topicID string, roundNumber int) (*models.Round, error) {
	now := s.now().UTC()
	round := &models.Round{
		ID:          models.RoundID(topicID, roundNumber),
		TopicID:     topicID,
		RoundNumber: roundNumber,
		Status:      models.RoundStatusActive,
		StartDate:   now,
		CreatedAt:   now,
	}
	if err := s.rounds.Create(ctx, tx, round); err != nil {
		return nil, err
	}
	if err := s.topics.SetCurrentRound(ctx, tx, topicID, roundNumber, round.ID); err != nil {
		return nil, err
	}
	return round, nil
}

// CloseRound completes an active round with its summary and consensus snapshot.
// A summary failure leaves the round active.
func (s *RoundService) CloseRound(ctx context.Context, userID, topicID string, roundNumber int) (*models.Round, error) {
	topic, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}

	round, err := s.rounds.Get(ctx, topicID, roundNumber)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round")
	}
	if round == nil {
		return nil, apperrors.NotFound("Round not found")
	}
	if round.Status != models.RoundStatusActive {
		return nil, apperrors.Conflict("Round is not active")
	}

	summary, err := s.summarizer.SummarizeRound(ctx, topicID, roundNumber)
	if err != nil {
		slog.Error("Failed to summarize round", "topic_id", topicID, "round_number", roundNumber, "error", err)
		return nil, apperrors.Internal(err, "failed to summarize round")
	}

	// the summary is paid for; store it even if the caller is gone
	ctx, cancel := database.Detach(ctx)
	defer cancel()

	items, err := s.feedback.List(ctx, models.FeedbackFilter{TopicID: topicID, RoundNumber: roundNumber})
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round feedback")
	}
	metrics := consensus.Calculate(items, panel.MemberCount())

	endDate := s.now().UTC()
	closed, err := s.rounds.Complete(ctx, round.ID, endDate, summary, metrics)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to close round")
	}
	if !closed {
		return nil, apperrors.Conflict("Round is not active")
	}

	round.Status = models.RoundStatusCompleted
	round.EndDate = &endDate
	round.Summary = &summary
	round.Consensus = &metrics

	slog.Info("Closed round",
		"topic_id", topicID,
		"round_number", roundNumber,
		"consensus_level", metrics.ConsensusLevel,
		"participation_rate", metrics.ParticipationRate,
	)

	s.events.Publish(ctx, events.RoundClosed{Topic: *topic, Round: *round, Metrics: metrics})
	if metrics.TotalFeedback > 0 && metrics.ConsensusLevel >= s.threshold {
		s.events.Publish(ctx, events.ConsensusReached{Topic: *topic, Round: *round, Metrics: metrics})
	}

	return round, nil
}

// CompleteTopic finishes a topic once no round is active
func (s *RoundService) CompleteTopic(ctx context.Context, userID, topicID string) error {
	if err := s.authorizeAdmin(ctx, userID, topicID); err != nil {
		return err
	}

	ctx, cancel := database.Detach(ctx)
	defer cancel()

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		topic, err := s.lockOpenTopic(ctx, tx, topicID)
		if err != nil {
			return err
		}
		return s.topics.SetStatus(ctx, tx, topic.ID, models.TopicStatusCompleted)
	})
	if err != nil {
		return translateTxError(err, "Topic cannot be completed")
	}

	slog.Info("Completed topic", "topic_id", topicID)
	return nil
}

// GetCurrentRound returns the topic's active round
func (s *RoundService) GetCurrentRound(ctx context.Context, userID, topicID string) (*models.Round, error) {
	if err := s.authorizeMember(ctx, userID, topicID); err != nil {
		return nil, err
	}

	round, err := s.rounds.GetActive(ctx, topicID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round")
	}
	if round == nil {
		return nil, apperrors.NotFound("Topic has no active round")
	}
	return round, nil
}

// GetRound returns one round of a topic
func (s *RoundService) GetRound(ctx context.Context, userID, topicID string, roundNumber int) (*models.Round, error) {
	if err := s.authorizeMember(ctx, userID, topicID); err != nil {
		return nil, err
	}

	round, err := s.rounds.Get(ctx, topicID, roundNumber)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round")
	}
	if round == nil {
		return nil, apperrors.NotFound("Round not found")
	}
	return round, nil
}

// ListRounds returns all rounds of a topic in order
func (s *RoundService) ListRounds(ctx context.Context, userID, topicID string) ([]models.Round, error) {
	if err := s.authorizeMember(ctx, userID, topicID); err != nil {
		return nil, err
	}

	rounds, err := s.rounds.List(ctx, topicID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list rounds")
	}
	return rounds, nil
}

func (s *RoundService) authorizeAdmin(ctx context.Context, userID, topicID string) error {
	_, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return err
	}
	return requireAdmin(panel, userID)
}

func (s *RoundService) authorizeMember(ctx context.Context, userID, topicID string) error {
	_, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return err
	}
	return requireMember(panel, userID)
}

// translateTxError keeps classified errors, maps unique violations to Conflict
// and collapses everything else to Internal
func translateTxError(err error, conflictMessage string) error {
	if apperrors.KindOf(err) != apperrors.KindInternal {
		return err
	}
	if database.IsUniqueViolation(err) {
		return apperrors.Wrap(err, apperrors.KindConflict, conflictMessage)
	}
	return apperrors.Internal(err, "transaction failed")
}
