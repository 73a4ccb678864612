package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/database"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/repository"
)

// Feedback limits
const (
	MaxFeedbackLength    = 5000
	DefaultFeedbackLimit = 100
	MaxFeedbackLimit     = 500
)

// VoteDirection is the legacy up/down vote direction
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// SubmitFeedbackInput carries the client-supplied fields of new feedback.
// The author is always the authenticated caller.
type SubmitFeedbackInput struct {
	TopicID  string
	Type     models.FeedbackType
	Content  string
	ParentID *string
	Metadata models.Metadata
}

// FeedbackService records expert submissions, agreements and votes
type FeedbackService struct {
	db       *sqlx.DB
	feedback *repository.FeedbackRepository
	topics   *repository.TopicRepository
	rounds   *repository.RoundRepository
	panels   *repository.PanelRepository
	events   events.Publisher
	now      func() time.Time
}

// NewFeedbackService creates a new feedback service
func NewFeedbackService(
	db *sqlx.DB,
	feedback *repository.FeedbackRepository,
	topics *repository.TopicRepository,
	rounds *repository.RoundRepository,
	panels *repository.PanelRepository,
	publisher events.Publisher,
) *FeedbackService {
	return &FeedbackService{
		db:       db,
		feedback: feedback,
		topics:   topics,
		rounds:   rounds,
		panels:   panels,
		events:   publisher,
		now:      time.Now,
	}
}

// Submit records feedback from expertID in the topic's active round
func (s *FeedbackService) Submit(ctx context.Context, expertID string, in SubmitFeedbackInput) (*models.Feedback, error) {
	if err := validateFeedbackInput(in); err != nil {
		return nil, err
	}

	topic, panel, err := loadTopic(ctx, s.topics, s.panels, in.TopicID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, expertID); err != nil {
		return nil, err
	}

	round, err := s.rounds.GetActive(ctx, topic.ID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load active round")
	}
	if round == nil {
		return nil, apperrors.Conflict("Topic has no active round")
	}

	if in.ParentID != nil && *in.ParentID != "" {
		parent, err := s.feedback.GetByID(ctx, *in.ParentID)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to load parent feedback")
		}
		if parent == nil || parent.TopicID != topic.ID {
			return nil, apperrors.InvalidArgument("Parent feedback must belong to the same topic")
		}
	} else {
		in.ParentID = nil
	}

	now := s.now().UTC()
	fb := &models.Feedback{
		ID:          uuid.NewString(),
		TopicID:     topic.ID,
		PanelID:     topic.PanelID,
		RoundID:     round.ID,
		RoundNumber: round.RoundNumber,
		ExpertID:    expertID,
		Type:        in.Type,
		Content:     strings.TrimSpace(in.Content),
		ParentID:    in.ParentID,
		Agreements:  models.Agreements{},
		Upvotes:     []string{},
		Downvotes:   []string{},
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if fb.Metadata == nil {
		fb.Metadata = models.Metadata{}
	}

	ctx, cancel := database.Detach(ctx)
	defer cancel()

	if err := s.feedback.Create(ctx, fb); err != nil {
		// topic or parent removed since it was loaded
		if database.IsForeignKeyViolation(err) {
			return nil, apperrors.Wrap(err, apperrors.KindNotFound, "Topic or parent feedback not found")
		}
		return nil, apperrors.Internal(err, "failed to create feedback")
	}

	slog.Info("Feedback submitted", "feedback_id", fb.ID, "topic_id", fb.TopicID, "round_number", fb.RoundNumber)
	s.events.Publish(ctx, events.FeedbackCreated{Feedback: *fb, Topic: *topic})

	return fb, nil
}

func validateFeedbackInput(in SubmitFeedbackInput) error {
	if in.TopicID == "" {
		return apperrors.InvalidArgument("topicId is required")
	}
	if !in.Type.Valid() {
		return apperrors.InvalidArgument("type must be one of idea, solution, concern, vote, refinement")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return apperrors.InvalidArgument("content is required")
	}
	if utf8.RuneCountInString(content) > MaxFeedbackLength {
		return apperrors.Newf(apperrors.KindInvalidArgument, "content must be at most %d characters", MaxFeedbackLength)
	}
	return nil
}

// Get returns a feedback item visible to userID
func (s *FeedbackService) Get(ctx context.Context, userID, feedbackID string) (*models.Feedback, error) {
	fb, err := s.feedback.GetByID(ctx, feedbackID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load feedback")
	}
	if fb == nil {
		return nil, apperrors.NotFound("Feedback not found")
	}

	panel, err := loadPanel(ctx, s.panels, fb.PanelID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}
	return fb, nil
}

// SetAgreement records expertID's agreement level with a feedback item,
// overwriting any previous level from the same expert
func (s *FeedbackService) SetAgreement(ctx context.Context, expertID, feedbackID string, level int) error {
	if level < models.MinAgreement || level > models.MaxAgreement {
		return apperrors.Newf(apperrors.KindInvalidArgument,
			"level must be between %d and %d", models.MinAgreement, models.MaxAgreement)
	}

	fb, err := s.Get(ctx, expertID, feedbackID)
	if err != nil {
		return err
	}
	if err := s.requireOpenRound(ctx, s.db, fb); err != nil {
		return err
	}

	ctx, cancel := database.Detach(ctx)
	defer cancel()

	// the update re-checks the round, so a close in between still wins
	ok, err := s.feedback.SetAgreement(ctx, feedbackID, expertID, level)
	if err != nil {
		return apperrors.Internal(err, "failed to set agreement")
	}
	if !ok {
		return apperrors.Conflict("Round is closed")
	}
	return nil
}

// requireOpenRound rejects changes to feedback of a completed round
func (s *FeedbackService) requireOpenRound(ctx context.Context, q sqlx.QueryerContext, fb *models.Feedback) error {
	active, err := s.rounds.IsActive(ctx, q, fb.RoundID)
	if err != nil {
		return apperrors.Internal(err, "failed to check round")
	}
	if !active {
		return apperrors.Conflict("Round is closed")
	}
	return nil
}

// ToggleVote applies a legacy up/down vote. Voting the other way moves the
// vote; voting the same way again withdraws it.
func (s *FeedbackService) ToggleVote(ctx context.Context, userID, feedbackID string, direction VoteDirection) (*models.Feedback, error) {
	if direction != VoteUp && direction != VoteDown {
		return nil, apperrors.InvalidArgument("direction must be up or down")
	}

	if _, err := s.Get(ctx, userID, feedbackID); err != nil {
		return nil, err
	}

	ctx, cancel := database.Detach(ctx)
	defer cancel()

	var fb *models.Feedback
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		fb, err = s.feedback.GetForUpdate(ctx, tx, feedbackID)
		if err != nil {
			return err
		}
		if fb == nil {
			return apperrors.NotFound("Feedback not found")
		}
		if err := s.requireOpenRound(ctx, tx, fb); err != nil {
			return err
		}

		fb.Upvotes, fb.Downvotes = applyVote(fb.Upvotes, fb.Downvotes, userID, direction)
		return s.feedback.SetVotes(ctx, tx, fb.ID, fb.Upvotes, fb.Downvotes)
	})
	if err != nil {
		return nil, translateTxError(err, "Vote conflicted with a concurrent update")
	}
	return fb, nil
}

// applyVote returns the vote sets after userID votes in direction.
// userID ends up in at most one of the two sets.
func applyVote(up, down []string, userID string, direction VoteDirection) ([]string, []string) {
	target, other := up, down
	if direction == VoteDown {
		target, other = down, up
	}

	other = removeString(other, userID)
	if contains(target, userID) {
		target = removeString(target, userID)
	} else {
		target = append(append([]string{}, target...), userID)
	}

	if direction == VoteDown {
		return other, target
	}
	return target, other
}

// List returns feedback of one topic matching filter
func (s *FeedbackService) List(ctx context.Context, userID string, filter models.FeedbackFilter) ([]models.Feedback, error) {
	if filter.TopicID == "" {
		return nil, apperrors.InvalidArgument("topicId is required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperrors.InvalidArgument("invalid feedback type")
	}

	_, panel, err := loadTopic(ctx, s.topics, s.panels, filter.TopicID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, userID); err != nil {
		return nil, err
	}

	filter.Limit = clampLimit(filter.Limit, DefaultFeedbackLimit, MaxFeedbackLimit)

	items, err := s.feedback.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list feedback")
	}
	return items, nil
}

// PreviousRoundAgreements returns the levels expertID gave in the round before
// roundNumber, keyed by feedback id
func (s *FeedbackService) PreviousRoundAgreements(ctx context.Context, expertID, topicID string, roundNumber int) (map[string]int, error) {
	result := map[string]int{}
	if roundNumber <= 1 {
		return result, nil
	}

	_, panel, err := loadTopic(ctx, s.topics, s.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(panel, expertID); err != nil {
		return nil, err
	}

	// every item of the round, not a page
	items, err := s.feedback.List(ctx, models.FeedbackFilter{TopicID: topicID, RoundNumber: roundNumber - 1})
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load previous round feedback")
	}

	for _, fb := range items {
		if level, ok := fb.Agreements[expertID]; ok {
			result[fb.ID] = level
		}
	}
	return result, nil
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}
