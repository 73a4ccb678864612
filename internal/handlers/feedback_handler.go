package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kpessa/delphi-webapp/internal/consensus"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// FeedbackUseCases is the feedback behaviour the handler depends on
type FeedbackUseCases interface {
	Submit(ctx context.Context, expertID string, in service.SubmitFeedbackInput) (*models.Feedback, error)
	List(ctx context.Context, userID string, filter models.FeedbackFilter) ([]models.Feedback, error)
	SetAgreement(ctx context.Context, expertID, feedbackID string, level int) error
	ToggleVote(ctx context.Context, userID, feedbackID string, direction service.VoteDirection) (*models.Feedback, error)
	PreviousRoundAgreements(ctx context.Context, expertID, topicID string, roundNumber int) (map[string]int, error)
}

// FeedbackHandler handles feedback submission, agreement and voting requests
type FeedbackHandler struct {
	feedback FeedbackUseCases
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(feedback FeedbackUseCases) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// FeedbackView is feedback as shown to panel members. Authors and individual
// agreements stay hidden; the caller only learns about their own.
type FeedbackView struct {
	ID          string              `json:"id"`
	TopicID     string              `json:"topicId"`
	RoundNumber int                 `json:"roundNumber"`
	Type        models.FeedbackType `json:"type"`
	Content     string              `json:"content"`
	ParentID    *string             `json:"parentId,omitempty"`
	Metadata    models.Metadata     `json:"metadata,omitempty"`
	IsMine      bool                `json:"isMine"`
	MyAgreement *int                `json:"myAgreement,omitempty"`
	MyVote      string              `json:"myVote,omitempty"`
	Upvotes     int                 `json:"upvotes"`
	Downvotes   int                 `json:"downvotes"`
	Stats       consensus.ItemStats `json:"stats"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

func newFeedbackView(fb *models.Feedback, viewerID string) FeedbackView {
	view := FeedbackView{
		ID:          fb.ID,
		TopicID:     fb.TopicID,
		RoundNumber: fb.RoundNumber,
		Type:        fb.Type,
		Content:     fb.Content,
		ParentID:    fb.ParentID,
		Metadata:    fb.Metadata,
		IsMine:      fb.ExpertID == viewerID,
		Upvotes:     len(fb.Upvotes),
		Downvotes:   len(fb.Downvotes),
		Stats:       consensus.Item(fb.Agreements),
		CreatedAt:   fb.CreatedAt,
		UpdatedAt:   fb.UpdatedAt,
	}
	if level, ok := fb.Agreements[viewerID]; ok {
		view.MyAgreement = &level
	}
	for _, id := range fb.Upvotes {
		if id == viewerID {
			view.MyVote = string(service.VoteUp)
		}
	}
	for _, id := range fb.Downvotes {
		if id == viewerID {
			view.MyVote = string(service.VoteDown)
		}
	}
	return view
}

// SubmitFeedbackRequest is the body of a feedback submission. The author is
// always the authenticated caller.
type SubmitFeedbackRequest struct {
	Type     models.FeedbackType `json:"type"`
	Content  string              `json:"content"`
	ParentID *string             `json:"parentId,omitempty"`
	Metadata models.Metadata     `json:"metadata,omitempty"`
}

// Submit records feedback in the topic's active round
// @Summary Submit feedback
// @Description Submit an idea, solution, concern, vote or refinement to the active round
// @Tags Feedback
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param request body SubmitFeedbackRequest true "Feedback"
// @Success 201 {object} FeedbackView
// @Failure 400 {object} ErrorResponse "Invalid feedback"
// @Failure 403 {object} ErrorResponse "Not a panel member"
// @Failure 409 {object} ErrorResponse "No active round"
// @Router /topics/{id}/feedback [post]
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SubmitFeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	fb, err := h.feedback.Submit(r.Context(), userID, service.SubmitFeedbackInput{
		TopicID:  r.PathValue("id"),
		Type:     req.Type,
		Content:  req.Content,
		ParentID: req.ParentID,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, newFeedbackView(fb, userID))
}

// List returns the feedback of a topic
// @Summary List feedback
// @Description List a topic's feedback, optionally filtered by round, type or parent
// @Tags Feedback
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param round query int false "Round number"
// @Param type query string false "Feedback type"
// @Param parentId query string false "Parent feedback ID"
// @Param limit query int false "Maximum items"
// @Success 200 {array} FeedbackView
// @Failure 403 {object} ErrorResponse "Not a panel member"
// @Router /topics/{id}/feedback [get]
func (h *FeedbackHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	round, err := queryInt(r, "round")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	q := r.URL.Query()
	items, err := h.feedback.List(r.Context(), userID, models.FeedbackFilter{
		TopicID:     r.PathValue("id"),
		RoundNumber: round,
		Type:        models.FeedbackType(q.Get("type")),
		ParentID:    q.Get("parentId"),
		Limit:       limit,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	views := make([]FeedbackView, 0, len(items))
	for i := range items {
		views = append(views, newFeedbackView(&items[i], userID))
	}
	respondWithJSON(w, http.StatusOK, views)
}

// PreviousAgreements returns the caller's own agreements from an earlier round
// @Summary Previous round agreements
// @Description Get the caller's agreement levels from a previous round, keyed by feedback ID
// @Tags Feedback
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param round query int true "Round number"
// @Success 200 {object} map[string]int
// @Failure 400 {object} ErrorResponse "Invalid round"
// @Router /topics/{id}/feedback/previous-agreements [get]
func (h *FeedbackHandler) PreviousAgreements(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	round, err := queryInt(r, "round")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	agreements, err := h.feedback.PreviousRoundAgreements(r.Context(), userID, r.PathValue("id"), round)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if agreements == nil {
		agreements = map[string]int{}
	}
	respondWithJSON(w, http.StatusOK, agreements)
}

// AgreementRequest sets an agreement level from -2 to 2
type AgreementRequest struct {
	Level int `json:"level"`
}

// SetAgreement records the caller's agreement with a feedback item
// @Summary Set agreement
// @Description Record the caller's agreement level (-2..2), replacing any earlier level
// @Tags Feedback
// @Accept json
// @Security BearerAuth
// @Param id path string true "Feedback ID"
// @Param request body AgreementRequest true "Agreement"
// @Success 204
// @Failure 400 {object} ErrorResponse "Invalid level"
// @Failure 404 {object} ErrorResponse "Feedback not found"
// @Router /feedback/{id}/agreement [put]
func (h *FeedbackHandler) SetAgreement(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AgreementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	if err := h.feedback.SetAgreement(r.Context(), userID, r.PathValue("id"), req.Level); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VoteRequest is an up or down vote
type VoteRequest struct {
	Direction service.VoteDirection `json:"direction"`
}

// Vote toggles the caller's up/down vote on a feedback item
// @Summary Vote on feedback
// @Description Toggle an up or down vote. Voting the same way twice withdraws the vote.
// @Tags Feedback
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Feedback ID"
// @Param request body VoteRequest true "Vote"
// @Success 200 {object} FeedbackView
// @Failure 400 {object} ErrorResponse "Invalid direction"
// @Failure 404 {object} ErrorResponse "Feedback not found"
// @Router /feedback/{id}/vote [post]
func (h *FeedbackHandler) Vote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req VoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	fb, err := h.feedback.ToggleVote(r.Context(), userID, r.PathValue("id"), req.Direction)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newFeedbackView(fb, userID))
}
