package handlers

import (
	"context"
	"net/http"

	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// TopicAI is the model-backed behaviour behind the AI endpoints
type TopicAI interface {
	ExtractTopic(ctx context.Context, rawText, panelContext string) (*service.TopicExtraction, error)
	GenerateRoundSummary(ctx context.Context, topicID string, roundNumber int) (string, error)
}

// TopicGetter loads a topic the caller may see
type TopicGetter interface {
	Get(ctx context.Context, userID, topicID string) (*models.Topic, error)
}

// AIHandler handles topic extraction and round summary requests
type AIHandler struct {
	ai     TopicAI
	topics TopicGetter
}

// NewAIHandler creates a new AI handler
func NewAIHandler(ai TopicAI, topics TopicGetter) *AIHandler {
	return &AIHandler{ai: ai, topics: topics}
}

// ExtractTopicRequest carries unstructured text to turn into a topic draft
type ExtractTopicRequest struct {
	RawText      string `json:"rawText"`
	PanelContext string `json:"panelContext,omitempty"`
}

// ExtractTopic proposes a topic from free text
// @Summary Extract topic
// @Description Turn unstructured text into a topic draft with title, description, question and suggested feedback types
// @Tags AI
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ExtractTopicRequest true "Raw text"
// @Success 200 {object} service.TopicExtraction
// @Failure 400 {object} ErrorResponse "Missing or invalid rawText"
// @Failure 401 {object} ErrorResponse "Unauthenticated"
// @Failure 503 {object} ErrorResponse "Extraction service not configured"
// @Router /ai/extract-topic [post]
func (h *AIHandler) ExtractTopic(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var req ExtractTopicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	extraction, err := h.ai.ExtractTopic(r.Context(), req.RawText, req.PanelContext)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, extraction)
}

// RoundSummaryRequest identifies the round to summarise
type RoundSummaryRequest struct {
	TopicID     string `json:"topicId"`
	RoundNumber int    `json:"roundNumber"`
}

// RoundSummaryResponse is a generated round summary
type RoundSummaryResponse struct {
	Summary string `json:"summary"`
}

// RoundSummary generates a summary of a round's feedback
// @Summary Generate round summary
// @Description Summarise the key themes, agreements and disagreements of a round
// @Tags AI
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RoundSummaryRequest true "Round"
// @Success 200 {object} RoundSummaryResponse
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 403 {object} ErrorResponse "Not a panel member"
// @Failure 503 {object} ErrorResponse "Summary service not configured"
// @Router /ai/round-summary [post]
func (h *AIHandler) RoundSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req RoundSummaryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if req.TopicID != "" {
		if _, err := h.topics.Get(r.Context(), userID, req.TopicID); err != nil {
			respondWithAppError(w, r, err)
			return
		}
	}

	summary, err := h.ai.GenerateRoundSummary(r.Context(), req.TopicID, req.RoundNumber)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RoundSummaryResponse{Summary: summary})
}
