package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// TopicUseCases is the topic behaviour the handler depends on
type TopicUseCases interface {
	Create(ctx context.Context, userID string, in service.TopicInput) (*models.Topic, error)
	CreateFromText(ctx context.Context, userID, panelID, rawText string) (*models.Topic, error)
	Get(ctx context.Context, userID, topicID string) (*models.Topic, error)
	List(ctx context.Context, userID, panelID string, status models.TopicStatus) ([]models.Topic, error)
	Update(ctx context.Context, userID, topicID string, in service.TopicInput) (*models.Topic, error)
	Delete(ctx context.Context, userID, topicID string) error
}

// TopicHandler handles topic management requests
type TopicHandler struct {
	topics TopicUseCases
}

// NewTopicHandler creates a new topic handler
func NewTopicHandler(topics TopicUseCases) *TopicHandler {
	return &TopicHandler{topics: topics}
}

// CreateTopicRequest creates a topic from explicit fields or, when rawText is
// given and title is empty, from AI extraction
type CreateTopicRequest struct {
	service.TopicInput
	RawText string `json:"rawText,omitempty"`
}

// Create adds a draft topic to a panel
// @Summary Create topic
// @Description Create a draft topic. Supplying rawText without a title extracts the topic with AI.
// @Tags Topics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateTopicRequest true "Topic"
// @Success 201 {object} models.Topic
// @Failure 400 {object} ErrorResponse "Invalid topic"
// @Failure 403 {object} ErrorResponse "Not a panel administrator"
// @Failure 503 {object} ErrorResponse "Extraction service not configured"
// @Router /topics [post]
func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateTopicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	var (
		topic *models.Topic
		err   error
	)
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.RawText) != "" {
		topic, err = h.topics.CreateFromText(r.Context(), userID, req.PanelID, req.RawText)
	} else {
		topic, err = h.topics.Create(r.Context(), userID, req.TopicInput)
	}
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, topic)
}

// List returns the topics of a panel
// @Summary List topics
// @Tags Topics
// @Produce json
// @Security BearerAuth
// @Param panelId query string true "Panel ID"
// @Param status query string false "draft, active or completed"
// @Success 200 {array} models.Topic
// @Failure 400 {object} ErrorResponse "Invalid filter"
// @Failure 403 {object} ErrorResponse "Not a panel member"
// @Router /topics [get]
func (h *TopicHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	panelID := r.URL.Query().Get("panelId")
	if panelID == "" {
		respondWithAppError(w, r, apperrors.InvalidArgument("panelId is required"))
		return
	}

	topics, err := h.topics.List(r.Context(), userID, panelID, models.TopicStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, topics)
}

// Get returns a single topic
// @Summary Get topic
// @Tags Topics
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 200 {object} models.Topic
// @Failure 404 {object} ErrorResponse "Topic not found"
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	topic, err := h.topics.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, topic)
}

// Update edits a draft topic
// @Summary Update topic
// @Description Edit the content of a draft topic
// @Tags Topics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param request body service.TopicInput true "Topic"
// @Success 200 {object} models.Topic
// @Failure 409 {object} ErrorResponse "Topic is not a draft"
// @Router /topics/{id} [put]
func (h *TopicHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.TopicInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	topic, err := h.topics.Update(r.Context(), userID, r.PathValue("id"), in)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, topic)
}

// Delete removes a draft topic
// @Summary Delete topic
// @Tags Topics
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 204
// @Failure 409 {object} ErrorResponse "Topic is not a draft"
// @Router /topics/{id} [delete]
func (h *TopicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.topics.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
