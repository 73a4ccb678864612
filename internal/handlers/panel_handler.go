package handlers

import (
	"context"
	"net/http"

	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// PanelUseCases is the panel behaviour the handler depends on
type PanelUseCases interface {
	Create(ctx context.Context, userID string, in service.PanelInput) (*models.Panel, error)
	Get(ctx context.Context, userID, panelID string) (*models.Panel, error)
	ListForUser(ctx context.Context, userID string) ([]models.Panel, error)
	Archive(ctx context.Context, userID, panelID string) error
	ListExperts(ctx context.Context, userID, panelID string) ([]models.Expert, error)
	RemoveExpert(ctx context.Context, userID, panelID, expertUserID string) error
}

// PanelHandler handles panel and membership requests
type PanelHandler struct {
	panels PanelUseCases
}

// NewPanelHandler creates a new panel handler
func NewPanelHandler(panels PanelUseCases) *PanelHandler {
	return &PanelHandler{panels: panels}
}

// Create creates a panel administered by the caller
// @Summary Create panel
// @Tags Panels
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.PanelInput true "Panel"
// @Success 201 {object} models.Panel
// @Failure 400 {object} ErrorResponse "Invalid panel"
// @Router /panels [post]
func (h *PanelHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.PanelInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	panel, err := h.panels.Create(r.Context(), userID, in)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, panel)
}

// List returns the panels the caller administers or belongs to
// @Summary List panels
// @Tags Panels
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Panel
// @Router /panels [get]
func (h *PanelHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	panels, err := h.panels.ListForUser(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, panels)
}

// Get returns one panel
// @Summary Get panel
// @Tags Panels
// @Produce json
// @Security BearerAuth
// @Param id path string true "Panel ID"
// @Success 200 {object} models.Panel
// @Failure 403 {object} ErrorResponse "Not a panel member"
// @Failure 404 {object} ErrorResponse "Panel not found"
// @Router /panels/{id} [get]
func (h *PanelHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	panel, err := h.panels.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, panel)
}

// Archive archives a panel
// @Summary Archive panel
// @Tags Panels
// @Security BearerAuth
// @Param id path string true "Panel ID"
// @Success 204
// @Failure 409 {object} ErrorResponse "Panel already archived"
// @Router /panels/{id}/archive [post]
func (h *PanelHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.panels.Archive(r.Context(), userID, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListExperts returns the invited and accepted experts of a panel
// @Summary List panel experts
// @Tags Panels
// @Produce json
// @Security BearerAuth
// @Param id path string true "Panel ID"
// @Success 200 {array} models.Expert
// @Failure 403 {object} ErrorResponse "Not a panel administrator"
// @Router /panels/{id}/experts [get]
func (h *PanelHandler) ListExperts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	experts, err := h.panels.ListExperts(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, experts)
}

// RemoveExpert removes an expert from a panel
// @Summary Remove panel expert
// @Tags Panels
// @Security BearerAuth
// @Param id path string true "Panel ID"
// @Param userId path string true "Expert user ID"
// @Success 204
// @Failure 404 {object} ErrorResponse "Expert is not a member of this panel"
// @Router /panels/{id}/experts/{userId} [delete]
func (h *PanelHandler) RemoveExpert(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.panels.RemoveExpert(r.Context(), userID, r.PathValue("id"), r.PathValue("userId")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
