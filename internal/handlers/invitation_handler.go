package handlers

import (
	"context"
	"net/http"

	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// InvitationUseCases is the invitation behaviour the handler depends on
type InvitationUseCases interface {
	CreateBulk(ctx context.Context, userID, panelID string, in service.InviteExpertsInput) (*service.InviteResult, error)
	List(ctx context.Context, userID, panelID string) ([]models.PanelInvitation, error)
	GetByToken(ctx context.Context, token string) (*models.PanelInvitation, error)
	Accept(ctx context.Context, userID, token string) (*models.PanelInvitation, error)
	Decline(ctx context.Context, userID, token string) (*models.PanelInvitation, error)
	Resend(ctx context.Context, userID, invitationID string) (*models.PanelInvitation, error)
	Cancel(ctx context.Context, userID, invitationID string) error
	SendInvitationEmail(ctx context.Context, userID, invitationID string) error
}

// InvitationHandler handles panel invitation requests
type InvitationHandler struct {
	invitations InvitationUseCases
}

// NewInvitationHandler creates a new invitation handler
func NewInvitationHandler(invitations InvitationUseCases) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// Invite invites experts to a panel by email
// @Summary Invite experts
// @Description Invite up to 100 addresses. Addresses that cannot be invited are reported in failed.
// @Tags Invitations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Panel ID"
// @Param request body service.InviteExpertsInput true "Addresses"
// @Success 201 {object} service.InviteResult
// @Failure 400 {object} ErrorResponse "No valid addresses"
// @Failure 403 {object} ErrorResponse "Not a panel administrator"
// @Router /panels/{id}/invitations [post]
func (h *InvitationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.InviteExpertsInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	result, err := h.invitations.CreateBulk(r.Context(), userID, r.PathValue("id"), in)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// List returns the invitations of a panel
// @Summary List invitations
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Panel ID"
// @Success 200 {array} models.PanelInvitation
// @Router /panels/{id}/invitations [get]
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	invitations, err := h.invitations.List(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, invitations)
}

// Get looks up an invitation by its token. No authentication is needed; the
// token is the credential.
// @Summary Get invitation
// @Tags Invitations
// @Produce json
// @Param token path string true "Invitation token"
// @Success 200 {object} models.PanelInvitation
// @Failure 404 {object} ErrorResponse "Invitation not found"
// @Router /invitations/{token} [get]
func (h *InvitationHandler) Get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitations.GetByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

// Accept joins the caller to the invitation's panel
// @Summary Accept invitation
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param token path string true "Invitation token"
// @Success 200 {object} models.PanelInvitation
// @Failure 409 {object} ErrorResponse "Invitation is no longer pending or has expired"
// @Router /invitations/{token}/accept [post]
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.invitations.Accept)
}

// Decline declines an invitation
// @Summary Decline invitation
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param token path string true "Invitation token"
// @Success 200 {object} models.PanelInvitation
// @Failure 409 {object} ErrorResponse "Invitation is no longer pending or has expired"
// @Router /invitations/{token}/decline [post]
func (h *InvitationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.invitations.Decline)
}

func (h *InvitationHandler) respond(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, userID, token string) (*models.PanelInvitation, error)) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	inv, err := fn(r.Context(), userID, r.PathValue("token"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

// Resend resets the expiry of a pending invitation and emails it again
// @Summary Resend invitation
// @Tags Invitations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invitation ID"
// @Success 200 {object} models.PanelInvitation
// @Failure 409 {object} ErrorResponse "Invitation not pending or email not configured"
// @Router /invitations/{id}/resend [post]
func (h *InvitationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	inv, err := h.invitations.Resend(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

// Cancel withdraws a pending invitation
// @Summary Cancel invitation
// @Tags Invitations
// @Security BearerAuth
// @Param id path string true "Invitation ID"
// @Success 204
// @Failure 409 {object} ErrorResponse "Invitation is not pending"
// @Router /invitations/{id}/cancel [post]
func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.invitations.Cancel(r.Context(), userID, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendEmailRequest names the invitation to email
type SendEmailRequest struct {
	InvitationID string `json:"invitationId"`
}

// SendEmailResponse confirms a sent invitation email
type SendEmailResponse struct {
	Success bool `json:"success"`
}

// SendEmail emails a pending invitation to its address
// @Summary Send invitation email
// @Tags Invitations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SendEmailRequest true "Invitation"
// @Success 200 {object} SendEmailResponse
// @Failure 400 {object} ErrorResponse "Invitation ID is required"
// @Failure 404 {object} ErrorResponse "Invitation not found"
// @Failure 409 {object} ErrorResponse "Invitation is not pending"
// @Failure 500 {object} ErrorResponse "Failed to send invitation email"
// @Router /invitations/send-email [post]
func (h *InvitationHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SendEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	if err := h.invitations.SendInvitationEmail(r.Context(), userID, req.InvitationID); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SendEmailResponse{Success: true})
}
