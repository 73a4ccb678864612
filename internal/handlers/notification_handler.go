package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// streamPingInterval keeps idle event streams open through proxies
const streamPingInterval = 25 * time.Second

// NotificationUseCases is the notification behaviour the handler depends on
type NotificationUseCases interface {
	CreateFromClient(ctx context.Context, callerID string, in service.CreateNotificationInput) (*models.Notification, error)
	List(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	GetPreferences(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	UpdatePreferences(ctx context.Context, userID string, in service.UpdatePreferencesInput) (*models.NotificationPreferences, error)
	Subscribe(ctx context.Context, userID string) (<-chan service.Snapshot, error)
}

// StreamTicketIssuer issues short-lived credentials for the event stream
type StreamTicketIssuer interface {
	IssueStreamTicket(userID string) (string, time.Time, error)
}

// NotificationHandler handles in-app notification requests
type NotificationHandler struct {
	notifications NotificationUseCases
	tickets       StreamTicketIssuer
	pingInterval  time.Duration
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications NotificationUseCases, tickets StreamTicketIssuer) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		tickets:       tickets,
		pingInterval:  streamPingInterval,
	}
}

// CreateNotificationResponse carries the id of a created notification
type CreateNotificationResponse struct {
	ID string `json:"id"`
}

// Create stores a client-originated notification
// @Summary Create notification
// @Description Create a notification for the caller, or for another user when the caller administers the referenced panel. Rate limited per caller.
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateNotificationInput true "Notification"
// @Success 201 {object} CreateNotificationResponse
// @Failure 400 {object} ErrorResponse "Invalid notification"
// @Failure 401 {object} ErrorResponse "Unauthenticated"
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Router /notifications [post]
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.CreateNotificationInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	n, err := h.notifications.CreateFromClient(r.Context(), userID, in)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, CreateNotificationResponse{ID: n.ID})
}

// List returns the caller's newest notifications
// @Summary List notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum items (default 20)"
// @Success 200 {array} models.Notification
// @Router /notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	items, err := h.notifications.List(r.Context(), userID, limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, items)
}

// UnreadCountResponse is the caller's unread notification count
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// UnreadCount returns how many notifications the caller has not read
// @Summary Unread notification count
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UnreadCountResponse
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	count, err := h.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// MarkRead marks one notification read
// @Summary Mark notification read
// @Tags Notifications
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 404 {object} ErrorResponse "Notification not found"
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(r.Context(), userID, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllReadResponse reports how many notifications were marked
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// MarkAllRead marks every notification of the caller read
// @Summary Mark all notifications read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MarkAllReadResponse
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	updated, err := h.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, MarkAllReadResponse{Updated: updated})
}

// GetPreferences returns the caller's notification preferences
// @Summary Get notification preferences
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.NotificationPreferences
// @Router /notifications/preferences [get]
func (h *NotificationHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	prefs, err := h.notifications.GetPreferences(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences changes the caller's notification preferences
// @Summary Update notification preferences
// @Description Partial update; omitted fields keep their value
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.UpdatePreferencesInput true "Preferences"
// @Success 200 {object} models.NotificationPreferences
// @Failure 400 {object} ErrorResponse "Invalid preferences"
// @Router /notifications/preferences [put]
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.UpdatePreferencesInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	prefs, err := h.notifications.UpdatePreferences(r.Context(), userID, in)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, prefs)
}

// StreamTicketResponse is a short-lived credential for the event stream
type StreamTicketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StreamTicket issues a ticket for opening the notification stream
// @Summary Issue stream ticket
// @Description EventSource cannot send headers, so the stream authenticates with a short-lived ticket query parameter
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} StreamTicketResponse
// @Router /notifications/stream-ticket [post]
func (h *NotificationHandler) StreamTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ticket, expiresAt, err := h.tickets.IssueStreamTicket(userID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StreamTicketResponse{Ticket: ticket, ExpiresAt: expiresAt})
}

// Stream pushes notification snapshots as Server-Sent Events
// @Summary Notification stream
// @Description Server-Sent Events stream. Each "snapshot" event carries the latest notifications and the unread count.
// @Tags Notifications
// @Produce text/event-stream
// @Param ticket query string false "Stream ticket"
// @Success 200 {object} service.Snapshot
// @Router /notifications/stream [get]
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	snapshots, err := h.notifications.Subscribe(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Debug("Notification stream opened", "user_id", userID)
	defer slog.Debug("Notification stream closed", "user_id", userID)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-snapshots:
			if !open {
				return
			}
			if err := writeEvent(w, "snapshot", snap); err != nil {
				slog.Warn("Failed to write notification snapshot", "user_id", userID, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(normalizeSlices(payload))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
