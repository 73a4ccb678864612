package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/middleware"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

type mockNotifications struct {
	mock.Mock
	snapshots chan service.Snapshot
}

func (m *mockNotifications) CreateFromClient(ctx context.Context, callerID string, in service.CreateNotificationInput) (*models.Notification, error) {
	args := m.Called(ctx, callerID, in)
	n, _ := args.Get(0).(*models.Notification)
	return n, args.Error(1)
}

func (m *mockNotifications) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit)
	items, _ := args.Get(0).([]models.Notification)
	return items, args.Error(1)
}

func (m *mockNotifications) UnreadCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotifications) MarkRead(ctx context.Context, userID, notificationID string) error {
	return m.Called(ctx, userID, notificationID).Error(0)
}

func (m *mockNotifications) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotifications) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*models.NotificationPreferences)
	return p, args.Error(1)
}

func (m *mockNotifications) UpdatePreferences(ctx context.Context, userID string, in service.UpdatePreferencesInput) (*models.NotificationPreferences, error) {
	args := m.Called(ctx, userID, in)
	p, _ := args.Get(0).(*models.NotificationPreferences)
	return p, args.Error(1)
}

func (m *mockNotifications) Subscribe(context.Context, string) (<-chan service.Snapshot, error) {
	return m.snapshots, nil
}

type mockFeedback struct {
	mock.Mock
}

func (m *mockFeedback) Submit(ctx context.Context, expertID string, in service.SubmitFeedbackInput) (*models.Feedback, error) {
	args := m.Called(ctx, expertID, in)
	fb, _ := args.Get(0).(*models.Feedback)
	return fb, args.Error(1)
}

func (m *mockFeedback) List(ctx context.Context, userID string, filter models.FeedbackFilter) ([]models.Feedback, error) {
	args := m.Called(ctx, userID, filter)
	items, _ := args.Get(0).([]models.Feedback)
	return items, args.Error(1)
}

func (m *mockFeedback) SetAgreement(ctx context.Context, expertID, feedbackID string, level int) error {
	return m.Called(ctx, expertID, feedbackID, level).Error(0)
}

func (m *mockFeedback) ToggleVote(ctx context.Context, userID, feedbackID string, direction service.VoteDirection) (*models.Feedback, error) {
	args := m.Called(ctx, userID, feedbackID, direction)
	fb, _ := args.Get(0).(*models.Feedback)
	return fb, args.Error(1)
}

func (m *mockFeedback) PreviousRoundAgreements(ctx context.Context, expertID, topicID string, roundNumber int) (map[string]int, error) {
	args := m.Called(ctx, expertID, topicID, roundNumber)
	levels, _ := args.Get(0).(map[string]int)
	return levels, args.Error(1)
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestCreateNotification(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &mockNotifications{}
		svc.On("CreateFromClient", mock.Anything, "user-1", service.CreateNotificationInput{
			Type:    models.NotificationInvitation,
			Title:   "Hello",
			Message: "World",
		}).Return(&models.Notification{ID: "n-1"}, nil)

		h := NewNotificationHandler(svc, nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/notifications",
			strings.NewReader(`{"type":"invitation","title":"Hello","message":"World"}`)), "user-1")
		rec := httptest.NewRecorder()
		h.Create(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "n-1", decodeBody(t, rec)["id"])
		svc.AssertExpectations(t)
	})

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"invalid", apperrors.InvalidArgument("title is required"), http.StatusBadRequest, "invalid-argument"},
		{"rate limited", apperrors.RateLimited("Too many notifications"), http.StatusTooManyRequests, "resource-exhausted"},
		{"forbidden", apperrors.Unauthorized("Not a panel administrator"), http.StatusForbidden, "permission-denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockNotifications{}
			svc.On("CreateFromClient", mock.Anything, "user-1", mock.Anything).Return(nil, tt.err)

			h := NewNotificationHandler(svc, nil)
			req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/notifications",
				strings.NewReader(`{"type":"invitation"}`)), "user-1")
			rec := httptest.NewRecorder()
			h.Create(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantErr, body["code"])
			assert.Equal(t, apperrors.Message(tt.err), body["error"])
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		h := NewNotificationHandler(&mockNotifications{}, nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(`{`)), "user-1")
		rec := httptest.NewRecorder()
		h.Create(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrMsgInvalidRequestBody, decodeBody(t, rec)["error"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := NewNotificationHandler(&mockNotifications{}, nil)
		rec := httptest.NewRecorder()
		h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthenticated", decodeBody(t, rec)["code"])
	})
}

func TestListNotificationsReturnsEmptyArray(t *testing.T) {
	svc := &mockNotifications{}
	svc.On("List", mock.Anything, "user-1", 5).Return([]models.Notification(nil), nil)

	h := NewNotificationHandler(svc, nil)
	rec := httptest.NewRecorder()
	h.List(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5", nil), "user-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNotificationStream(t *testing.T) {
	svc := &mockNotifications{snapshots: make(chan service.Snapshot, 1)}
	svc.snapshots <- service.Snapshot{
		Notifications: []models.Notification{{ID: "n-1", UserID: "user-1", Title: "Round closed"}},
		UnreadCount:   1,
	}
	close(svc.snapshots)

	h := NewNotificationHandler(svc, nil)
	h.pingInterval = time.Hour
	rec := httptest.NewRecorder()
	h.Stream(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil), "user-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: snapshot\ndata: "), body)
	data := strings.TrimSuffix(strings.TrimPrefix(body, "event: snapshot\ndata: "), "\n\n")

	var snap service.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, 1, snap.UnreadCount)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, "n-1", snap.Notifications[0].ID)
}

func TestSubmitFeedbackIgnoresClientAuthor(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	svc := &mockFeedback{}
	svc.On("Submit", mock.Anything, "expert-1", service.SubmitFeedbackInput{
		TopicID: "topic-1",
		Type:    models.FeedbackTypeIdea,
		Content: "Screen with qSOFA",
	}).Return(&models.Feedback{
		ID:          "fb-1",
		TopicID:     "topic-1",
		RoundNumber: 1,
		ExpertID:    "expert-1",
		Type:        models.FeedbackTypeIdea,
		Content:     "Screen with qSOFA",
		Agreements:  models.Agreements{"expert-2": 2},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/topics/{id}/feedback", NewFeedbackHandler(svc).Submit)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/topics/topic-1/feedback",
		strings.NewReader(`{"type":"idea","content":"Screen with qSOFA","expertId":"someone-else"}`)), "expert-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotContains(t, body, "expertId")
	assert.NotContains(t, body, "agreements")
	assert.Equal(t, true, body["isMine"])
	assert.NotContains(t, body, "myAgreement")
	svc.AssertExpectations(t)
}

func TestPreviousAgreementsNeverNull(t *testing.T) {
	svc := &mockFeedback{}
	svc.On("PreviousRoundAgreements", mock.Anything, "expert-1", "topic-1", 1).Return(map[string]int{}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/topics/{id}/feedback/previous-agreements", NewFeedbackHandler(svc).PreviousAgreements)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet,
		"/api/v1/topics/topic-1/feedback/previous-agreements?round=1", nil), "expert-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestSetAgreementValidation(t *testing.T) {
	svc := &mockFeedback{}
	svc.On("SetAgreement", mock.Anything, "expert-1", "fb-1", 5).
		Return(apperrors.InvalidArgument("level must be between -2 and 2"))

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/feedback/{id}/agreement", NewFeedbackHandler(svc).SetAgreement)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPut,
		"/api/v1/feedback/fb-1/agreement", strings.NewReader(`{"level":5}`)), "expert-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid-argument", decodeBody(t, rec)["code"])
}
