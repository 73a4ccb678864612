package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/email"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
)

type notificationFixture struct {
	svc     *NotificationService
	store   *memNotificationStore
	prefs   *memPreferenceStore
	digests *memDigestQueue
	mailer  *mockSender
}

func newNotificationFixture(t *testing.T, limit int) *notificationFixture {
	t.Helper()

	catalog, err := DefaultNotificationCatalog()
	require.NoError(t, err)

	f := &notificationFixture{
		store:   &memNotificationStore{},
		prefs:   &memPreferenceStore{},
		digests: &memDigestQueue{},
		mailer:  &mockSender{configured: true},
	}
	f.svc = NewNotificationService(NotificationDeps{
		Store:       f.store,
		Preferences: f.prefs,
		Digests:     f.digests,
		Users: memUsers{
			"admin-1":  {ID: "admin-1", Email: "admin@example.com", DisplayName: "Dr. Admin"},
			"expert-1": {ID: "expert-1", Email: "one@example.com"},
			"expert-2": {ID: "expert-2", Email: "two@example.com"},
			"no-email": {ID: "no-email"},
		},
		Topics: memTopics{
			"topic-1": {ID: "topic-1", PanelID: "panel-1", Title: "Sepsis bundle", CreatedBy: "admin-1", TotalRounds: 2},
		},
		Panels: memPanels{
			"panel-1": {
				ID:        "panel-1",
				Name:      "Critical Care",
				AdminIDs:  []string{"admin-1"},
				ExpertIDs: []string{"expert-1", "expert-2"},
			},
		},
		Mailer:  f.mailer,
		Limiter: &countLimiter{max: limit},
		Catalog: catalog,
		AppURL:  "https://delphi.example.com",
	})
	f.svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *notificationFixture) setPrefs(userID string, mutate func(p *models.NotificationPreferences)) {
	p := models.DefaultNotificationPreferences(userID)
	mutate(p)
	_ = f.prefs.Upsert(context.Background(), p)
}

func TestNotificationCatalogCoversEveryType(t *testing.T) {
	catalog, err := DefaultNotificationCatalog()
	require.NoError(t, err)

	for _, nt := range models.NotificationTypes {
		title, message, err := catalog.Render(nt, TemplateVars{
			TopicTitle: "Sepsis bundle", PanelName: "Critical Care", RoundNumber: 2, ConsensusLevel: 80,
			FeedbackType: "idea", InviterName: "Dr. Admin",
		})
		require.NoError(t, err, nt)
		assert.NotEmpty(t, title, nt)
		assert.NotEmpty(t, message, nt)
	}

	_, err = ParseNotificationCatalog([]byte("topic_assigned:\n  title: x\n  message: y\n"))
	assert.Error(t, err, "catalog missing types must be rejected")
}

func TestNotifyImmediateEmail(t *testing.T) {
	f := newNotificationFixture(t, 10)
	f.mailer.On("Send", mock.Anything, mock.MatchedBy(func(msg email.Message) bool {
		return msg.To == "one@example.com" && msg.Subject == "New topic: Sepsis bundle"
	})).Return(nil).Once()

	count, err := f.svc.Notify(context.Background(), []string{"expert-1", "expert-1"},
		&models.TopicAssignedPayload{TopicID: "topic-1", PanelID: "panel-1"},
		TemplateVars{TopicTitle: "Sepsis bundle", PanelName: "Critical Care"})
	require.NoError(t, err)

	assert.Equal(t, 1, count, "duplicate recipients are notified once")
	records := f.store.forUser("expert-1")
	require.Len(t, records, 1)
	assert.Equal(t, models.NotificationTopicAssigned, records[0].Type)
	assert.False(t, records[0].Read)
	assert.JSONEq(t, `{"topicId":"topic-1","panelId":"panel-1"}`, string(records[0].Data))
	f.mailer.AssertExpectations(t)
}

func TestNotifyHonoursPreferences(t *testing.T) {
	f := newNotificationFixture(t, 10)
	f.setPrefs("expert-1", func(p *models.NotificationPreferences) { p.RoundClosed = false })
	f.setPrefs("expert-2", func(p *models.NotificationPreferences) { p.Email = false })

	count, err := f.svc.Notify(context.Background(), []string{"expert-1", "expert-2"},
		&models.RoundClosedPayload{TopicID: "topic-1", RoundNumber: 1},
		TemplateVars{TopicTitle: "Sepsis bundle", RoundNumber: 1, ConsensusLevel: 40})
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	assert.Empty(t, f.store.forUser("expert-1"), "disabled type is skipped")
	assert.Len(t, f.store.forUser("expert-2"), 1, "in-app record is kept without email")
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestNotifySwallowsEmailFailure(t *testing.T) {
	f := newNotificationFixture(t, 10)
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("relay down"))

	count, err := f.svc.Notify(context.Background(), []string{"expert-1"},
		&models.TopicAssignedPayload{TopicID: "topic-1"}, TemplateVars{TopicTitle: "Sepsis bundle"})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNotifyWithoutEmailAddress(t *testing.T) {
	f := newNotificationFixture(t, 10)

	count, err := f.svc.Notify(context.Background(), []string{"no-email", "unknown-user"},
		&models.TopicAssignedPayload{TopicID: "topic-1"}, TemplateVars{TopicTitle: "Sepsis bundle"})

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Zero(t, f.digests.len())
}

func TestNotifyRejectsInvalidPayload(t *testing.T) {
	f := newNotificationFixture(t, 10)

	_, err := f.svc.Notify(context.Background(), []string{"expert-1"}, &models.TopicAssignedPayload{}, TemplateVars{})
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestDigestQueueAndSweep(t *testing.T) {
	f := newNotificationFixture(t, 10)
	f.setPrefs("expert-1", func(p *models.NotificationPreferences) { p.EmailFrequency = models.EmailDaily })
	f.setPrefs("expert-2", func(p *models.NotificationPreferences) { p.EmailFrequency = models.EmailWeekly })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.svc.Notify(ctx, []string{"expert-1", "expert-2"},
			&models.TopicAssignedPayload{TopicID: "topic-1"}, TemplateVars{TopicTitle: "Sepsis bundle"})
		require.NoError(t, err)
	}
	require.Equal(t, 4, f.digests.len())

	f.mailer.On("Send", mock.Anything, mock.MatchedBy(func(msg email.Message) bool {
		return msg.To == "one@example.com"
	})).Return(nil).Once()

	// 2026-03-03 is a Tuesday; weekly digests go out on Mondays
	freqs := DigestFrequencies(time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), time.Monday)
	sent, err := f.svc.SendDigests(ctx, freqs)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, f.digests.len(), "weekly entries wait for their weekday")

	// Re-running finds nothing left for daily recipients
	sent, err = f.svc.SendDigests(ctx, freqs)
	require.NoError(t, err)
	assert.Zero(t, sent)
	f.mailer.AssertExpectations(t)
}

func TestDigestSweepKeepsEntriesOnFailure(t *testing.T) {
	f := newNotificationFixture(t, 10)
	f.setPrefs("expert-1", func(p *models.NotificationPreferences) { p.EmailFrequency = models.EmailDaily })

	ctx := context.Background()
	_, err := f.svc.Notify(ctx, []string{"expert-1"},
		&models.TopicAssignedPayload{TopicID: "topic-1"}, TemplateVars{TopicTitle: "Sepsis bundle"})
	require.NoError(t, err)

	f.mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("relay down"))

	sent, err := f.svc.SendDigests(ctx, []models.EmailFrequency{models.EmailDaily})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, f.digests.len())
}

func TestDigestFrequencies(t *testing.T) {
	monday := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, []models.EmailFrequency{models.EmailDaily, models.EmailWeekly}, DigestFrequencies(monday, time.Monday))
	assert.Equal(t, []models.EmailFrequency{models.EmailDaily}, DigestFrequencies(monday.AddDate(0, 0, 1), time.Monday))
}

func TestCreateFromClientRateLimit(t *testing.T) {
	f := newNotificationFixture(t, 10)
	in := CreateNotificationInput{
		Type:    models.NotificationNewFeedback,
		Title:   "Reminder",
		Message: "Please review the latest feedback",
		Data:    json.RawMessage(`{"topicId":"topic-1"}`),
	}

	for i := 0; i < 10; i++ {
		_, err := f.svc.CreateFromClient(context.Background(), "expert-1", in)
		require.NoError(t, err, "call %d", i+1)
	}

	_, err := f.svc.CreateFromClient(context.Background(), "expert-1", in)
	assert.Equal(t, apperrors.KindRateLimited, apperrors.KindOf(err))

	_, err = f.svc.CreateFromClient(context.Background(), "expert-2", in)
	assert.NoError(t, err, "limits are per user")
}

func TestCreateFromClientValidation(t *testing.T) {
	f := newNotificationFixture(t, 100)

	tests := []struct {
		name string
		in   CreateNotificationInput
		kind apperrors.Kind
	}{
		{"missing type", CreateNotificationInput{Title: "t", Message: "m"}, apperrors.KindInvalidArgument},
		{"unknown type", CreateNotificationInput{Type: "party", Title: "t", Message: "m"}, apperrors.KindInvalidArgument},
		{"missing title", CreateNotificationInput{Type: models.NotificationNewFeedback, Message: "m", Data: json.RawMessage(`{"topicId":"topic-1"}`)}, apperrors.KindInvalidArgument},
		{"missing message", CreateNotificationInput{Type: models.NotificationNewFeedback, Title: "t", Data: json.RawMessage(`{"topicId":"topic-1"}`)}, apperrors.KindInvalidArgument},
		{"topic payload without topicId", CreateNotificationInput{Type: models.NotificationRoundClosed, Title: "t", Message: "m"}, apperrors.KindInvalidArgument},
		{"round_closed without roundNumber", CreateNotificationInput{Type: models.NotificationRoundClosed, Title: "t", Message: "m", Data: json.RawMessage(`{"topicId":"topic-1"}`)}, apperrors.KindInvalidArgument},
		{"consensus_reached with round 0", CreateNotificationInput{Type: models.NotificationConsensusReached, Title: "t", Message: "m", Data: json.RawMessage(`{"topicId":"topic-1","roundNumber":0,"consensusLevel":80}`)}, apperrors.KindInvalidArgument},
		{"invitation without panelId", CreateNotificationInput{Type: models.NotificationInvitation, Title: "t", Message: "m", Data: json.RawMessage(`{"topicId":"topic-1"}`)}, apperrors.KindInvalidArgument},
		{"malformed data", CreateNotificationInput{Type: models.NotificationTopicAssigned, Title: "t", Message: "m", Data: json.RawMessage(`[1,2]`)}, apperrors.KindInvalidArgument},
		{"other user as expert", CreateNotificationInput{UserID: "expert-2", Type: models.NotificationNewFeedback, Title: "t", Message: "m", Data: json.RawMessage(`{"topicId":"topic-1"}`)}, apperrors.KindUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateFromClient(context.Background(), "expert-1", tt.in)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
		})
	}
}

func TestCreateFromClientAdminTargetsExpert(t *testing.T) {
	f := newNotificationFixture(t, 10)

	n, err := f.svc.CreateFromClient(context.Background(), "admin-1", CreateNotificationInput{
		UserID:  "expert-2",
		Type:    models.NotificationInvitation,
		Title:   "Welcome",
		Message: "Please join",
		Data:    json.RawMessage(`{"panelId":"panel-1"}`),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "expert-2", n.UserID)
	assert.Len(t, f.store.forUser("expert-2"), 1)
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	f := newNotificationFixture(t, 10)
	ctx := context.Background()
	f.setPrefs("expert-1", func(p *models.NotificationPreferences) { p.Email = false })

	for i := 0; i < 3; i++ {
		_, err := f.svc.Notify(ctx, []string{"expert-1"}, &models.TopicAssignedPayload{TopicID: "topic-1"}, TemplateVars{})
		require.NoError(t, err)
	}

	items, err := f.svc.List(ctx, "expert-1", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.NoError(t, f.svc.MarkRead(ctx, "expert-1", items[0].ID))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(f.svc.MarkRead(ctx, "expert-2", items[1].ID)))

	unread, err := f.svc.UnreadCount(ctx, "expert-1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	marked, err := f.svc.MarkAllRead(ctx, "expert-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)
}

func TestPreferencesDefaultsAndMerge(t *testing.T) {
	f := newNotificationFixture(t, 10)
	ctx := context.Background()

	prefs, err := f.svc.GetPreferences(ctx, "expert-1")
	require.NoError(t, err)
	assert.True(t, prefs.Email)
	assert.Equal(t, models.EmailImmediate, prefs.EmailFrequency)
	assert.False(t, prefs.BrowserNotifications)

	weekly := models.EmailWeekly
	off := false
	updated, err := f.svc.UpdatePreferences(ctx, "expert-1", UpdatePreferencesInput{EmailFrequency: &weekly, NewFeedback: &off})
	require.NoError(t, err)
	assert.Equal(t, models.EmailWeekly, updated.EmailFrequency)
	assert.False(t, updated.NewFeedback)
	assert.True(t, updated.TopicAssigned, "unspecified fields keep their value")

	bogus := models.EmailFrequency("hourly")
	_, err = f.svc.UpdatePreferences(ctx, "expert-1", UpdatePreferencesInput{EmailFrequency: &bogus})
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestDeleteOlderThan(t *testing.T) {
	f := newNotificationFixture(t, 10)
	now := f.svc.now()
	f.store.items = []models.Notification{
		{ID: "old", UserID: "expert-1", CreatedAt: now.Add(-31 * 24 * time.Hour)},
		{ID: "new", UserID: "expert-1", CreatedAt: now.Add(-time.Hour)},
	}

	deleted, err := f.svc.DeleteOlderThan(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, f.store.items, 1)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	f := newNotificationFixture(t, 10)
	f.setPrefs("expert-1", func(p *models.NotificationPreferences) { p.Email = false })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.svc.Subscribe(ctx, "expert-1")
	require.NoError(t, err)

	first := receiveSnapshot(t, ch)
	assert.Empty(t, first.Notifications)
	assert.Zero(t, first.UnreadCount)

	// Two changes without reading in between: only the newest survives
	for i := 0; i < 2; i++ {
		_, err := f.svc.Notify(context.Background(), []string{"expert-1"}, &models.TopicAssignedPayload{TopicID: "topic-1"}, TemplateVars{})
		require.NoError(t, err)
	}
	latest := receiveSnapshot(t, ch)
	assert.Equal(t, 2, latest.UnreadCount)
	assert.Len(t, latest.Notifications, 2)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func receiveSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestTriggers(t *testing.T) {
	f := newNotificationFixture(t, 10)
	for _, id := range []string{"admin-1", "expert-1", "expert-2"} {
		f.setPrefs(id, func(p *models.NotificationPreferences) { p.Email = false })
	}

	bus := events.NewBus()
	f.svc.RegisterTriggers(bus)
	ctx := context.Background()
	topic := models.Topic{ID: "topic-1", PanelID: "panel-1", Title: "Sepsis bundle", CreatedBy: "admin-1", TotalRounds: 2}
	summary := "Experts **agree** on early antibiotics."

	bus.Publish(ctx, events.TopicCreated{Topic: topic})
	assert.Len(t, f.store.forUser("expert-1"), 1)
	assert.Len(t, f.store.forUser("expert-2"), 1)
	assert.Empty(t, f.store.forUser("admin-1"))

	bus.Publish(ctx, events.FeedbackCreated{Topic: topic, Feedback: models.Feedback{ID: "fb-1", ExpertID: "admin-1", RoundNumber: 1}})
	assert.Empty(t, f.store.forUser("admin-1"), "creators are not told about their own feedback")

	bus.Publish(ctx, events.FeedbackCreated{Topic: topic, Feedback: models.Feedback{ID: "fb-2", ExpertID: "expert-1", RoundNumber: 1, Type: models.FeedbackTypeIdea}})
	require.Len(t, f.store.forUser("admin-1"), 1)
	assert.Equal(t, models.NotificationNewFeedback, f.store.forUser("admin-1")[0].Type)

	round := models.Round{ID: models.RoundID("topic-1", 2), TopicID: "topic-1", RoundNumber: 2, Summary: &summary}
	bus.Publish(ctx, events.RoundClosed{Topic: topic, Round: round, Metrics: models.ConsensusMetrics{ConsensusLevel: 80}})
	closed := f.store.forUser("expert-2")
	require.Len(t, closed, 2)
	assert.Equal(t, models.NotificationRoundClosed, closed[1].Type)
	assert.JSONEq(t, `{"topicId":"topic-1","roundNumber":2,"finalRound":true,"summary":"Experts **agree** on early antibiotics."}`, string(closed[1].Data))

	bus.Publish(ctx, events.ConsensusReached{Topic: topic, Round: round, Metrics: models.ConsensusMetrics{ConsensusLevel: 80}})
	assert.Len(t, f.store.forUser("admin-1"), 2, "admins hear about consensus")
	assert.Len(t, f.store.forUser("expert-1"), 3)

	bus.Publish(ctx, events.InvitationCreated{Invitation: models.PanelInvitation{ID: "inv-1", PanelID: "panel-1", PanelName: "Critical Care", Email: "TWO@example.com", InvitedBy: "admin-1"}})
	invited := f.store.forUser("expert-2")
	require.Len(t, invited, 4)
	assert.Equal(t, "Dr. Admin invited you to join Critical Care as an expert.", invited[3].Message)

	bus.Publish(ctx, events.InvitationCreated{Invitation: models.PanelInvitation{ID: "inv-2", PanelID: "panel-1", Email: "stranger@example.com"}})
	assert.Len(t, f.store.items, 9, "unknown invitees get no in-app record")
}

func TestTriggersSurviveCancelledRequest(t *testing.T) {
	f := newNotificationFixture(t, 10)
	for _, id := range []string{"admin-1", "expert-1", "expert-2"} {
		f.setPrefs(id, func(p *models.NotificationPreferences) { p.Email = false })
	}

	bus := events.NewBus()
	f.svc.RegisterTriggers(bus)

	// the client went away after the round committed
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	topic := models.Topic{ID: "topic-1", PanelID: "panel-1", Title: "Sepsis bundle", CreatedBy: "admin-1", TotalRounds: 2}
	round := models.Round{ID: models.RoundID("topic-1", 1), TopicID: "topic-1", RoundNumber: 1}
	bus.Publish(ctx, events.RoundClosed{Topic: topic, Round: round, Metrics: models.ConsensusMetrics{ConsensusLevel: 40}})

	for _, id := range []string{"expert-1", "expert-2"} {
		stored := f.store.forUser(id)
		require.Len(t, stored, 1, "round_closed for %s", id)
		assert.Equal(t, models.NotificationRoundClosed, stored[0].Type)
	}
}
