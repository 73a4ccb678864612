package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/email"
	"github.com/kpessa/delphi-webapp/internal/models"
)

const (
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 100
	MaxNotificationTitle     = 200
	MaxNotificationMessage   = 1000

	defaultDigestConcurrency = 4
)

// NotificationStore persists notification records
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferenceStore persists notification preferences
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	Upsert(ctx context.Context, prefs *models.NotificationPreferences) error
}

// DigestQueue holds notifications waiting for a digest email
type DigestQueue interface {
	Enqueue(ctx context.Context, entry *models.DigestEntry) error
	PendingUsers(ctx context.Context, frequencies []models.EmailFrequency) ([]string, error)
	ListForUser(ctx context.Context, userID string, frequencies []models.EmailFrequency) ([]models.DigestEntry, error)
	DeleteByIDs(ctx context.Context, ids []int64) error
}

// UserDirectory resolves identities to contact details
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Limiter admits or rejects an action for a key
type Limiter interface {
	Allow(key string) bool
}

// NotificationDeps are the collaborators of the notification service
type NotificationDeps struct {
	Store             NotificationStore
	Preferences       PreferenceStore
	Digests           DigestQueue
	Users             UserDirectory
	Topics            TopicReader
	Panels            PanelReader
	Mailer            email.Sender
	Limiter           Limiter
	Catalog           *NotificationCatalog
	AppURL            string
	DigestConcurrency int
}

// NotificationService creates, delivers and streams per-user notifications
type NotificationService struct {
	store       NotificationStore
	prefs       PreferenceStore
	digests     DigestQueue
	users       UserDirectory
	topics      TopicReader
	panels      PanelReader
	mailer      email.Sender
	limiter     Limiter
	catalog     *NotificationCatalog
	appURL      string
	concurrency int
	hub         *snapshotHub
	now         func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(deps NotificationDeps) *NotificationService {
	concurrency := deps.DigestConcurrency
	if concurrency < 1 {
		concurrency = defaultDigestConcurrency
	}
	return &NotificationService{
		store:       deps.Store,
		prefs:       deps.Preferences,
		digests:     deps.Digests,
		users:       deps.Users,
		topics:      deps.Topics,
		panels:      deps.Panels,
		mailer:      deps.Mailer,
		limiter:     deps.Limiter,
		catalog:     deps.Catalog,
		appURL:      deps.AppURL,
		concurrency: concurrency,
		hub:         newSnapshotHub(),
		now:         time.Now,
	}
}

// Notify creates a notification of the payload's type for every recipient,
// honouring each recipient's preferences. Delivery failures are logged and
// never returned; only an invalid payload or template is an error.
// It returns the number of in-app records created.
func (s *NotificationService) Notify(ctx context.Context, recipients []string, payload models.NotificationPayload, vars TemplateVars) (int, error) {
	if err := payload.Validate(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindInvalidArgument, err.Error())
	}

	notificationType := payload.NotificationType()
	title, message, err := s.catalog.Render(notificationType, vars)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to render notification")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to encode notification data")
	}

	created := 0
	for _, userID := range uniqueStrings(recipients) {
		if userID == "" {
			continue
		}
		n := &models.Notification{
			UserID:  userID,
			Type:    notificationType,
			Title:   title,
			Message: message,
			Data:    models.JSONB(data),
		}
		if s.deliver(ctx, n) {
			created++
		}
	}
	return created, nil
}

// deliver applies the recipient's preferences to n and reports whether the
// in-app record was written
func (s *NotificationService) deliver(ctx context.Context, n *models.Notification) bool {
	prefs := s.preferencesOrDefault(ctx, n.UserID)
	if !prefs.Enabled(n.Type) {
		slog.Debug("Notification type disabled by user", "user_id", n.UserID, "type", n.Type)
		return false
	}

	if err := s.insert(ctx, n); err != nil {
		slog.Error("Failed to create notification", "user_id", n.UserID, "type", n.Type, "error", err)
		return false
	}

	if prefs.Email {
		s.deliverEmail(ctx, prefs, n)
	}
	return true
}

func (s *NotificationService) insert(ctx context.Context, n *models.Notification) error {
	n.ID = uuid.NewString()
	n.Read = false
	n.CreatedAt = s.now().UTC()
	if err := s.store.Create(ctx, n); err != nil {
		return err
	}
	s.refresh(ctx, n.UserID)
	return nil
}

func (s *NotificationService) deliverEmail(ctx context.Context, prefs *models.NotificationPreferences, n *models.Notification) {
	address := s.emailAddress(ctx, n.UserID)
	if address == "" {
		slog.Debug("Recipient has no email address, in-app only", "user_id", n.UserID)
		return
	}

	switch prefs.EmailFrequency {
	case models.EmailDaily, models.EmailWeekly:
		entry := &models.DigestEntry{
			UserID:         n.UserID,
			Frequency:      prefs.EmailFrequency,
			NotificationID: n.ID,
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Message,
			Data:           n.Data,
			CreatedAt:      n.CreatedAt,
		}
		if err := s.digests.Enqueue(ctx, entry); err != nil {
			slog.Error("Failed to enqueue digest entry", "user_id", n.UserID, "notification_id", n.ID, "error", err)
		}
	default:
		if s.mailer == nil || !s.mailer.Configured() {
			slog.Debug("Email transport not configured, skipping notification email", "user_id", n.UserID)
			return
		}
		if err := s.mailer.Send(ctx, email.NotificationEmail(address, n, s.appURL)); err != nil {
			slog.Error("Failed to send notification email", "user_id", n.UserID, "notification_id", n.ID, "error", err)
		}
	}
}

func (s *NotificationService) emailAddress(ctx context.Context, userID string) string {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		slog.Error("Failed to look up notification recipient", "user_id", userID, "error", err)
		return ""
	}
	if user == nil {
		return ""
	}
	return strings.TrimSpace(user.Email)
}

// CreateNotificationInput is a client-originated notification request
type CreateNotificationInput struct {
	UserID  string                  `json:"userId,omitempty"`
	Type    models.NotificationType `json:"type"`
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Data    json.RawMessage         `json:"data,omitempty"`
}

// CreateFromClient stores a notification requested by an authenticated client.
// Calls are rate limited per caller. The target defaults to the caller; another
// user may only be targeted by an administrator of the referenced panel.
// Client notifications are in-app only.
func (s *NotificationService) CreateFromClient(ctx context.Context, callerID string, in CreateNotificationInput) (*models.Notification, error) {
	if s.limiter != nil && !s.limiter.Allow(callerID) {
		slog.Warn("Notification rate limit exceeded", "user_id", callerID)
		return nil, apperrors.RateLimited("Too many notifications, please try again later")
	}

	payload, err := validateNotificationInput(in)
	if err != nil {
		return nil, err
	}

	target := strings.TrimSpace(in.UserID)
	if target == "" {
		target = callerID
	}
	if target != callerID {
		if err := s.authorizeTarget(ctx, callerID, payload); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to encode notification data")
	}

	n := &models.Notification{
		UserID:  target,
		Type:    in.Type,
		Title:   strings.TrimSpace(in.Title),
		Message: strings.TrimSpace(in.Message),
		Data:    models.JSONB(data),
	}
	if err := s.insert(ctx, n); err != nil {
		return nil, apperrors.Internal(err, "failed to create notification")
	}

	slog.Info("Created notification", "id", n.ID, "user_id", target, "type", n.Type, "created_by", callerID)
	return n, nil
}

func validateNotificationInput(in CreateNotificationInput) (models.NotificationPayload, error) {
	if in.Type == "" {
		return nil, apperrors.InvalidArgument("type is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.InvalidArgument("title is required")
	}
	if len(title) > MaxNotificationTitle {
		return nil, apperrors.Newf(apperrors.KindInvalidArgument, "title must be at most %d characters", MaxNotificationTitle)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, apperrors.InvalidArgument("message is required")
	}
	if len(message) > MaxNotificationMessage {
		return nil, apperrors.Newf(apperrors.KindInvalidArgument, "message must be at most %d characters", MaxNotificationMessage)
	}

	payload, err := models.DecodePayload(in.Type, in.Data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInvalidArgument, err.Error())
	}
	return payload, nil
}

// authorizeTarget requires the caller to administer the panel the payload refers to
func (s *NotificationService) authorizeTarget(ctx context.Context, callerID string, payload models.NotificationPayload) error {
	panelID := ""
	if inv, ok := payload.(*models.InvitationPayload); ok {
		panelID = inv.PanelID
	} else if topicID := models.TopicIDOf(payload); topicID != "" {
		topic, _, err := loadTopic(ctx, s.topics, s.panels, topicID)
		if err != nil {
			return err
		}
		panelID = topic.PanelID
	}
	if panelID == "" {
		return apperrors.Unauthorized("You may only create notifications for yourself")
	}

	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return err
	}
	if !panel.IsAdmin(callerID) {
		return apperrors.Unauthorized("Only panel administrators can notify other users")
	}
	return nil
}

// List returns the user's newest notifications
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	items, err := s.store.ListByUser(ctx, userID, clampLimit(limit, DefaultNotificationLimit, MaxNotificationLimit))
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, nil
}

// UnreadCount counts the user's unread notifications
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one of the user's own notifications read
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ok, err := s.store.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return apperrors.Internal(err, "failed to mark notification read")
	}
	if !ok {
		return apperrors.NotFound("Notification not found")
	}
	s.refresh(ctx, userID)
	return nil
}

// MarkAllRead marks all of the user's notifications read
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to mark notifications read")
	}
	if count > 0 {
		s.refresh(ctx, userID)
	}
	return count, nil
}

// GetPreferences returns the user's preferences, storing the defaults on first read
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	prefs, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load notification preferences")
	}
	if prefs != nil {
		return prefs, nil
	}

	prefs = models.DefaultNotificationPreferences(userID)
	if err := s.prefs.Upsert(ctx, prefs); err != nil {
		return nil, apperrors.Internal(err, "failed to save notification preferences")
	}
	return prefs, nil
}

func (s *NotificationService) preferencesOrDefault(ctx context.Context, userID string) *models.NotificationPreferences {
	prefs, err := s.prefs.Get(ctx, userID)
	if err != nil {
		slog.Error("Failed to load notification preferences, using defaults", "user_id", userID, "error", err)
	}
	if prefs == nil {
		return models.DefaultNotificationPreferences(userID)
	}
	return prefs
}

// UpdatePreferencesInput carries a partial preferences update; nil fields keep their value
type UpdatePreferencesInput struct {
	Email                *bool                  `json:"email,omitempty"`
	EmailFrequency       *models.EmailFrequency `json:"emailFrequency,omitempty"`
	TopicAssigned        *bool                  `json:"topicAssigned,omitempty"`
	NewFeedback          *bool                  `json:"newFeedback,omitempty"`
	RoundClosed          *bool                  `json:"roundClosed,omitempty"`
	ConsensusReached     *bool                  `json:"consensusReached,omitempty"`
	Invitation           *bool                  `json:"invitation,omitempty"`
	Sound                *bool                  `json:"sound,omitempty"`
	BrowserNotifications *bool                  `json:"browserNotifications,omitempty"`
}

// UpdatePreferences merges in into the user's stored preferences
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, in UpdatePreferencesInput) (*models.NotificationPreferences, error) {
	if in.EmailFrequency != nil && !in.EmailFrequency.Valid() {
		return nil, apperrors.InvalidArgument("emailFrequency must be one of immediate, daily, weekly")
	}

	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	setBool(&prefs.Email, in.Email)
	setBool(&prefs.TopicAssigned, in.TopicAssigned)
	setBool(&prefs.NewFeedback, in.NewFeedback)
	setBool(&prefs.RoundClosed, in.RoundClosed)
	setBool(&prefs.ConsensusReached, in.ConsensusReached)
	setBool(&prefs.Invitation, in.Invitation)
	setBool(&prefs.Sound, in.Sound)
	setBool(&prefs.BrowserNotifications, in.BrowserNotifications)
	if in.EmailFrequency != nil {
		prefs.EmailFrequency = *in.EmailFrequency
	}
	prefs.UserID = userID

	if err := s.prefs.Upsert(ctx, prefs); err != nil {
		return nil, apperrors.Internal(err, "failed to save notification preferences")
	}

	slog.Info("Updated notification preferences", "user_id", userID, "email", prefs.Email, "frequency", prefs.EmailFrequency)
	return prefs, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// DeleteOlderThan removes notifications older than age
func (s *NotificationService) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to delete old notifications")
	}
	if deleted > 0 {
		slog.Info("Deleted old notifications", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Subscribe streams snapshots of the user's latest notifications and unread
// count: one immediately and one after every change. The channel is closed
// when ctx is done.
func (s *NotificationService) Subscribe(ctx context.Context, userID string) (<-chan Snapshot, error) {
	sub := s.hub.add(userID)

	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		s.hub.remove(userID, sub)
		return nil, apperrors.Internal(err, "failed to load notifications")
	}
	s.hub.deliverTo(sub, snap)

	go func() {
		<-ctx.Done()
		s.hub.remove(userID, sub)
	}()

	return sub.ch, nil
}

func (s *NotificationService) snapshot(ctx context.Context, userID string) (Snapshot, error) {
	items, err := s.store.ListByUser(ctx, userID, DefaultNotificationLimit)
	if err != nil {
		return Snapshot{}, err
	}
	unread, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if items == nil {
		items = []models.Notification{}
	}
	return Snapshot{Notifications: items, UnreadCount: unread}, nil
}

// refresh pushes a new snapshot to the user's subscribers, if any
func (s *NotificationService) refresh(ctx context.Context, userID string) {
	if !s.hub.has(userID) {
		return
	}
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		slog.Error("Failed to refresh notification snapshot", "user_id", userID, "error", err)
		return
	}
	s.hub.deliver(userID, snap)
}

// DigestFrequencies returns the digest frequencies due at now: daily always,
// weekly only on the configured weekday
func DigestFrequencies(now time.Time, weeklyWeekday time.Weekday) []models.EmailFrequency {
	freqs := []models.EmailFrequency{models.EmailDaily}
	if now.Weekday() == weeklyWeekday {
		freqs = append(freqs, models.EmailWeekly)
	}
	return freqs
}

// SendDigests flushes the queued entries of the given frequencies, one email
// per user. Entries are deleted only after their email was sent, so a re-run
// never sends an entry twice. It returns the number of digests sent.
func (s *NotificationService) SendDigests(ctx context.Context, frequencies []models.EmailFrequency) (int, error) {
	if s.mailer == nil || !s.mailer.Configured() {
		slog.Warn("Email transport not configured, digest entries stay queued")
		return 0, nil
	}

	users, err := s.digests.PendingUsers(ctx, frequencies)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to list digest recipients")
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, userID := range users {
		g.Go(func() error {
			ok, err := s.sendDigest(gctx, userID, frequencies)
			if err != nil {
				slog.Error("Failed to send digest", "user_id", userID, "error", err)
				return nil
			}
			if ok {
				sent.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}

	slog.Info("Digest sweep finished", "frequencies", frequencies, "recipients", len(users), "sent", sent.Load())
	return int(sent.Load()), ctx.Err()
}

func (s *NotificationService) sendDigest(ctx context.Context, userID string, frequencies []models.EmailFrequency) (bool, error) {
	entries, err := s.digests.ListForUser(ctx, userID, frequencies)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	address := s.emailAddress(ctx, userID)
	if address == "" {
		slog.Warn("Dropping digest entries for user without email", "user_id", userID, "count", len(entries))
		return false, s.digests.DeleteByIDs(ctx, ids)
	}

	if err := s.mailer.Send(ctx, email.DigestEmail(address, entries, s.appURL, s.now())); err != nil {
		return false, err
	}
	if err := s.digests.DeleteByIDs(ctx, ids); err != nil {
		return true, err
	}
	return true, nil
}
