package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kpessa/delphi-webapp/internal/email"
	"github.com/kpessa/delphi-webapp/internal/models"
)

type mockLLM struct {
	mock.Mock
	enabled bool
}

func (m *mockLLM) Enabled() bool { return m.enabled }

func (m *mockLLM) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type mockFeedbackLister struct {
	mock.Mock
}

func (m *mockFeedbackLister) List(ctx context.Context, filter models.FeedbackFilter) ([]models.Feedback, error) {
	args := m.Called(ctx, filter)
	items, _ := args.Get(0).([]models.Feedback)
	return items, args.Error(1)
}

type mockSender struct {
	mock.Mock
	configured bool
}

func (m *mockSender) Configured() bool { return m.configured }

func (m *mockSender) Send(ctx context.Context, msg email.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// In-memory stores for the notification service

type memNotificationStore struct {
	mu    sync.Mutex
	items []models.Notification
	err   error
}

func (s *memNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	// behave like the driver: no writes on a finished context
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, *n)
	return nil
}

func (s *memNotificationStore) ListByUser(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		if s.items[i].UserID == userID {
			out = append(out, s.items[i])
		}
	}
	return out, nil
}

func (s *memNotificationStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *memNotificationStore) MarkRead(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].UserID == userID {
			s.items[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

func (s *memNotificationStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for i := range s.items {
		if s.items[i].UserID == userID && !s.items[i].Read {
			s.items[i].Read = true
			count++
		}
	}
	return count, nil
}

func (s *memNotificationStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	var deleted int64
	for _, n := range s.items {
		if n.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	return deleted, nil
}

func (s *memNotificationStore) forUser(userID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type memPreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]models.NotificationPreferences
}

func (s *memPreferenceStore) Get(_ context.Context, userID string) (*models.NotificationPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memPreferenceStore) Upsert(_ context.Context, prefs *models.NotificationPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		s.prefs = map[string]models.NotificationPreferences{}
	}
	s.prefs[prefs.UserID] = *prefs
	return nil
}

type memDigestQueue struct {
	mu      sync.Mutex
	nextID  int64
	entries []models.DigestEntry
}

func (q *memDigestQueue) Enqueue(_ context.Context, entry *models.DigestEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.UserID == entry.UserID && e.NotificationID == entry.NotificationID {
			return nil
		}
	}
	q.nextID++
	e := *entry
	e.ID = q.nextID
	q.entries = append(q.entries, e)
	return nil
}

func (q *memDigestQueue) PendingUsers(_ context.Context, frequencies []models.EmailFrequency) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := map[string]bool{}
	var users []string
	for _, e := range q.entries {
		if hasFrequency(frequencies, e.Frequency) && !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (q *memDigestQueue) ListForUser(_ context.Context, userID string, frequencies []models.EmailFrequency) ([]models.DigestEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.DigestEntry
	for _, e := range q.entries {
		if e.UserID == userID && hasFrequency(frequencies, e.Frequency) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *memDigestQueue) DeleteByIDs(_ context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return nil
}

func (q *memDigestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func hasFrequency(freqs []models.EmailFrequency, f models.EmailFrequency) bool {
	for _, v := range freqs {
		if v == f {
			return true
		}
	}
	return false
}

type memUsers map[string]models.User

func (u memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (u memUsers) GetByEmail(_ context.Context, address string) (*models.User, error) {
	for _, user := range u {
		if strings.EqualFold(user.Email, address) {
			return &user, nil
		}
	}
	return nil, nil
}

type memPanels map[string]models.Panel

func (p memPanels) GetByID(_ context.Context, id string) (*models.Panel, error) {
	panel, ok := p[id]
	if !ok {
		return nil, nil
	}
	return &panel, nil
}

type memTopics map[string]models.Topic

func (t memTopics) GetByID(_ context.Context, id string) (*models.Topic, error) {
	topic, ok := t[id]
	if !ok {
		return nil, nil
	}
	return &topic, nil
}

// countLimiter admits the first max calls per key
type countLimiter struct {
	mu    sync.Mutex
	max   int
	calls map[string]int
}

func (l *countLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[key]++
	return l.calls[key] <= l.max
}
