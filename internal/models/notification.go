package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NotificationType identifies the event a notification reports
type NotificationType string

const (
	NotificationTopicAssigned    NotificationType = "topic_assigned"
	NotificationNewFeedback      NotificationType = "new_feedback"
	NotificationRoundClosed      NotificationType = "round_closed"
	NotificationConsensusReached NotificationType = "consensus_reached"
	NotificationInvitation       NotificationType = "invitation"
)

// NotificationTypes lists every known notification type
var NotificationTypes = []NotificationType{
	NotificationTopicAssigned,
	NotificationNewFeedback,
	NotificationRoundClosed,
	NotificationConsensusReached,
	NotificationInvitation,
}

// Notification is a per-user event record
type Notification struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"userId" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Data      JSONB            `json:"data" db:"data"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
}

// JSONB is raw JSON held in a JSONB column
type JSONB []byte

// MarshalJSON emits the raw document
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps a copy of the raw document
func (j *JSONB) UnmarshalJSON(b []byte) error {
	*j = append((*j)[:0], b...)
	return nil
}

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSONB(nil), v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("unsupported JSON source type %T", src)
	}
	return nil
}

// NotificationPayload is the typed data attached to a notification.
// Each notification type has exactly one payload variant.
type NotificationPayload interface {
	NotificationType() NotificationType
	Validate() error
}

// TopicAssignedPayload accompanies topic_assigned
type TopicAssignedPayload struct {
	TopicID string `json:"topicId"`
	PanelID string `json:"panelId,omitempty"`
}

func (TopicAssignedPayload) NotificationType() NotificationType { return NotificationTopicAssigned }

func (p TopicAssignedPayload) Validate() error {
	if p.TopicID == "" {
		return errors.New("topicId is required")
	}
	return nil
}

// NewFeedbackPayload accompanies new_feedback
type NewFeedbackPayload struct {
	TopicID     string `json:"topicId"`
	FeedbackID  string `json:"feedbackId,omitempty"`
	RoundNumber int    `json:"roundNumber,omitempty"`
}

func (NewFeedbackPayload) NotificationType() NotificationType { return NotificationNewFeedback }

func (p NewFeedbackPayload) Validate() error {
	if p.TopicID == "" {
		return errors.New("topicId is required")
	}
	return nil
}

// RoundClosedPayload accompanies round_closed
type RoundClosedPayload struct {
	TopicID     string `json:"topicId"`
	RoundNumber int    `json:"roundNumber"`
	FinalRound  bool   `json:"finalRound,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

func (RoundClosedPayload) NotificationType() NotificationType { return NotificationRoundClosed }

func (p RoundClosedPayload) Validate() error {
	if p.TopicID == "" {
		return errors.New("topicId is required")
	}
	if p.RoundNumber < 1 {
		return errors.New("roundNumber is required")
	}
	return nil
}

// ConsensusReachedPayload accompanies consensus_reached
type ConsensusReachedPayload struct {
	TopicID        string `json:"topicId"`
	RoundNumber    int    `json:"roundNumber"`
	ConsensusLevel int    `json:"consensusLevel"`
}

func (ConsensusReachedPayload) NotificationType() NotificationType {
	return NotificationConsensusReached
}

func (p ConsensusReachedPayload) Validate() error {
	if p.TopicID == "" {
		return errors.New("topicId is required")
	}
	if p.RoundNumber < 1 {
		return errors.New("roundNumber is required")
	}
	if p.ConsensusLevel < 0 || p.ConsensusLevel > 100 {
		return errors.New("consensusLevel must be between 0 and 100")
	}
	return nil
}

// InvitationPayload accompanies invitation
type InvitationPayload struct {
	PanelID      string `json:"panelId"`
	InvitationID string `json:"invitationId,omitempty"`
}

func (InvitationPayload) NotificationType() NotificationType { return NotificationInvitation }

func (p InvitationPayload) Validate() error {
	if p.PanelID == "" {
		return errors.New("panelId is required")
	}
	return nil
}

// DecodePayload parses raw data into the payload variant for t and validates it
func DecodePayload(t NotificationType, raw json.RawMessage) (NotificationPayload, error) {
	var p NotificationPayload
	switch t {
	case NotificationTopicAssigned:
		p = &TopicAssignedPayload{}
	case NotificationNewFeedback:
		p = &NewFeedbackPayload{}
	case NotificationRoundClosed:
		p = &RoundClosedPayload{}
	case NotificationConsensusReached:
		p = &ConsensusReachedPayload{}
	case NotificationInvitation:
		p = &InvitationPayload{}
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}

	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("invalid data for %s: %w", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data for %s: %w", t, err)
	}
	return p, nil
}

// TopicIDOf returns the topic referenced by a payload, if any
func TopicIDOf(p NotificationPayload) string {
	switch v := p.(type) {
	case *TopicAssignedPayload:
		return v.TopicID
	case *NewFeedbackPayload:
		return v.TopicID
	case *RoundClosedPayload:
		return v.TopicID
	case *ConsensusReachedPayload:
		return v.TopicID
	case TopicAssignedPayload:
		return v.TopicID
	case NewFeedbackPayload:
		return v.TopicID
	case RoundClosedPayload:
		return v.TopicID
	case ConsensusReachedPayload:
		return v.TopicID
	}
	return ""
}

// EmailFrequency controls how email notifications are delivered
type EmailFrequency string

const (
	EmailImmediate EmailFrequency = "immediate"
	EmailDaily     EmailFrequency = "daily"
	EmailWeekly    EmailFrequency = "weekly"
)

// Valid reports whether f is a known frequency
func (f EmailFrequency) Valid() bool {
	return f == EmailImmediate || f == EmailDaily || f == EmailWeekly
}

// NotificationPreferences are per-user delivery settings
type NotificationPreferences struct {
	UserID               string         `json:"userId" db:"user_id"`
	Email                bool           `json:"email" db:"email"`
	EmailFrequency       EmailFrequency `json:"emailFrequency" db:"email_frequency"`
	TopicAssigned        bool           `json:"topicAssigned" db:"topic_assigned"`
	NewFeedback          bool           `json:"newFeedback" db:"new_feedback"`
	RoundClosed          bool           `json:"roundClosed" db:"round_closed"`
	ConsensusReached     bool           `json:"consensusReached" db:"consensus_reached"`
	Invitation           bool           `json:"invitation" db:"invitation"`
	Sound                bool           `json:"sound" db:"sound"`
	BrowserNotifications bool           `json:"browserNotifications" db:"browser_notifications"`
	UpdatedAt            time.Time      `json:"updatedAt" db:"updated_at"`
}

// DefaultNotificationPreferences returns the settings a new user starts with
func DefaultNotificationPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:           userID,
		Email:            true,
		EmailFrequency:   EmailImmediate,
		TopicAssigned:    true,
		NewFeedback:      true,
		RoundClosed:      true,
		ConsensusReached: true,
		Invitation:       true,
		Sound:            true,
	}
}

// Enabled reports whether the user wants notifications of type t at all
func (p *NotificationPreferences) Enabled(t NotificationType) bool {
	switch t {
	case NotificationTopicAssigned:
		return p.TopicAssigned
	case NotificationNewFeedback:
		return p.NewFeedback
	case NotificationRoundClosed:
		return p.RoundClosed
	case NotificationConsensusReached:
		return p.ConsensusReached
	case NotificationInvitation:
		return p.Invitation
	}
	return false
}

// DigestEntry is a notification waiting for a daily or weekly digest email
type DigestEntry struct {
	ID             int64            `json:"id" db:"id"`
	UserID         string           `json:"userId" db:"user_id"`
	Frequency      EmailFrequency   `json:"frequency" db:"frequency"`
	NotificationID string           `json:"notificationId" db:"notification_id"`
	Type           NotificationType `json:"type" db:"type"`
	Title          string           `json:"title" db:"title"`
	Message        string           `json:"message" db:"message"`
	Data           JSONB            `json:"data" db:"data"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
}
