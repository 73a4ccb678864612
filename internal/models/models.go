package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// User is an identity seen through a verified bearer token
type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"displayName" db:"display_name"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// TopicStatus is the lifecycle state of a topic
type TopicStatus string

const (
	TopicStatusDraft     TopicStatus = "draft"
	TopicStatusActive    TopicStatus = "active"
	TopicStatusCompleted TopicStatus = "completed"
)

// DefaultTotalRounds is used when a topic is created without a round count
const DefaultTotalRounds = 2

// Topic is a discussion item run through one or more rounds
type Topic struct {
	ID             string      `json:"id" db:"id"`
	PanelID        string      `json:"panelId" db:"panel_id"`
	Title          string      `json:"title" db:"title"`
	Description    string      `json:"description" db:"description"`
	Question       string      `json:"question" db:"question"`
	CreatedBy      string      `json:"createdBy" db:"created_by"`
	Status         TopicStatus `json:"status" db:"status"`
	RoundNumber    int         `json:"roundNumber" db:"round_number"`
	CurrentRoundID *string     `json:"currentRoundId,omitempty" db:"current_round_id"`
	TotalRounds    int         `json:"totalRounds" db:"total_rounds"`
	RawInput       *string     `json:"rawInput,omitempty" db:"raw_input"`
	AIExtracted    bool        `json:"aiExtracted" db:"ai_extracted"`
	AIConfidence   *float64    `json:"aiConfidence,omitempty" db:"ai_confidence"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" db:"updated_at"`
}

// RoundStatus is the lifecycle state of a round
type RoundStatus string

const (
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
)

// RoundID returns the deterministic id of a topic's nth round
func RoundID(topicID string, roundNumber int) string {
	return fmt.Sprintf("%s_round_%d", topicID, roundNumber)
}

// Round is one feedback cycle of a topic
type Round struct {
	ID          string            `json:"id" db:"id"`
	TopicID     string            `json:"topicId" db:"topic_id"`
	RoundNumber int               `json:"roundNumber" db:"round_number"`
	Status      RoundStatus       `json:"status" db:"status"`
	StartDate   time.Time         `json:"startDate" db:"start_date"`
	EndDate     *time.Time        `json:"endDate,omitempty" db:"end_date"`
	Summary     *string           `json:"summary,omitempty" db:"summary"`
	Consensus   *ConsensusMetrics `json:"consensus,omitempty" db:"consensus"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
}

// ConsensusMetrics are the aggregate statistics of a round
type ConsensusMetrics struct {
	ConsensusLevel    int     `json:"consensusLevel"`    // 0-100
	ParticipationRate int     `json:"participationRate"` // 0-100
	AgreementScore    float64 `json:"agreementScore"`    // 0-1
	StandardDeviation float64 `json:"standardDeviation"`
	TotalParticipants int     `json:"totalParticipants"`
	TotalFeedback     int     `json:"totalFeedback"`
}

// Value implements driver.Valuer for JSONB storage
func (m ConsensusMetrics) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB storage
func (m *ConsensusMetrics) Scan(src any) error {
	return scanJSON(src, m)
}

// FeedbackType classifies a feedback item
type FeedbackType string

const (
	FeedbackTypeIdea       FeedbackType = "idea"
	FeedbackTypeSolution   FeedbackType = "solution"
	FeedbackTypeConcern    FeedbackType = "concern"
	FeedbackTypeVote       FeedbackType = "vote"
	FeedbackTypeRefinement FeedbackType = "refinement"
)

// FeedbackTypes lists every valid feedback type in display order
var FeedbackTypes = []FeedbackType{
	FeedbackTypeIdea,
	FeedbackTypeSolution,
	FeedbackTypeConcern,
	FeedbackTypeVote,
	FeedbackTypeRefinement,
}

// Valid reports whether t is a known feedback type
func (t FeedbackType) Valid() bool {
	for _, ft := range FeedbackTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// Agreement levels
const (
	MinAgreement = -2
	MaxAgreement = 2
)

// Agreements maps expert id to agreement level
type Agreements map[string]int

// Value implements driver.Valuer for JSONB storage
func (a Agreements) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB storage
func (a *Agreements) Scan(src any) error {
	return scanJSON(src, a)
}

// Metadata is free-form JSON attached to feedback
type Metadata map[string]any

// Value implements driver.Valuer for JSONB storage
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB storage
func (m *Metadata) Scan(src any) error {
	return scanJSON(src, m)
}

// Feedback is a single expert contribution within a round
type Feedback struct {
	ID          string         `json:"id" db:"id"`
	TopicID     string         `json:"topicId" db:"topic_id"`
	PanelID     string         `json:"panelId" db:"panel_id"`
	RoundID     string         `json:"roundId" db:"round_id"`
	RoundNumber int            `json:"roundNumber" db:"round_number"`
	ExpertID    string         `json:"expertId" db:"expert_id"`
	Type        FeedbackType   `json:"type" db:"type"`
	Content     string         `json:"content" db:"content"`
	ParentID    *string        `json:"parentId,omitempty" db:"parent_id"`
	Agreements  Agreements     `json:"agreements" db:"agreements"`
	Upvotes     pq.StringArray `json:"upvotes" db:"upvotes"`
	Downvotes   pq.StringArray `json:"downvotes" db:"downvotes"`
	Metadata    Metadata       `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}

// VoteCount is the legacy net vote count
func (f *Feedback) VoteCount() int {
	return len(f.Upvotes) - len(f.Downvotes)
}

// FeedbackFilter narrows a feedback query. Zero values match everything.
type FeedbackFilter struct {
	TopicID     string
	RoundNumber int
	ExpertID    string
	Type        FeedbackType
	ParentID    string
	Limit       int
}

// PanelStatus is the lifecycle state of a panel
type PanelStatus string

const (
	PanelStatusActive   PanelStatus = "active"
	PanelStatusArchived PanelStatus = "archived"
)

// Panel is a named group of experts plus administrators
type Panel struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	CreatorID   string         `json:"creatorId" db:"creator_id"`
	AdminIDs    pq.StringArray `json:"adminIds" db:"admin_ids"`
	ExpertIDs   pq.StringArray `json:"expertIds" db:"expert_ids"`
	Status      PanelStatus    `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}

// IsAdmin reports whether userID administers the panel
func (p *Panel) IsAdmin(userID string) bool {
	return containsID(p.AdminIDs, userID)
}

// IsMember reports whether userID is an admin or expert of the panel
func (p *Panel) IsMember(userID string) bool {
	return containsID(p.AdminIDs, userID) || containsID(p.ExpertIDs, userID)
}

// MemberCount is the number of distinct admins and experts
func (p *Panel) MemberCount() int {
	seen := make(map[string]struct{}, len(p.AdminIDs)+len(p.ExpertIDs))
	for _, id := range p.AdminIDs {
		seen[id] = struct{}{}
	}
	for _, id := range p.ExpertIDs {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// ExpertStatus is the lifecycle state of an expert
type ExpertStatus string

const (
	ExpertStatusInvited  ExpertStatus = "invited"
	ExpertStatusAccepted ExpertStatus = "accepted"
	ExpertStatusDeclined ExpertStatus = "declined"
)

// Expert is an invitee to a panel
type Expert struct {
	ID           string         `json:"id" db:"id"`
	PanelID      string         `json:"panelId" db:"panel_id"`
	Email        string         `json:"email" db:"email"`
	Name         string         `json:"name" db:"name"`
	Organization string         `json:"organization,omitempty" db:"organization"`
	Expertise    pq.StringArray `json:"expertise" db:"expertise"`
	Status       ExpertStatus   `json:"status" db:"status"`
	InvitedBy    string         `json:"invitedBy" db:"invited_by"`
	UserID       *string        `json:"userId,omitempty" db:"user_id"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusDeclined InvitationStatus = "declined"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// InvitationTTL is how long an invitation stays valid
const InvitationTTL = 7 * 24 * time.Hour

// PanelInvitation is a token-bearing, time-boxed invitation
type PanelInvitation struct {
	ID          string           `json:"id" db:"id"`
	PanelID     string           `json:"panelId" db:"panel_id"`
	PanelName   string           `json:"panelName" db:"panel_name"`
	Email       string           `json:"email" db:"email"`
	Name        string           `json:"name,omitempty" db:"name"`
	Token       string           `json:"-" db:"token"`
	Status      InvitationStatus `json:"status" db:"status"`
	InvitedBy   string           `json:"invitedBy" db:"invited_by"`
	ExpiresAt   time.Time        `json:"expiresAt" db:"expires_at"`
	RespondedAt *time.Time       `json:"respondedAt,omitempty" db:"responded_at"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`
}

// Expired reports whether the invitation is past its expiry at now
func (i *PanelInvitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON source type %T", src)
	}
}
