package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/database"
	"github.com/kpessa/delphi-webapp/internal/email"
	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/repository"
	"github.com/kpessa/delphi-webapp/pkg/validator"
)

// MaxInvitationsPerRequest bounds the addresses accepted by one bulk invite
const MaxInvitationsPerRequest = 100

var errPendingInvitation = errors.New("pending invitation already exists")

// InviteExpertsInput lists the addresses to invite
type InviteExpertsInput struct {
	Emails []string `json:"emails" validate:"required,max=100"`
}

// InviteResult reports the outcome of a bulk invite
type InviteResult struct {
	Invited     int                      `json:"invited"`
	Failed      []string                 `json:"failed"`
	Invitations []models.PanelInvitation `json:"invitations"`
}

// InvitationService manages panel invitations
type InvitationService struct {
	db          *sqlx.DB
	panels      *repository.PanelRepository
	experts     *repository.ExpertRepository
	invitations *repository.InvitationRepository
	users       UserDirectory
	mailer      email.Sender
	appURL      string
	events      events.Publisher
	now         func() time.Time
}

// NewInvitationService creates a new invitation service
func NewInvitationService(
	db *sqlx.DB,
	panels *repository.PanelRepository,
	experts *repository.ExpertRepository,
	invitations *repository.InvitationRepository,
	users UserDirectory,
	mailer email.Sender,
	appURL string,
	publisher events.Publisher,
) *InvitationService {
	return &InvitationService{
		db:          db,
		panels:      panels,
		experts:     experts,
		invitations: invitations,
		users:       users,
		mailer:      mailer,
		appURL:      strings.TrimRight(appURL, "/"),
		events:      publisher,
		now:         time.Now,
	}
}

// CreateBulk invites every valid address to the panel. Addresses that are
// malformed, already invited or already members are reported in Failed.
func (s *InvitationService) CreateBulk(ctx context.Context, userID, panelID string, in InviteExpertsInput) (*InviteResult, error) {
	if err := validator.ValidateStruct(&in); err != nil {
		return nil, apperrors.InvalidArgument(err.Error())
	}

	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}
	if panel.Status == models.PanelStatusArchived {
		return nil, apperrors.Conflict("Panel is archived")
	}

	valid, invalid := validator.NormalizeEmails(in.Emails)
	if len(valid) == 0 && len(invalid) == 0 {
		return nil, apperrors.InvalidArgument("At least one email address is required")
	}

	result := &InviteResult{Failed: []string{}, Invitations: []models.PanelInvitation{}}
	for _, address := range invalid {
		result.Failed = append(result.Failed, address+" (invalid email)")
	}

	inviterName := s.inviterName(ctx, userID)
	for _, address := range valid {
		if s.alreadyMember(ctx, panel, address) {
			result.Failed = append(result.Failed, address+" (already a panel member)")
			continue
		}

		inv, err := s.createInvitation(ctx, panel, userID, address)
		if errors.Is(err, errPendingInvitation) {
			result.Failed = append(result.Failed, address+" (pending invitation already exists)")
			continue
		}
		if err != nil {
			slog.Error("Failed to create invitation", "panel_id", panelID, "error", err)
			result.Failed = append(result.Failed, address+" (could not be invited)")
			continue
		}

		s.events.Publish(ctx, events.InvitationCreated{Invitation: *inv})
		if s.mailer != nil && s.mailer.Configured() {
			if err := s.deliver(ctx, inv, inviterName); err != nil {
				slog.Warn("Failed to send invitation email", "invitation_id", inv.ID, "error", err)
			}
		}

		result.Invited++
		result.Invitations = append(result.Invitations, *inv)
	}

	slog.Info("Invited experts", "panel_id", panelID, "invited", result.Invited, "failed", len(result.Failed))
	return result, nil
}

func (s *InvitationService) createInvitation(ctx context.Context, panel *models.Panel, userID, address string) (*models.PanelInvitation, error) {
	now := s.now().UTC()
	inv := &models.PanelInvitation{
		ID:        uuid.NewString(),
		PanelID:   panel.ID,
		PanelName: panel.Name,
		Email:     address,
		Token:     uuid.NewString(),
		Status:    models.InvitationStatusPending,
		InvitedBy: userID,
		ExpiresAt: now.Add(models.InvitationTTL),
		CreatedAt: now,
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		pending, err := s.invitations.HasPending(ctx, tx, panel.ID, address)
		if err != nil {
			return err
		}
		if pending {
			return errPendingInvitation
		}

		if err := s.invitations.Create(ctx, tx, inv); err != nil {
			return err
		}

		created, err := s.experts.CreateIfAbsent(ctx, tx, &models.Expert{
			ID:        uuid.NewString(),
			PanelID:   panel.ID,
			Email:     address,
			Expertise: []string{},
			Status:    models.ExpertStatusInvited,
			InvitedBy: userID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if !created {
			return s.experts.Respond(ctx, tx, panel.ID, address, models.ExpertStatusInvited, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *InvitationService) alreadyMember(ctx context.Context, panel *models.Panel, address string) bool {
	user, err := s.users.GetByEmail(ctx, address)
	if err != nil {
		slog.Warn("Failed to look up invitee", "error", err)
		return false
	}
	return user != nil && panel.IsMember(user.ID)
}

// List returns a panel's invitations
func (s *InvitationService) List(ctx context.Context, userID, panelID string) ([]models.PanelInvitation, error) {
	panel, err := loadPanel(ctx, s.panels, panelID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}

	invs, err := s.invitations.ListByPanel(ctx, panelID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list invitations")
	}
	if invs == nil {
		invs = []models.PanelInvitation{}
	}
	return invs, nil
}

// GetByToken returns the invitation a token refers to. A pending invitation
// past its expiry is reported as expired even before the sweep has run.
func (s *InvitationService) GetByToken(ctx context.Context, token string) (*models.PanelInvitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.InvalidArgument("Invitation token is required")
	}

	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load invitation")
	}
	if inv == nil {
		return nil, apperrors.NotFound("Invitation not found")
	}
	if inv.Status == models.InvitationStatusPending && inv.Expired(s.now()) {
		inv.Status = models.InvitationStatusExpired
	}
	return inv, nil
}

// Accept joins the caller to the invitation's panel
func (s *InvitationService) Accept(ctx context.Context, userID, token string) (*models.PanelInvitation, error) {
	return s.respond(ctx, userID, token, models.InvitationStatusAccepted)
}

// Decline records that the invitee does not want to join
func (s *InvitationService) Decline(ctx context.Context, userID, token string) (*models.PanelInvitation, error) {
	return s.respond(ctx, userID, token, models.InvitationStatusDeclined)
}

func (s *InvitationService) respond(ctx context.Context, userID, token string, status models.InvitationStatus) (*models.PanelInvitation, error) {
	var inv *models.PanelInvitation
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		inv, err = s.invitations.GetByTokenForUpdate(ctx, tx, token)
		if err != nil {
			return err
		}
		if inv == nil {
			return apperrors.NotFound("Invitation not found")
		}

		now := s.now().UTC()
		if inv.Status != models.InvitationStatusPending {
			return apperrors.Conflict("Invitation is no longer pending")
		}
		if inv.Expired(now) {
			return apperrors.Conflict("Invitation has expired")
		}

		if _, err := s.invitations.SetStatus(ctx, tx, inv.ID, status, &now); err != nil {
			return err
		}
		inv.Status = status
		inv.RespondedAt = &now

		if status == models.InvitationStatusDeclined {
			return s.experts.Respond(ctx, tx, inv.PanelID, inv.Email, models.ExpertStatusDeclined, nil)
		}
		if err := s.panels.AddExpert(ctx, tx, inv.PanelID, userID); err != nil {
			return err
		}
		return s.experts.Respond(ctx, tx, inv.PanelID, inv.Email, models.ExpertStatusAccepted, &userID)
	})
	if err != nil {
		return nil, translateTxError(err, "Invitation is no longer pending")
	}

	slog.Info("Answered invitation", "invitation_id", inv.ID, "panel_id", inv.PanelID, "status", status, "user_id", userID)
	return inv, nil
}

// Resend extends a pending invitation and emails it again
func (s *InvitationService) Resend(ctx context.Context, userID, invitationID string) (*models.PanelInvitation, error) {
	if err := s.requireMailer(); err != nil {
		return nil, err
	}
	inv, err := s.loadForAdmin(ctx, userID, invitationID)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().UTC().Add(models.InvitationTTL)
	ok, err := s.invitations.ResetExpiry(ctx, inv.ID, expiresAt)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to reset invitation expiry")
	}
	if !ok {
		return nil, apperrors.Conflict("Only pending invitations can be resent")
	}
	inv.ExpiresAt = expiresAt

	if err := s.deliver(ctx, inv, s.inviterName(ctx, inv.InvitedBy)); err != nil {
		return nil, apperrors.Internal(err, "Failed to send invitation email")
	}

	slog.Info("Resent invitation", "invitation_id", inv.ID, "user_id", userID)
	return inv, nil
}

// Cancel withdraws a pending invitation
func (s *InvitationService) Cancel(ctx context.Context, userID, invitationID string) error {
	inv, err := s.loadForAdmin(ctx, userID, invitationID)
	if err != nil {
		return err
	}

	ok, err := s.invitations.SetStatus(ctx, s.db, inv.ID, models.InvitationStatusExpired, nil)
	if err != nil {
		return apperrors.Internal(err, "failed to cancel invitation")
	}
	if !ok {
		return apperrors.Conflict("Only pending invitations can be cancelled")
	}

	slog.Info("Cancelled invitation", "invitation_id", inv.ID, "user_id", userID)
	return nil
}

// SendInvitationEmail emails a pending invitation to its invitee
func (s *InvitationService) SendInvitationEmail(ctx context.Context, userID, invitationID string) error {
	if strings.TrimSpace(invitationID) == "" {
		return apperrors.InvalidArgument("Invitation ID is required")
	}
	if err := s.requireMailer(); err != nil {
		return err
	}

	inv, err := s.loadForAdmin(ctx, userID, invitationID)
	if err != nil {
		return err
	}
	if inv.Status != models.InvitationStatusPending || inv.Expired(s.now()) {
		return apperrors.Conflict("Invitation is not pending")
	}

	if err := s.deliver(ctx, inv, s.inviterName(ctx, inv.InvitedBy)); err != nil {
		return apperrors.Internal(err, "Failed to send invitation email")
	}

	slog.Info("Sent invitation email", "invitation_id", inv.ID, "user_id", userID)
	return nil
}

// ExpireSweep marks past-due pending invitations expired
func (s *InvitationService) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := s.invitations.ExpirePastDue(ctx, s.now().UTC())
	if err != nil {
		return 0, apperrors.Internal(err, "failed to expire invitations")
	}
	if n > 0 {
		slog.Info("Expired invitations", "count", n)
	}
	return n, nil
}

func (s *InvitationService) requireMailer() error {
	if s.mailer == nil || !s.mailer.Configured() {
		return apperrors.Conflict("Email service is not configured")
	}
	return nil
}

func (s *InvitationService) loadForAdmin(ctx context.Context, userID, invitationID string) (*models.PanelInvitation, error) {
	inv, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load invitation")
	}
	if inv == nil {
		return nil, apperrors.NotFound("Invitation not found")
	}

	panel, err := loadPanel(ctx, s.panels, inv.PanelID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *InvitationService) deliver(ctx context.Context, inv *models.PanelInvitation, inviterName string) error {
	return s.mailer.Send(ctx, email.InvitationEmail(inv, inviterName, InvitationURL(s.appURL, inv.Token)))
}

func (s *InvitationService) inviterName(ctx context.Context, userID string) string {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil || user.DisplayName == "" {
		return defaultInviterName
	}
	return user.DisplayName
}

// InvitationURL is the link an invitee follows to answer an invitation
func InvitationURL(appURL, token string) string {
	return strings.TrimRight(appURL, "/") + "/invitations/" + token
}
