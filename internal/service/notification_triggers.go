package service

import (
	"context"
	"log/slog"

	"github.com/kpessa/delphi-webapp/internal/events"
	"github.com/kpessa/delphi-webapp/internal/models"
)

const defaultInviterName = "A panel administrator"

// RegisterTriggers subscribes the dispatcher to the domain events that fan
// out into notifications
func (s *NotificationService) RegisterTriggers(bus *events.Bus) {
	events.On(bus, s.onTopicCreated)
	events.On(bus, s.onFeedbackCreated)
	events.On(bus, s.onRoundClosed)
	events.On(bus, s.onConsensusReached)
	events.On(bus, s.onInvitationCreated)
}

// onTopicCreated notifies every expert of the topic's panel
func (s *NotificationService) onTopicCreated(ctx context.Context, e events.TopicCreated) error {
	panel, err := loadPanel(ctx, s.panels, e.Topic.PanelID)
	if err != nil {
		return err
	}

	count, err := s.Notify(ctx, panel.ExpertIDs,
		&models.TopicAssignedPayload{TopicID: e.Topic.ID, PanelID: panel.ID},
		TemplateVars{TopicTitle: e.Topic.Title, PanelName: panel.Name},
	)
	if err != nil {
		return err
	}
	slog.Info("Notified experts of new topic", "topic_id", e.Topic.ID, "recipients", count)
	return nil
}

// onFeedbackCreated notifies the topic creator unless they wrote the feedback
func (s *NotificationService) onFeedbackCreated(ctx context.Context, e events.FeedbackCreated) error {
	if e.Topic.CreatedBy == "" || e.Feedback.ExpertID == e.Topic.CreatedBy {
		return nil
	}

	_, err := s.Notify(ctx, []string{e.Topic.CreatedBy},
		&models.NewFeedbackPayload{
			TopicID:     e.Topic.ID,
			FeedbackID:  e.Feedback.ID,
			RoundNumber: e.Feedback.RoundNumber,
		},
		TemplateVars{
			TopicTitle:   e.Topic.Title,
			RoundNumber:  e.Feedback.RoundNumber,
			FeedbackType: string(e.Feedback.Type),
		},
	)
	return err
}

// onRoundClosed notifies every expert of the topic's panel
func (s *NotificationService) onRoundClosed(ctx context.Context, e events.RoundClosed) error {
	panel, err := loadPanel(ctx, s.panels, e.Topic.PanelID)
	if err != nil {
		return err
	}

	payload := &models.RoundClosedPayload{
		TopicID:     e.Topic.ID,
		RoundNumber: e.Round.RoundNumber,
		FinalRound:  e.Round.RoundNumber >= e.Topic.TotalRounds,
	}
	if e.Round.Summary != nil {
		payload.Summary = *e.Round.Summary
	}

	count, err := s.Notify(ctx, panel.ExpertIDs, payload, TemplateVars{
		TopicTitle:     e.Topic.Title,
		PanelName:      panel.Name,
		RoundNumber:    e.Round.RoundNumber,
		ConsensusLevel: e.Metrics.ConsensusLevel,
	})
	if err != nil {
		return err
	}
	slog.Info("Notified experts of closed round", "topic_id", e.Topic.ID, "round_number", e.Round.RoundNumber, "recipients", count)
	return nil
}

// onConsensusReached notifies the panel's experts and administrators
func (s *NotificationService) onConsensusReached(ctx context.Context, e events.ConsensusReached) error {
	panel, err := loadPanel(ctx, s.panels, e.Topic.PanelID)
	if err != nil {
		return err
	}

	_, err = s.Notify(ctx, uniqueStrings(panel.ExpertIDs, panel.AdminIDs),
		&models.ConsensusReachedPayload{
			TopicID:        e.Topic.ID,
			RoundNumber:    e.Round.RoundNumber,
			ConsensusLevel: e.Metrics.ConsensusLevel,
		},
		TemplateVars{
			TopicTitle:     e.Topic.Title,
			PanelName:      panel.Name,
			RoundNumber:    e.Round.RoundNumber,
			ConsensusLevel: e.Metrics.ConsensusLevel,
		},
	)
	return err
}

// onInvitationCreated notifies the invitee when the address belongs to a known user
func (s *NotificationService) onInvitationCreated(ctx context.Context, e events.InvitationCreated) error {
	invitee, err := s.users.GetByEmail(ctx, e.Invitation.Email)
	if err != nil {
		return err
	}
	if invitee == nil {
		return nil
	}

	inviterName := defaultInviterName
	if inviter, err := s.users.GetByID(ctx, e.Invitation.InvitedBy); err == nil && inviter != nil && inviter.DisplayName != "" {
		inviterName = inviter.DisplayName
	}

	_, err = s.Notify(ctx, []string{invitee.ID},
		&models.InvitationPayload{PanelID: e.Invitation.PanelID, InvitationID: e.Invitation.ID},
		TemplateVars{PanelName: e.Invitation.PanelName, InviterName: inviterName},
	)
	return err
}
