package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/consensus"
	"github.com/kpessa/delphi-webapp/internal/models"
)

// Export sheet names
const (
	FeedbackSheet  = "Feedback"
	ConsensusSheet = "Consensus"
)

// XLSXContentType is the media type of exported workbooks
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var feedbackHeaders = []any{
	"Type", "Content", "Strongly disagree", "Disagree", "Neutral", "Agree", "Strongly agree",
	"Responses", "Median agreement", "Mean agreement", "Item consensus %", "Upvotes", "Downvotes",
}

// Export is a rendered round workbook
type Export struct {
	Filename string
	Data     []byte
}

// ExportService renders round results as spreadsheets
type ExportService struct {
	trends *TrendService
}

// NewExportService creates a new export service
func NewExportService(trends *TrendService) *ExportService {
	return &ExportService{trends: trends}
}

// ExportRound writes a round's feedback and consensus to an xlsx workbook.
// Only panel administrators may export, and expert identities are never written.
func (s *ExportService) ExportRound(ctx context.Context, userID, topicID string, roundNumber int) (*Export, error) {
	topic, panel, err := loadTopic(ctx, s.trends.topics, s.trends.panels, topicID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(panel, userID); err != nil {
		return nil, err
	}

	round, err := s.trends.rounds.Get(ctx, topicID, roundNumber)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load round")
	}
	if round == nil {
		return nil, apperrors.NotFound("Round not found")
	}

	trend, items, err := s.trends.trend(ctx, round, panel, true)
	if err != nil {
		return nil, err
	}

	data, err := buildRoundWorkbook(topic, trend, items)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to build export")
	}

	slog.Info("Exported round", "topic_id", topicID, "round_number", roundNumber, "rows", len(items))
	return &Export{
		Filename: fmt.Sprintf("topic-%s-round-%d.xlsx", topic.ID, roundNumber),
		Data:     data,
	}, nil
}

func buildRoundWorkbook(topic *models.Topic, trend RoundTrend, items []models.Feedback) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close workbook", "error", err)
		}
	}()

	// The default sheet becomes the feedback sheet
	if err := f.SetSheetName(f.GetSheetName(0), FeedbackSheet); err != nil {
		return nil, err
	}
	if err := writeFeedbackSheet(f, items); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(ConsensusSheet); err != nil {
		return nil, err
	}
	if err := writeConsensusSheet(f, topic, trend); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func writeFeedbackSheet(f *excelize.File, items []models.Feedback) error {
	if err := f.SetSheetRow(FeedbackSheet, "A1", &feedbackHeaders); err != nil {
		return err
	}

	for i, fb := range items {
		stats := consensus.Item(fb.Agreements)
		row := []any{string(fb.Type), fb.Content}
		for _, n := range stats.Distribution {
			row = append(row, n)
		}
		row = append(row,
			stats.Participants,
			round2(stats.Median),
			round2(stats.Mean),
			stats.Consensus,
			len(fb.Upvotes),
			len(fb.Downvotes),
		)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(FeedbackSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeConsensusSheet(f *excelize.File, topic *models.Topic, trend RoundTrend) error {
	m := trend.Metrics
	rows := [][]any{
		{"Topic", topic.Title},
		{"Question", topic.Question},
		{"Round", trend.RoundNumber},
		{"Status", string(trend.Status)},
		{"Consensus level %", m.ConsensusLevel},
		{"Participation rate %", m.ParticipationRate},
		{"Agreement score", round2(m.AgreementScore)},
		{"Standard deviation", round2(m.StandardDeviation)},
		{"Participants", m.TotalParticipants},
		{"Feedback items", m.TotalFeedback},
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ConsensusSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
