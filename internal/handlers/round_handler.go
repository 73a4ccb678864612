package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// RoundUseCases is the round lifecycle behaviour the handler depends on
type RoundUseCases interface {
	OpenInitialRound(ctx context.Context, userID, topicID string) (*models.Round, error)
	AdvanceRound(ctx context.Context, userID, topicID string) (*models.Round, error)
	CloseRound(ctx context.Context, userID, topicID string, roundNumber int) (*models.Round, error)
	CompleteTopic(ctx context.Context, userID, topicID string) error
	GetCurrentRound(ctx context.Context, userID, topicID string) (*models.Round, error)
	ListRounds(ctx context.Context, userID, topicID string) ([]models.Round, error)
}

// TrendUseCases reports consensus across rounds
type TrendUseCases interface {
	RoundTrends(ctx context.Context, userID, topicID string) ([]service.RoundTrend, error)
	RoundConsensus(ctx context.Context, userID, topicID string, roundNumber int) (*service.RoundConsensus, error)
}

// RoundExporter renders a round as a spreadsheet
type RoundExporter interface {
	ExportRound(ctx context.Context, userID, topicID string, roundNumber int) (*service.Export, error)
}

// RoundHandler handles round lifecycle, consensus and export requests
type RoundHandler struct {
	rounds  RoundUseCases
	trends  TrendUseCases
	exports RoundExporter
}

// NewRoundHandler creates a new round handler
func NewRoundHandler(rounds RoundUseCases, trends TrendUseCases, exports RoundExporter) *RoundHandler {
	return &RoundHandler{rounds: rounds, trends: trends, exports: exports}
}

// Open starts round 1 of a draft topic
// @Summary Open initial round
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 201 {object} models.Round
// @Failure 403 {object} ErrorResponse "Not a panel administrator"
// @Failure 404 {object} ErrorResponse "Topic not found"
// @Failure 409 {object} ErrorResponse "Topic already has an active round"
// @Router /topics/{id}/open [post]
func (h *RoundHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	round, err := h.rounds.OpenInitialRound(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, round)
}

// Advance starts the next round of a topic
// @Summary Advance round
// @Description Start the next round. Fails while a round is still active.
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 201 {object} models.Round
// @Failure 409 {object} ErrorResponse "A round is still active"
// @Router /topics/{id}/rounds [post]
func (h *RoundHandler) Advance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	round, err := h.rounds.AdvanceRound(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, round)
}

// Close completes an active round with its summary and consensus snapshot
// @Summary Close round
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param n path int true "Round number"
// @Success 200 {object} models.Round
// @Failure 409 {object} ErrorResponse "Round is not active"
// @Failure 500 {object} ErrorResponse "Summary generation failed"
// @Router /topics/{id}/rounds/{n}/close [post]
func (h *RoundHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := pathRound(r)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	round, err := h.rounds.CloseRound(r.Context(), userID, r.PathValue("id"), n)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, round)
}

// Complete finishes a topic
// @Summary Complete topic
// @Tags Rounds
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 204
// @Failure 409 {object} ErrorResponse "A round is still active"
// @Router /topics/{id}/complete [post]
func (h *RoundHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.rounds.CompleteTopic(r.Context(), userID, r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns every round of a topic
// @Summary List rounds
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 200 {array} models.Round
// @Router /topics/{id}/rounds [get]
func (h *RoundHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	rounds, err := h.rounds.ListRounds(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rounds)
}

// Current returns the active round of a topic
// @Summary Current round
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 200 {object} models.Round
// @Failure 404 {object} ErrorResponse "No active round"
// @Router /topics/{id}/rounds/current [get]
func (h *RoundHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	round, err := h.rounds.GetCurrentRound(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, round)
}

// Consensus returns a round's metrics with per-item statistics
// @Summary Round consensus
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param n path int true "Round number"
// @Success 200 {object} service.RoundConsensus
// @Failure 404 {object} ErrorResponse "Round not found"
// @Router /topics/{id}/rounds/{n}/consensus [get]
func (h *RoundHandler) Consensus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := pathRound(r)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	view, err := h.trends.RoundConsensus(r.Context(), userID, r.PathValue("id"), n)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// Trends returns consensus metrics for every round of a topic
// @Summary Consensus trends
// @Tags Rounds
// @Produce json
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 200 {array} service.RoundTrend
// @Router /topics/{id}/trends [get]
func (h *RoundHandler) Trends(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	trends, err := h.trends.RoundTrends(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, trends)
}

// Export downloads a round as an Excel workbook
// @Summary Export round
// @Tags Rounds
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Param n path int true "Round number"
// @Success 200 {file} file
// @Failure 403 {object} ErrorResponse "Not a panel administrator"
// @Router /topics/{id}/rounds/{n}/export [get]
func (h *RoundHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := pathRound(r)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	export, err := h.exports.ExportRound(r.Context(), userID, r.PathValue("id"), n)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", service.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}
