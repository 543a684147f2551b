package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Dosada05/league-portal/middleware"
	"github.com/Dosada05/league-portal/services"
)

type BracketHandler struct {
	responder
	bracketService services.BracketService
}

func NewBracketHandler(bracketService services.BracketService, logger *slog.Logger) *BracketHandler {
	return &BracketHandler{
		responder:      responder{logger: logger},
		bracketService: bracketService,
	}
}

type SubmitScoreInput struct {
	Team1Score *int `json:"team1_score"`
	Team2Score *int `json:"team2_score"`
}

// GetBracket godoc
// @Summary Bracket snapshot of a sport
// @Tags brackets
// @Description Returns rounds, standings and status. Inconsistent bracket data is reported with status "structural_error".
// @Produce json
// @Param sportID path int true "Sport ID"
// @Success 200 {object} services.Snapshot
// @Failure 400 {object} map[string]string "Invalid sport ID"
// @Failure 503 {object} map[string]string "Match store unavailable"
// @Router /api/sports/{sportID}/bracket [get]
func (h *BracketHandler) GetBracket(w http.ResponseWriter, r *http.Request) {
	sportID, err := getIDFromURL(r, "sportID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	snap, err := h.bracketService.GetBracketSnapshot(r.Context(), sportID)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, snap, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// SubmitScore godoc
// @Summary Record a match result
// @Tags brackets
// @Description Stores the score and advances the winner. Equal scores are kept as a tie awaiting a tie-break.
// @Accept json
// @Produce json
// @Param matchID path int true "Match ID"
// @Param body body SubmitScoreInput true "Scores of both slots"
// @Success 200 {object} services.ScoreResult
// @Failure 400 {object} map[string]string "Invalid score"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Match not found"
// @Failure 409 {object} map[string]string "Match not ready, concurrent write or inconsistent bracket"
// @Failure 503 {object} map[string]string "Match store unavailable"
// @Security BearerAuth
// @Router /api/matches/{matchID}/score [post]
func (h *BracketHandler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	var input SubmitScoreInput
	if err := readJSON(w, r, &input); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	if input.Team1Score == nil || input.Team2Score == nil {
		h.badRequestResponse(w, r, errors.New("team1_score and team2_score are required"))
		return
	}

	res, err := h.bracketService.SubmitScore(r.Context(), matchID, *input.Team1Score, *input.Team2Score)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	h.logger.Info("score submitted",
		slog.Int("match_id", matchID),
		slog.Int("user_id", principal.UserID),
		slog.String("outcome", string(res.Outcome)),
		slog.Any("affected_matches", res.AffectedMatches),
	)

	if err := writeJSON(w, http.StatusOK, res, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// ReconcileBracket godoc
// @Summary Repair propagated slots
// @Tags brackets
// @Description Rewrites every downstream slot from its parent's result and clears scores that no longer apply.
// @Produce json
// @Param sportID path int true "Sport ID"
// @Success 200 {object} services.ScoreResult
// @Failure 400 {object} map[string]string "Invalid sport ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 409 {object} map[string]string "Inconsistent bracket or concurrent write"
// @Failure 503 {object} map[string]string "Match store unavailable"
// @Security BearerAuth
// @Router /api/sports/{sportID}/bracket/reconcile [post]
func (h *BracketHandler) ReconcileBracket(w http.ResponseWriter, r *http.Request) {
	sportID, err := getIDFromURL(r, "sportID")
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	res, err := h.bracketService.Reconcile(r.Context(), sportID)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, res, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Health godoc
// @Summary Liveness check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *BracketHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, jsonResponse{"status": "ok"}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}
