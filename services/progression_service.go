package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Dosada05/league-portal/brackets"
	"github.com/Dosada05/league-portal/models"
	"github.com/Dosada05/league-portal/repositories"
)

const tieBreakMessage = "awaiting tie-break"

// ScoreResult describes what a score submission or a repair changed.
// AffectedMatches lists every match whose stored state changed, parents
// before children.
type ScoreResult struct {
	SportID         int              `json:"sport_id"`
	MatchID         int              `json:"match_id,omitempty"`
	Outcome         brackets.Outcome `json:"outcome"`
	WinnerTeamID    *int             `json:"winner_team_id,omitempty"`
	AffectedMatches []int            `json:"affected_matches"`
	Message         string           `json:"message,omitempty"`
}

// ProgressionService executes bracket plans against the match store. Each
// call is one transaction: the source match and its downstream chain are
// locked in round order, the plan is computed from the locked rows and every
// write is applied with a version check.
type ProgressionService struct {
	store  repositories.MatchStore
	logger *slog.Logger
}

func NewProgressionService(store repositories.MatchStore, logger *slog.Logger) *ProgressionService {
	return &ProgressionService{store: store, logger: logger}
}

func (s *ProgressionService) ApplyScore(ctx context.Context, matchID, score1, score2 int) (*ScoreResult, error) {
	if score1 < 0 || score2 < 0 {
		return nil, fmt.Errorf("%w: scores must be non-negative, got %d:%d", ErrInvalidScore, score1, score2)
	}

	var plan *brackets.Plan
	err := s.store.RunInTx(ctx, func(tx repositories.MatchTx) error {
		src, err := tx.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		rows, err := tx.GetMatches(ctx, src.SportID)
		if err != nil {
			return err
		}
		chain, err := brackets.DownstreamChain(rows, matchID)
		if err != nil {
			return err
		}
		locked, err := tx.LockMatches(ctx, chain...)
		if err != nil {
			return err
		}

		plan, err = brackets.PlanScore(withRows(rows, locked), matchID, score1, score2)
		if err != nil {
			return err
		}
		return applyPlan(ctx, tx, plan)
	})
	if err != nil {
		return nil, translateError(err)
	}

	res := resultFromPlan(plan)
	s.logger.Info("score applied",
		slog.Int("sport_id", res.SportID),
		slog.Int("match_id", matchID),
		slog.String("outcome", string(res.Outcome)),
		slog.Any("affected_matches", res.AffectedMatches),
	)
	return res, nil
}

// Reconcile rewrites every downstream slot to its feeding match's effective
// winner. All rows of the sport are locked for the duration.
func (s *ProgressionService) Reconcile(ctx context.Context, sportID int) (*ScoreResult, error) {
	if sportID <= 0 {
		return nil, ErrInvalidSportID
	}

	var plan *brackets.Plan
	err := s.store.RunInTx(ctx, func(tx repositories.MatchTx) error {
		rows, err := tx.GetMatches(ctx, sportID)
		if err != nil {
			return err
		}
		ids := make([]int, len(rows))
		for i, m := range rows {
			ids[i] = m.ID
		}
		locked, err := tx.LockMatches(ctx, ids...)
		if err != nil {
			return err
		}
		plan, err = brackets.PlanReconcile(locked)
		if err != nil {
			return err
		}
		return applyPlan(ctx, tx, plan)
	})
	if err != nil {
		return nil, translateError(err)
	}

	res := resultFromPlan(plan)
	res.SportID = sportID
	if len(res.AffectedMatches) > 0 {
		s.logger.Warn("bracket repaired",
			slog.Int("sport_id", sportID),
			slog.Any("affected_matches", res.AffectedMatches),
		)
	}
	return res, nil
}

func applyPlan(ctx context.Context, tx repositories.MatchTx, plan *brackets.Plan) error {
	for _, w := range plan.Writes {
		var err error
		switch w.Kind {
		case brackets.WriteScore:
			_, err = tx.SetScore(ctx, w.MatchID, w.Version, w.Score1, w.Score2)
		case brackets.WriteTeams:
			_, err = tx.SetTeams(ctx, w.MatchID, w.Version, w.Team1ID, w.Team2ID)
		case brackets.WriteClearScore:
			_, err = tx.ClearScore(ctx, w.MatchID, w.Version)
		default:
			err = fmt.Errorf("unknown write kind %q", w.Kind)
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s write to match %d: %w", w.Kind, w.MatchID, err)
		}
	}
	return nil
}

// withRows replaces rows by their locked versions.
func withRows(rows, locked []models.Match) []models.Match {
	byID := make(map[int]models.Match, len(locked))
	for _, m := range locked {
		byID[m.ID] = m
	}
	out := make([]models.Match, len(rows))
	for i, m := range rows {
		if l, ok := byID[m.ID]; ok {
			m = l
		}
		out[i] = m
	}
	return out
}

func resultFromPlan(plan *brackets.Plan) *ScoreResult {
	res := &ScoreResult{
		SportID:         plan.SportID,
		MatchID:         plan.MatchID,
		Outcome:         plan.Outcome,
		WinnerTeamID:    plan.WinnerTeamID,
		AffectedMatches: plan.Affected(),
	}
	if plan.Outcome == brackets.OutcomeTieUnresolved {
		res.Message = tieBreakMessage
	}
	return res
}
