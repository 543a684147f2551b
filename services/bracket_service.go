package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/league-portal/brackets"
	"github.com/Dosada05/league-portal/models"
	"github.com/Dosada05/league-portal/repositories"
	"github.com/Dosada05/league-portal/storage"
)

// BracketService is what the API layer sees of the bracket engine.
type BracketService interface {
	GetBracketSnapshot(ctx context.Context, sportID int) (*Snapshot, error)
	SubmitScore(ctx context.Context, matchID, score1, score2 int) (*ScoreResult, error)
	Reconcile(ctx context.Context, sportID int) (*ScoreResult, error)
	SubscribeLive(sportID int, handler func(*Snapshot)) (cancel func(), err error)
	Close()
}

type BracketServiceConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	Points        PlacementPoints
	Live          LiveSyncConfig
}

type bracketService struct {
	store       repositories.MatchStore
	teamRepo    repositories.TeamRepository
	progression *ProgressionService
	live        *LiveSync
	uploader    storage.FileUploader
	archive     *ResultsArchive
	cfg         BracketServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewBracketService wires the engine. uploader may be nil, in which case
// team logos have no URL and results are not handed off.
func NewBracketService(
	store repositories.MatchStore,
	teamRepo repositories.TeamRepository,
	uploader storage.FileUploader,
	cfg BracketServiceConfig,
	logger *slog.Logger,
) BracketService {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	s := &bracketService{
		store:       store,
		teamRepo:    teamRepo,
		progression: NewProgressionService(store, logger),
		uploader:    uploader,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if uploader != nil {
		s.archive = NewResultsArchive(uploader, logger)
	}
	s.live = NewLiveSync(store, s.buildSnapshot, cfg.Live, logger)
	return s
}

func (s *bracketService) GetBracketSnapshot(ctx context.Context, sportID int) (*Snapshot, error) {
	if sportID <= 0 {
		return nil, ErrInvalidSportID
	}
	return s.buildSnapshot(ctx, sportID)
}

// SubmitScore applies a result, retrying transient write conflicts with a
// linear backoff.
func (s *bracketService) SubmitScore(ctx context.Context, matchID, score1, score2 int) (*ScoreResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := s.progression.ApplyScore(ctx, matchID, score1, score2)
		if err == nil {
			s.handOffResults(ctx, res)
			return res, nil
		}
		if !errors.Is(err, ErrConcurrentWriteConflict) || attempt >= s.cfg.RetryAttempts {
			return nil, err
		}

		s.logger.Warn("score submission conflicted, retrying",
			slog.Int("match_id", matchID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
}

func (s *bracketService) Reconcile(ctx context.Context, sportID int) (*ScoreResult, error) {
	res, err := s.progression.Reconcile(ctx, sportID)
	if err != nil {
		return nil, err
	}
	s.handOffResults(ctx, res)
	return res, nil
}

func (s *bracketService) SubscribeLive(sportID int, handler func(*Snapshot)) (func(), error) {
	return s.live.SubscribeLive(sportID, handler)
}

// Close ends all live sessions. The store is owned by the caller.
func (s *bracketService) Close() {
	s.live.Close()
}

// buildSnapshot reads matches and teams concurrently and derives the bracket
// and standings. Inconsistent data is reported inside the snapshot; only a
// failing store is returned as an error.
func (s *bracketService) buildSnapshot(ctx context.Context, sportID int) (*Snapshot, error) {
	var (
		matches []models.Match
		teams   []models.Team
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matches, err = s.store.GetMatches(gctx, sportID)
		if err != nil {
			return fmt.Errorf("failed to load matches of sport %d: %w", sportID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		teams, err = s.teamRepo.ListBySport(gctx, sportID)
		if err != nil {
			return fmt.Errorf("failed to load teams of sport %d: %w", sportID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, translateError(err)
	}

	s.populateTeamLogos(teams)
	snap := &Snapshot{SportID: sportID, Rounds: []brackets.Round{}, GeneratedAt: s.now()}

	b, err := brackets.Build(matches, brackets.NewTeamIndex(teams))
	if err != nil {
		if errors.Is(err, brackets.ErrStructural) {
			s.logger.Error("bracket data inconsistent", slog.Int("sport_id", sportID), slog.Any("error", err))
			snap.Status = StatusStructuralError
			snap.Message = err.Error()
			return snap, nil
		}
		return nil, err
	}

	standings := brackets.ComputeStandings(b)
	s.cfg.Points.Apply(&standings)

	snap.Status = StatusOK
	snap.Rounds = b.Rounds
	snap.ThirdPlace = b.ThirdPlace
	snap.Issues = b.Issues
	snap.Standings = &standings
	return snap, nil
}

func (s *bracketService) populateTeamLogos(teams []models.Team) {
	if s.uploader == nil {
		return
	}
	for i := range teams {
		t := &teams[i]
		if t.LogoKey == nil || *t.LogoKey == "" {
			continue
		}
		if url := s.uploader.GetPublicURL(*t.LogoKey); url != "" {
			t.LogoURL = &url
		}
	}
}

// handOffResults refreshes the results object whenever a write touched the
// final. The write is already committed, so failures are only logged.
func (s *bracketService) handOffResults(ctx context.Context, res *ScoreResult) {
	if s.archive == nil || len(res.AffectedMatches) == 0 {
		return
	}
	err := s.archive.Refresh(ctx, res.SportID, func(ctx context.Context) (*Snapshot, error) {
		snap, err := s.buildSnapshot(ctx, res.SportID)
		if err != nil {
			return nil, err
		}
		final := snap.Final()
		if snap.Status != StatusOK || final == nil || !slices.Contains(res.AffectedMatches, final.MatchID) {
			return nil, nil
		}
		return snap, nil
	})
	if err != nil {
		s.logger.Error("results hand-off failed", slog.Int("sport_id", res.SportID), slog.Any("error", err))
	}
}
