package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/league-portal/models"
	"github.com/Dosada05/league-portal/storage"
)

// ResultsKey is the object key the points system reads a sport's final
// placements from.
func ResultsKey(sportID int) string {
	return fmt.Sprintf("results/sport-%d.json", sportID)
}

type resultsDocument struct {
	SportID     int               `json:"sport_id"`
	Places      []models.Standing `json:"places"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// ResultsArchive keeps the results object in sync with the final: it exists
// while a champion is known and is removed when the final is undone. Writes
// for one sport are serialized and never go back to an older final.
type ResultsArchive struct {
	uploader storage.FileUploader
	logger   *slog.Logger

	mu     sync.Mutex
	sports map[int]*archivedSport
}

type archivedSport struct {
	mu           sync.Mutex
	synced       bool
	finalID      int
	finalVersion int64
}

func NewResultsArchive(uploader storage.FileUploader, logger *slog.Logger) *ResultsArchive {
	return &ResultsArchive{uploader: uploader, logger: logger, sports: make(map[int]*archivedSport)}
}

func (a *ResultsArchive) sport(sportID int) *archivedSport {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.sports[sportID]
	if !ok {
		e = &archivedSport{}
		a.sports[sportID] = e
	}
	return e
}

func (a *ResultsArchive) Sync(ctx context.Context, snap *Snapshot) error {
	e := a.sport(snap.SportID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return a.syncLocked(ctx, e, snap)
}

// Refresh calls load and syncs its snapshot under the sport's lock, so a
// refresh that starts later also reads and writes later. A nil snapshot
// means there is nothing to hand off.
func (a *ResultsArchive) Refresh(ctx context.Context, sportID int, load func(ctx context.Context) (*Snapshot, error)) error {
	e := a.sport(sportID)
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := load(ctx)
	if err != nil || snap == nil {
		return err
	}
	return a.syncLocked(ctx, e, snap)
}

func (a *ResultsArchive) syncLocked(ctx context.Context, e *archivedSport, snap *Snapshot) error {
	key := ResultsKey(snap.SportID)
	var (
		finalID int
		version int64
	)
	if final := snap.Final(); final != nil {
		finalID, version = final.MatchID, final.Version
	}
	if e.synced && finalID == e.finalID && version < e.finalVersion {
		a.logger.Info("results hand-off superseded",
			slog.Int("sport_id", snap.SportID),
			slog.Int64("final_version", version),
			slog.Int64("synced_version", e.finalVersion),
		)
		return nil
	}

	if snap.Status != StatusOK || snap.Standings == nil || !snap.Standings.Complete() {
		if err := a.uploader.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to withdraw results of sport %d: %w", snap.SportID, err)
		}
		a.logger.Info("results withdrawn", slog.Int("sport_id", snap.SportID), slog.String("key", key))
		e.synced, e.finalID, e.finalVersion = true, finalID, version
		return nil
	}

	body, err := json.Marshal(resultsDocument{
		SportID:     snap.SportID,
		Places:      snap.Standings.Places,
		GeneratedAt: snap.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode results of sport %d: %w", snap.SportID, err)
	}
	res, err := a.uploader.Upload(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to publish results of sport %d: %w", snap.SportID, err)
	}
	a.logger.Info("results published", slog.Int("sport_id", snap.SportID), slog.String("location", res.Location))
	e.synced, e.finalID, e.finalVersion = true, finalID, version
	return nil
}
