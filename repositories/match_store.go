package repositories

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Dosada05/league-portal/events"
	"github.com/Dosada05/league-portal/models"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrConcurrentWriteConflict = errors.New("match was modified concurrently")
	ErrStoreUnavailable        = errors.New("match store unavailable")
	ErrMatchScoreInvalid       = errors.New("match score invalid")
	ErrMatchTeamInvalid        = errors.New("match team conflict or invalid")
)

// MatchStore is the only gateway to match rows. Reads return a consistent
// snapshot; writes happen inside RunInTx and subscribers never see a change
// before the transaction committed.
type MatchStore interface {
	GetMatches(ctx context.Context, sportID int) ([]models.Match, error)
	GetMatch(ctx context.Context, id int) (*models.Match, error)
	UpdateMatchScore(ctx context.Context, id int, score1, score2 int) (*models.Match, error)
	UpdateMatchTeams(ctx context.Context, id int, team1ID, team2ID *int) (*models.Match, error)
	ClearMatchScore(ctx context.Context, id int) (*models.Match, error)
	Subscribe(sportID int, onChange func(models.ChangeEvent)) (unsubscribe func(), err error)
	RunInTx(ctx context.Context, fn func(tx MatchTx) error) error
	Close() error
}

// MatchTx is a unit of work. LockMatches takes row locks in the order given
// and returns the rows as they are under the lock. Writes compare the row
// version and fail with ErrConcurrentWriteConflict when it moved.
type MatchTx interface {
	GetMatch(ctx context.Context, id int) (*models.Match, error)
	GetMatches(ctx context.Context, sportID int) ([]models.Match, error)
	LockMatches(ctx context.Context, ids ...int) ([]models.Match, error)
	SetScore(ctx context.Context, id int, version int64, score1, score2 int) (*models.Match, error)
	SetTeams(ctx context.Context, id int, version int64, team1ID, team2ID *int) (*models.Match, error)
	ClearScore(ctx context.Context, id int, version int64) (*models.Match, error)
}

// updateOne runs a single-row write in its own transaction.
func updateOne(ctx context.Context, store MatchStore, id int, write func(tx MatchTx, current models.Match) (*models.Match, error)) (*models.Match, error) {
	var updated *models.Match
	err := store.RunInTx(ctx, func(tx MatchTx) error {
		locked, err := tx.LockMatches(ctx, id)
		if err != nil {
			return err
		}
		updated, err = write(tx, locked[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// changeLog collects the rows written by one transaction and turns them into
// one event per sport.
type changeLog struct {
	sports []int
	ids    map[int][]int
	kinds  map[int]models.ChangeKind
	seen   map[int]bool
}

func newChangeLog() *changeLog {
	return &changeLog{
		ids:   make(map[int][]int),
		kinds: make(map[int]models.ChangeKind),
		seen:  make(map[int]bool),
	}
}

func (c *changeLog) record(m *models.Match, kind models.ChangeKind) {
	if _, ok := c.kinds[m.SportID]; !ok {
		c.sports = append(c.sports, m.SportID)
		c.kinds[m.SportID] = kind
	}
	if !c.seen[m.ID] {
		c.seen[m.ID] = true
		c.ids[m.SportID] = append(c.ids[m.SportID], m.ID)
	}
}

func (c *changeLog) events(at time.Time) []models.ChangeEvent {
	out := make([]models.ChangeEvent, 0, len(c.sports))
	for _, sportID := range c.sports {
		out = append(out, models.ChangeEvent{
			SportID:  sportID,
			MatchIDs: c.ids[sportID],
			Kind:     c.kinds[sportID],
			At:       at,
		})
	}
	return out
}

// publishCommitted hands committed changes to the feed. The data is already
// durable, so a failed publish is not returned. Local subscribers of the sport
// are told to resync instead, so they still re-read the committed rows.
func publishCommitted(ctx context.Context, feed events.Feed, logger *slog.Logger, changes []models.ChangeEvent) {
	if feed == nil {
		return
	}
	for _, ev := range changes {
		if err := feed.Publish(context.WithoutCancel(ctx), ev); err != nil {
			logger.Warn("failed to publish match change, resyncing local subscribers",
				slog.Int("sport_id", ev.SportID),
				slog.Any("match_ids", ev.MatchIDs),
				slog.Any("error", err),
			)
			feed.Resync(ev.SportID)
		}
	}
}

func subscribeFeed(feed events.Feed, sportID int, onChange func(models.ChangeEvent)) (func(), error) {
	if feed == nil {
		return nil, errors.New("match store has no change feed")
	}
	if onChange == nil {
		return nil, errors.New("onChange handler is required")
	}
	return feed.Subscribe(sportID, onChange)
}
