package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/league-portal/events"
	"github.com/Dosada05/league-portal/models"
)

const matchColumns = `id, sport_id, round_id, match_order, team1_id, team2_id, team1_score, team2_score,
		       parent_match1_id, parent_match2_id, start_time, version, updated_at`

type PostgresMatchStore struct {
	db     *sql.DB
	feed   events.Feed
	logger *slog.Logger
}

func NewPostgresMatchStore(db *sql.DB, feed events.Feed, logger *slog.Logger) *PostgresMatchStore {
	return &PostgresMatchStore{db: db, feed: feed, logger: logger}
}

func (s *PostgresMatchStore) GetMatches(ctx context.Context, sportID int) ([]models.Match, error) {
	return listMatches(ctx, s.db, sportID)
}

func (s *PostgresMatchStore) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	return getMatch(ctx, s.db, id, false)
}

func (s *PostgresMatchStore) UpdateMatchScore(ctx context.Context, id int, score1, score2 int) (*models.Match, error) {
	return updateOne(ctx, s, id, func(tx MatchTx, cur models.Match) (*models.Match, error) {
		return tx.SetScore(ctx, id, cur.Version, score1, score2)
	})
}

func (s *PostgresMatchStore) UpdateMatchTeams(ctx context.Context, id int, team1ID, team2ID *int) (*models.Match, error) {
	return updateOne(ctx, s, id, func(tx MatchTx, cur models.Match) (*models.Match, error) {
		return tx.SetTeams(ctx, id, cur.Version, team1ID, team2ID)
	})
}

func (s *PostgresMatchStore) ClearMatchScore(ctx context.Context, id int) (*models.Match, error) {
	return updateOne(ctx, s, id, func(tx MatchTx, cur models.Match) (*models.Match, error) {
		return tx.ClearScore(ctx, id, cur.Version)
	})
}

func (s *PostgresMatchStore) Subscribe(sportID int, onChange func(models.ChangeEvent)) (func(), error) {
	return subscribeFeed(s.feed, sportID, onChange)
}

// RunInTx runs fn in a READ COMMITTED transaction. A feed that can join the
// transaction gets its notifications queued before the commit; any other feed
// is published to once the commit succeeded.
func (s *PostgresMatchStore) RunInTx(ctx context.Context, fn func(tx MatchTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return handleMatchError(fmt.Errorf("failed to begin match transaction: %w", err))
	}
	tx := &postgresMatchTx{tx: sqlTx, changes: newChangeLog()}
	txFeed, notifyInTx := s.feed.(events.TxPublisher)

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("failed to roll back match transaction", slog.Any("error", rbErr))
			}
		} else if err = sqlTx.Commit(); err != nil {
			err = handleMatchError(fmt.Errorf("failed to commit match transaction: %w", err))
		} else if !notifyInTx {
			publishCommitted(ctx, s.feed, s.logger, tx.changes.events(time.Now().UTC()))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if notifyInTx {
		for _, ev := range tx.changes.events(time.Now().UTC()) {
			if err = txFeed.PublishTx(ctx, sqlTx, ev); err != nil {
				return handleMatchError(fmt.Errorf("failed to queue change notification: %w", err))
			}
		}
	}
	return nil
}

func (s *PostgresMatchStore) Close() error {
	return s.db.Close()
}

type postgresMatchTx struct {
	tx      *sql.Tx
	changes *changeLog
}

func (t *postgresMatchTx) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	return getMatch(ctx, t.tx, id, false)
}

func (t *postgresMatchTx) GetMatches(ctx context.Context, sportID int) ([]models.Match, error) {
	return listMatches(ctx, t.tx, sportID)
}

// LockMatches issues one SELECT ... FOR UPDATE per id so locks are taken in
// exactly the order the caller asked for.
func (t *postgresMatchTx) LockMatches(ctx context.Context, ids ...int) ([]models.Match, error) {
	out := make([]models.Match, 0, len(ids))
	for _, id := range ids {
		m, err := getMatch(ctx, t.tx, id, true)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (t *postgresMatchTx) SetScore(ctx context.Context, id int, version int64, score1, score2 int) (*models.Match, error) {
	query := `
		UPDATE matches
		SET team1_score = $1, team2_score = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING ` + matchColumns
	return t.update(ctx, id, version, models.ChangeScoreUpdated, query, score1, score2, id, version)
}

func (t *postgresMatchTx) SetTeams(ctx context.Context, id int, version int64, team1ID, team2ID *int) (*models.Match, error) {
	query := `
		UPDATE matches
		SET team1_id = $1, team2_id = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING ` + matchColumns
	return t.update(ctx, id, version, models.ChangeTeamsUpdated, query, team1ID, team2ID, id, version)
}

func (t *postgresMatchTx) ClearScore(ctx context.Context, id int, version int64) (*models.Match, error) {
	query := `
		UPDATE matches
		SET team1_score = NULL, team2_score = NULL, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + matchColumns
	return t.update(ctx, id, version, models.ChangeScoreCleared, query, id, version)
}

func (t *postgresMatchTx) update(ctx context.Context, id int, version int64, kind models.ChangeKind, query string, args ...interface{}) (*models.Match, error) {
	m, err := scanMatch(t.tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, t.missingOrStale(ctx, id, version)
		}
		return nil, handleMatchError(fmt.Errorf("failed to update match %d: %w", id, err))
	}
	t.changes.record(m, kind)
	return m, nil
}

// missingOrStale explains why a versioned update matched no row.
func (t *postgresMatchTx) missingOrStale(ctx context.Context, id int, version int64) error {
	var current int64
	err := t.tx.QueryRowContext(ctx, `SELECT version FROM matches WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", ErrMatchNotFound, id)
	}
	if err != nil {
		return handleMatchError(fmt.Errorf("failed to read version of match %d: %w", id, err))
	}
	return fmt.Errorf("%w: match %d is at version %d, expected %d", ErrConcurrentWriteConflict, id, current, version)
}

func getMatch(ctx context.Context, exec SQLExecutor, id int, forUpdate bool) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMatch(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrMatchNotFound, id)
		}
		return nil, handleMatchError(fmt.Errorf("failed to scan match by id %d: %w", id, err))
	}
	return m, nil
}

// listMatches reads a sport's rows with a single statement, which gives a
// consistent snapshot under READ COMMITTED.
func listMatches(ctx context.Context, exec SQLExecutor, sportID int) ([]models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM matches
		WHERE sport_id = $1
		ORDER BY round_id ASC, match_order ASC`

	rows, err := exec.QueryContext(ctx, query, sportID)
	if err != nil {
		return nil, handleMatchError(fmt.Errorf("failed to query matches for sport %d: %w", sportID, err))
	}
	defer rows.Close()

	matches := make([]models.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, handleMatchError(fmt.Errorf("failed to scan match row for sport %d: %w", sportID, err))
		}
		matches = append(matches, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, handleMatchError(fmt.Errorf("error iterating match rows for sport %d: %w", sportID, err))
	}
	return matches, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID,
		&m.SportID,
		&m.RoundID,
		&m.MatchOrder,
		&m.Team1ID,
		&m.Team2ID,
		&m.Team1Score,
		&m.Team2Score,
		&m.ParentMatch1ID,
		&m.ParentMatch2ID,
		&m.StartTime,
		&m.Version,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
