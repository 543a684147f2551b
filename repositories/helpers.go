package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// handleMatchError maps driver failures onto the repository sentinels. Lock
// and serialization failures are retryable conflicts; a lost connection means
// the store is unavailable.
func handleMatchError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			// serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %w", ErrConcurrentWriteConflict, err)
		case "57P01", "57P02", "57P03":
			// admin_shutdown, crash_shutdown, cannot_connect_now
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		switch pqErr.Constraint {
		case "matches_scores_paired", "matches_team1_score_check", "matches_team2_score_check":
			return fmt.Errorf("%w: %w", ErrMatchScoreInvalid, err)
		case "matches_team1_id_fkey", "matches_team2_id_fkey":
			return fmt.Errorf("%w: %w", ErrMatchTeamInvalid, err)
		}
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
