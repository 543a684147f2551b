package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/league-portal/brackets"
	"github.com/Dosada05/league-portal/repositories"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrInvalidScore            = errors.New("invalid score")
	ErrMatchNotReady           = errors.New("match is not ready for a result")
	ErrConcurrentWriteConflict = errors.New("match was modified concurrently, retry")
	ErrStoreUnavailable        = errors.New("match store unavailable")
	ErrInvalidSportID          = errors.New("sport id must be positive")
)

// translateError maps repository and bracket errors onto the service
// sentinels. Structural errors keep their type so callers can report the
// offending match.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, brackets.ErrStructural):
		return err
	case errors.Is(err, repositories.ErrMatchNotFound), errors.Is(err, brackets.ErrUnknownMatch):
		return fmt.Errorf("%w: %w", ErrMatchNotFound, err)
	case errors.Is(err, repositories.ErrMatchScoreInvalid), errors.Is(err, brackets.ErrNegativeScore):
		return fmt.Errorf("%w: %w", ErrInvalidScore, err)
	case errors.Is(err, brackets.ErrMatchNotReady):
		return fmt.Errorf("%w: %w", ErrMatchNotReady, err)
	case errors.Is(err, repositories.ErrConcurrentWriteConflict):
		return fmt.Errorf("%w: %w", ErrConcurrentWriteConflict, err)
	case errors.Is(err, repositories.ErrStoreUnavailable):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, repositories.ErrMatchTeamInvalid):
		return fmt.Errorf("%w: %w", brackets.ErrStructural, err)
	}
	return err
}
