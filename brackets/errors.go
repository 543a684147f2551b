package brackets

import (
	"errors"
	"fmt"
)

var (
	ErrStructural     = errors.New("bracket data inconsistent")
	ErrUnknownMatch   = errors.New("match is not part of the bracket")
	ErrMatchNotReady  = errors.New("match does not have two teams yet")
	ErrNegativeScore  = errors.New("scores must be non-negative")
	ErrNotEnoughTeams = errors.New("not enough teams to generate a single elimination bracket (minimum 2)")
)

// StructuralError describes match rows that cannot form a single-elimination
// tree. MatchID is zero when the problem is not tied to one row.
type StructuralError struct {
	SportID int
	MatchID int
	Reason  string
}

func (e *StructuralError) Error() string {
	if e.MatchID != 0 {
		return fmt.Sprintf("%s: sport %d, match %d: %s", ErrStructural, e.SportID, e.MatchID, e.Reason)
	}
	return fmt.Sprintf("%s: sport %d: %s", ErrStructural, e.SportID, e.Reason)
}

func (e *StructuralError) Unwrap() error {
	return ErrStructural
}

func structuralf(sportID, matchID int, format string, args ...any) error {
	return &StructuralError{SportID: sportID, MatchID: matchID, Reason: fmt.Sprintf(format, args...)}
}
