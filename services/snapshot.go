package services

import (
	"time"

	"github.com/Dosada05/league-portal/brackets"
)

type SnapshotStatus string

const (
	StatusOK              SnapshotStatus = "ok"
	StatusStructuralError SnapshotStatus = "structural_error"
	StatusStale           SnapshotStatus = "stale"
	StatusTimeout         SnapshotStatus = "timeout"
	StatusUnavailable     SnapshotStatus = "unavailable"
)

// Snapshot is the display state of one sport's bracket at one point in time.
// Published snapshots are shared between viewers and must not be modified.
type Snapshot struct {
	SportID     int                 `json:"sport_id"`
	Status      SnapshotStatus      `json:"status"`
	Message     string              `json:"message,omitempty"`
	Rounds      []brackets.Round    `json:"rounds"`
	ThirdPlace  *brackets.MatchView `json:"third_place,omitempty"`
	Issues      []brackets.Issue    `json:"issues,omitempty"`
	Standings   *brackets.Standings `json:"standings,omitempty"`
	Stale       bool                `json:"stale"`
	Sequence    uint64              `json:"sequence,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Final returns the final's view, or nil when there are no rounds.
func (s *Snapshot) Final() *brackets.MatchView {
	if s == nil || len(s.Rounds) == 0 {
		return nil
	}
	last := s.Rounds[len(s.Rounds)-1]
	if len(last.Matches) == 0 {
		return nil
	}
	return &last.Matches[0]
}

// degradedFrom builds an error-state snapshot that carries the last good
// rounds, marked stale. Without a previous snapshot the rounds are empty.
func degradedFrom(lastGood *Snapshot, sportID int, status SnapshotStatus, message string, at time.Time) *Snapshot {
	snap := &Snapshot{
		SportID:     sportID,
		Status:      status,
		Message:     message,
		Rounds:      []brackets.Round{},
		Stale:       true,
		GeneratedAt: at,
	}
	if lastGood != nil {
		snap.Rounds = lastGood.Rounds
		snap.ThirdPlace = lastGood.ThirdPlace
		snap.Issues = lastGood.Issues
		snap.Standings = lastGood.Standings
	}
	return snap
}
