package models

import "time"

type ChangeKind string

const (
	ChangeScoreUpdated ChangeKind = "score_updated"
	ChangeTeamsUpdated ChangeKind = "teams_updated"
	ChangeScoreCleared ChangeKind = "score_cleared"
	// ChangeResync is emitted when a transport may have lost notifications and
	// subscribers should re-read everything.
	ChangeResync ChangeKind = "resync"
)

// ChangeEvent is published after a committed mutation of one sport's matches.
type ChangeEvent struct {
	SportID  int        `json:"sport_id"`
	MatchIDs []int      `json:"match_ids,omitempty"`
	Kind     ChangeKind `json:"kind"`
	At       time.Time  `json:"at"`
}
