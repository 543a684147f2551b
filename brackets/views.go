package brackets

import (
	"fmt"
	"time"

	"github.com/Dosada05/league-portal/models"
)

type MatchState string

const (
	StatePending   MatchState = "pending"
	StateScheduled MatchState = "scheduled"
	StateDecided   MatchState = "decided"
	StateTied      MatchState = "tied"
	StateBye       MatchState = "bye"
)

const tbdLabel = "TBD"

type IssueCode string

// Slot issues compare a slot with the match feeding it:
//   - missing_winner: feeding match decided, slot empty
//   - stale_slot: slot holds a team other than the feeding winner
//   - unexpected_team: slot filled before the feeding match is decided
const (
	IssueMissingWinner     IssueCode = "missing_winner"
	IssueStaleSlot         IssueCode = "stale_slot"
	IssueUnexpectedTeam    IssueCode = "unexpected_team"
	IssueScoreWithoutTeams IssueCode = "score_without_teams"
	IssueThirdPlaceIgnored IssueCode = "third_place_ignored"
)

// Issue is a non-fatal inconsistency. The bracket is still shown, with the
// affected slot flagged.
type Issue struct {
	MatchID int       `json:"match_id"`
	Slot    int       `json:"slot,omitempty"`
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

// Slot is one side of a match as displayed.
type Slot struct {
	TeamID       *int    `json:"team_id,omitempty"`
	Name         string  `json:"name"`
	ClubID       *int    `json:"club_id,omitempty"`
	Seed         *int    `json:"seed,omitempty"`
	LogoURL      *string `json:"logo_url,omitempty"`
	Score        *int    `json:"score,omitempty"`
	TBD          bool    `json:"tbd"`
	Inconsistent bool    `json:"inconsistent,omitempty"`
}

type MatchView struct {
	MatchID      int        `json:"match_id"`
	Round        int        `json:"round"`
	Order        int        `json:"order"`
	Team1        Slot       `json:"team1"`
	Team2        Slot       `json:"team2"`
	State        MatchState `json:"state"`
	WinnerTeamID *int       `json:"winner_team_id,omitempty"`
	LoserTeamID  *int       `json:"loser_team_id,omitempty"`
	Parent1ID    *int       `json:"parent_match1_id,omitempty"`
	Parent2ID    *int       `json:"parent_match2_id,omitempty"`
	NextMatchID  *int       `json:"next_match_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	Version      int64      `json:"version"`
}

// Decided reports whether the match has an effective winner, byes included.
func (v MatchView) Decided() bool {
	return v.WinnerTeamID != nil
}

func (v MatchView) slotFor(teamID *int) Slot {
	if models.SameID(v.Team1.TeamID, teamID) {
		return v.Team1
	}
	return v.Team2
}

type Round struct {
	Index   int         `json:"index"`
	Name    string      `json:"name"`
	Matches []MatchView `json:"matches"`
}

// Bracket is the derived, display-ready tree of one sport.
type Bracket struct {
	SportID    int        `json:"sport_id"`
	Rounds     []Round    `json:"rounds"`
	ThirdPlace *MatchView `json:"third_place,omitempty"`
	Issues     []Issue    `json:"issues,omitempty"`
}

// Final returns the single match of the last round, or nil for an empty bracket.
func (b *Bracket) Final() *MatchView {
	if b == nil || len(b.Rounds) == 0 {
		return nil
	}
	return &b.Rounds[len(b.Rounds)-1].Matches[0]
}

// Match looks up a view by match id, the third-place playoff included.
func (b *Bracket) Match(id int) (*MatchView, bool) {
	for r := range b.Rounds {
		for i := range b.Rounds[r].Matches {
			if b.Rounds[r].Matches[i].MatchID == id {
				return &b.Rounds[r].Matches[i], true
			}
		}
	}
	if b.ThirdPlace != nil && b.ThirdPlace.MatchID == id {
		return b.ThirdPlace, true
	}
	return nil, false
}

// TeamIndex resolves team ids to display data.
type TeamIndex map[int]models.Team

func NewTeamIndex(teams []models.Team) TeamIndex {
	idx := make(TeamIndex, len(teams))
	for _, t := range teams {
		idx[t.ID] = t
	}
	return idx
}

func roundName(index, total int) string {
	switch total - 1 - index {
	case 0:
		return "Final"
	case 1:
		return "Semifinal"
	case 2:
		return "Quarterfinal"
	default:
		return fmt.Sprintf("Round of %d", 2<<(total-1-index))
	}
}
