package brackets

import (
	"fmt"

	"github.com/Dosada05/league-portal/models"
)

type StandingsStatus string

const (
	StandingsComplete   StandingsStatus = "complete"
	StandingsIncomplete StandingsStatus = "incomplete"
)

const (
	ReasonNoRounds      = "no_rounds"
	ReasonFinalPending  = "final_pending"
	ReasonFinalUnplayed = "final_unplayed"
	ReasonFinalTied     = "final_tied"
	// A slot of the final or a semifinal disagrees with the match feeding it.
	ReasonSlotsInconsistent = "slots_inconsistent"
)

type Standings struct {
	Status   StandingsStatus   `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Places   []models.Standing `json:"places"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Complete reports whether a champion is known.
func (s Standings) Complete() bool {
	return s.Status == StandingsComplete
}

// ComputeStandings derives placements from a built bracket. The final's
// winner is first and its loser second; both losers of the semifinal round
// share third place in bracket order. Earlier rounds get no placement.
//
// An undecided final yields StandingsIncomplete and no places at all, and so
// does a decided final while any slot of the final or the semifinal round is
// flagged inconsistent: places would be guessed from teams that may not
// belong there.
func ComputeStandings(b *Bracket) Standings {
	res := Standings{Places: []models.Standing{}}
	if b != nil && b.ThirdPlace != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("third-place playoff match %d ignored", b.ThirdPlace.MatchID))
	}

	final := b.Final()
	if final == nil {
		res.Status = StandingsIncomplete
		res.Reason = ReasonNoRounds
		return res
	}

	switch final.State {
	case StatePending:
		res.Status, res.Reason = StandingsIncomplete, ReasonFinalPending
		return res
	case StateScheduled:
		res.Status, res.Reason = StandingsIncomplete, ReasonFinalUnplayed
		return res
	case StateTied:
		res.Status, res.Reason = StandingsIncomplete, ReasonFinalTied
		return res
	}

	if flagged := flaggedPlacingMatches(b); len(flagged) > 0 {
		res.Status, res.Reason = StandingsIncomplete, ReasonSlotsInconsistent
		for _, id := range flagged {
			res.Warnings = append(res.Warnings, fmt.Sprintf("match %d has an inconsistent slot, places withheld", id))
		}
		return res
	}

	res.Status = StandingsComplete
	res.Places = append(res.Places, placement(*final, final.WinnerTeamID, 1))
	if final.LoserTeamID != nil {
		res.Places = append(res.Places, placement(*final, final.LoserTeamID, 2))
	}

	if len(b.Rounds) < 2 {
		return res
	}
	for _, semi := range b.Rounds[len(b.Rounds)-2].Matches {
		if semi.LoserTeamID != nil {
			res.Places = append(res.Places, placement(semi, semi.LoserTeamID, 3))
		}
	}
	return res
}

// flaggedPlacingMatches lists the final and semifinal matches with a slot
// marked inconsistent, in bracket order.
func flaggedPlacingMatches(b *Bracket) []int {
	from := len(b.Rounds) - 2
	if from < 0 {
		from = 0
	}
	var ids []int
	for _, r := range b.Rounds[from:] {
		for _, m := range r.Matches {
			if m.Team1.Inconsistent || m.Team2.Inconsistent {
				ids = append(ids, m.MatchID)
			}
		}
	}
	return ids
}

func placement(v MatchView, teamID *int, place int) models.Standing {
	slot := v.slotFor(teamID)
	return models.Standing{
		ClubID:   slot.ClubID,
		TeamID:   *teamID,
		TeamName: slot.Name,
		Place:    place,
	}
}
