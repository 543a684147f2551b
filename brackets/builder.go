package brackets

import (
	"fmt"

	"github.com/Dosada05/league-portal/models"
)

// Build turns the match rows of one sport into rounds of match views. It is a
// pure function of its input: rows may come in any order, and identical input
// yields identical output.
//
// Rows that cannot form a single-elimination tree produce a *StructuralError.
// Slots that disagree with their feeding match are flagged on the view and
// listed in Bracket.Issues instead of being corrected.
func Build(matches []models.Match, teams TeamIndex) (*Bracket, error) {
	st, err := analyze(matches)
	if err != nil {
		return nil, err
	}
	return build(st, teams), nil
}

func build(st *structure, teams TeamIndex) *Bracket {
	b := &Bracket{
		SportID: st.sportID,
		Rounds:  make([]Round, len(st.rounds)),
	}
	for r, round := range st.rounds {
		views := make([]MatchView, 0, len(round))
		for _, m := range round {
			views = append(views, b.view(st, m, teams))
		}
		b.Rounds[r] = Round{
			Index:   r,
			Name:    roundName(r, len(st.rounds)),
			Matches: views,
		}
	}

	if st.thirdPlace != nil {
		v := b.view(st, st.thirdPlace, teams)
		b.ThirdPlace = &v
		b.Issues = append(b.Issues, Issue{
			MatchID: v.MatchID,
			Code:    IssueThirdPlaceIgnored,
			Message: "third-place playoff is not part of the elimination tree and does not affect standings",
		})
	}
	return b
}

func (b *Bracket) view(st *structure, m *models.Match, teams TeamIndex) MatchView {
	winner, loser, state := result(m)
	v := MatchView{
		MatchID:      m.ID,
		Round:        m.RoundID,
		Order:        m.MatchOrder,
		State:        state,
		WinnerTeamID: winner,
		LoserTeamID:  loser,
		Parent1ID:    m.ParentMatch1ID,
		Parent2ID:    m.ParentMatch2ID,
		StartTime:    m.StartTime,
		Version:      m.Version,
	}
	if next, ok := st.child[m.ID]; ok {
		v.NextMatchID = models.IntPtr(next)
	}

	v.Team1 = b.slot(st, m.ID, 1, m.Team1ID, m.ParentMatch1ID, m.Team1Score, teams)
	v.Team2 = b.slot(st, m.ID, 2, m.Team2ID, m.ParentMatch2ID, m.Team2Score, teams)

	if state == StatePending && m.Played() {
		b.Issues = append(b.Issues, Issue{
			MatchID: m.ID,
			Code:    IssueScoreWithoutTeams,
			Message: "score recorded while a slot is empty",
		})
	}
	return v
}

func (b *Bracket) slot(st *structure, matchID, slotNo int, teamID, parentID, score *int, teams TeamIndex) Slot {
	s := Slot{TeamID: teamID, Score: score}
	if teamID == nil {
		s.Name = tbdLabel
		s.TBD = true
	} else {
		team, ok := teams[*teamID]
		if ok {
			s.Name = team.Name
			s.ClubID = models.IntPtr(team.ClubID)
			s.Seed = team.SeedNumber
			s.LogoURL = team.LogoURL
		} else {
			s.Name = fmt.Sprintf("Team %d", *teamID)
		}
	}

	if parentID == nil {
		return s
	}
	parent := st.byID[*parentID]
	winner, _, _ := result(parent)

	var issue *Issue
	switch {
	case winner != nil && teamID == nil:
		issue = &Issue{Code: IssueMissingWinner, Message: fmt.Sprintf("match %d is decided but its winner was not advanced", parent.ID)}
	case winner != nil && !models.SameID(winner, teamID):
		issue = &Issue{Code: IssueStaleSlot, Message: fmt.Sprintf("slot holds team %d but match %d was won by team %d", *teamID, parent.ID, *winner)}
	case winner == nil && teamID != nil:
		issue = &Issue{Code: IssueUnexpectedTeam, Message: fmt.Sprintf("slot holds team %d but match %d is not decided", *teamID, parent.ID)}
	}
	if issue != nil {
		issue.MatchID = matchID
		issue.Slot = slotNo
		b.Issues = append(b.Issues, *issue)
		s.Inconsistent = true
	}
	return s
}
