package brackets

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/league-portal/models"
)

func mustScore(t *testing.T, rows []models.Match, matchID, s1, s2 int) []models.Match {
	t.Helper()
	plan, err := PlanScore(rows, matchID, s1, s2)
	require.NoError(t, err)
	return plan.Result()
}

func rowByID(t *testing.T, rows []models.Match, id int) models.Match {
	t.Helper()
	for _, m := range rows {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("match %d not found", id)
	return models.Match{}
}

type place struct {
	team  int
	place int
}

func places(s Standings) []place {
	out := make([]place, 0, len(s.Places))
	for _, p := range s.Places {
		out = append(out, place{team: p.TeamID, place: p.Place})
	}
	return out
}

func TestPlanScore_FourTeamScenario(t *testing.T) {
	rows := fourTeamBracket()

	rows = mustScore(t, rows, 1, 2, 1)
	final := mustBuild(t, rows).Final()
	assert.Equal(t, ptr(teamA), final.Team1.TeamID)
	assert.True(t, final.Team2.TBD)

	rows = mustScore(t, rows, 2, 0, 3)
	final = mustBuild(t, rows).Final()
	assert.Equal(t, "A", final.Team1.Name)
	assert.Equal(t, "D", final.Team2.Name)

	plan, err := PlanScore(rows, 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTieUnresolved, plan.Outcome)
	assert.Nil(t, plan.WinnerTeamID)
	rows = plan.Result()
	standings := ComputeStandings(mustBuild(t, rows))
	assert.Equal(t, StandingsIncomplete, standings.Status)
	assert.Equal(t, ReasonFinalTied, standings.Reason)
	assert.Empty(t, standings.Places)

	plan, err = PlanScore(rows, 3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeChampion, plan.Outcome)
	assert.Equal(t, ptr(teamD), plan.WinnerTeamID)
	rows = plan.Result()
	standings = ComputeStandings(mustBuild(t, rows))
	assert.Equal(t, StandingsComplete, standings.Status)
	assert.Equal(t, []place{{teamD, 1}, {teamA, 2}, {teamB, 3}, {teamC, 3}}, places(standings))
}

func TestPlanScore_ReversedResultClearsPlayedFinal(t *testing.T) {
	rows := fourTeamBracket()
	rows = mustScore(t, rows, 1, 2, 1)
	rows = mustScore(t, rows, 2, 0, 3)
	rows = mustScore(t, rows, 3, 1, 2)

	// team1 is A, so 1:3 hands the match to B.
	plan, err := PlanScore(rows, 1, 1, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, plan.Affected())
	require.Len(t, plan.Writes, 3)
	assert.Equal(t, WriteScore, plan.Writes[0].Kind)
	assert.Equal(t, WriteTeams, plan.Writes[1].Kind)
	assert.Equal(t, WriteClearScore, plan.Writes[2].Kind)

	rows = plan.Result()
	final := rowByID(t, rows, 3)
	assert.Equal(t, ptr(teamB), final.Team1ID)
	assert.Equal(t, ptr(teamD), final.Team2ID)
	assert.False(t, final.Played())

	b := mustBuild(t, rows)
	assert.Empty(t, b.Issues)
	standings := ComputeStandings(b)
	assert.Equal(t, StandingsIncomplete, standings.Status)
	assert.Equal(t, ReasonFinalUnplayed, standings.Reason)
}

func TestPlanScore_ReversalClearsExactlyTheDownstreamChain(t *testing.T) {
	rows := eightTeamBracket(t)
	for _, id := range []int{1, 2, 3, 4, 5, 6, 7} {
		rows = mustScore(t, rows, id, 2, 0)
	}
	before := make(map[int]models.Match, len(rows))
	for _, m := range rows {
		before[m.ID] = m
	}

	plan, err := PlanScore(rows, 1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5, 7}, plan.Affected())

	after := plan.Result()
	for _, m := range after {
		switch m.ID {
		case 1:
			assert.Equal(t, ptr(0), m.Team1Score)
		case 5, 7:
			assert.False(t, m.Played(), "match %d should be cleared", m.ID)
		default:
			assert.Equal(t, before[m.ID], m, "match %d should be untouched", m.ID)
		}
	}
	assert.Equal(t, ptr(1005), rowByID(t, after, 5).Team1ID)
	assert.Nil(t, rowByID(t, after, 7).Team1ID)
	assert.Empty(t, mustBuild(t, after).Issues)
}

func TestPlanScore_TieRetractsAdvancedWinner(t *testing.T) {
	rows := fourTeamBracket()
	rows = mustScore(t, rows, 1, 2, 1)
	require.Equal(t, ptr(teamA), rowByID(t, rows, 3).Team1ID)

	plan, err := PlanScore(rows, 1, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTieUnresolved, plan.Outcome)
	assert.Equal(t, []int{1, 3}, plan.Affected())
	rows = plan.Result()
	assert.Nil(t, rowByID(t, rows, 3).Team1ID)
	assert.Equal(t, StateTied, mustBuild(t, rows).Rounds[0].Matches[0].State)
}

func TestPlanScore_SameWinnerDoesNotTouchDownstream(t *testing.T) {
	rows := fourTeamBracket()
	rows = mustScore(t, rows, 1, 2, 1)

	plan, err := PlanScore(rows, 1, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, plan.Affected())
	assert.Equal(t, OutcomeDecided, plan.Outcome)
}

func TestPlanScore_VersionsAdvancePerWrite(t *testing.T) {
	rows := fourTeamBracket()
	rows = mustScore(t, rows, 1, 2, 1)
	rows = mustScore(t, rows, 2, 0, 3)
	rows = mustScore(t, rows, 3, 1, 2)
	finalVersion := rowByID(t, rows, 3).Version

	plan, err := PlanScore(rows, 1, 1, 3)
	require.NoError(t, err)

	assert.Equal(t, finalVersion, plan.Writes[1].Version)
	assert.Equal(t, finalVersion+1, plan.Writes[2].Version)
	assert.Equal(t, finalVersion+2, rowByID(t, plan.Result(), 3).Version)
}

func TestPlanScore_Rejections(t *testing.T) {
	rows := fourTeamBracket()

	_, err := PlanScore(rows, 1, -1, 2)
	assert.ErrorIs(t, err, ErrNegativeScore)

	_, err = PlanScore(rows, 42, 1, 0)
	assert.ErrorIs(t, err, ErrUnknownMatch)

	_, err = PlanScore(rows, 3, 1, 0)
	assert.ErrorIs(t, err, ErrMatchNotReady)

	broken := withRow(rows, 3, func(m *models.Match) { m.ParentMatch1ID = ptr(99) })
	_, err = PlanScore(broken, 1, 1, 0)
	assert.ErrorIs(t, err, ErrStructural)
}

func TestDownstreamChain(t *testing.T) {
	rows := eightTeamBracket(t)

	chain, err := DownstreamChain(rows, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 6, 7}, chain)

	chain, err = DownstreamChain(rows, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, chain)

	_, err = DownstreamChain(rows, 100)
	assert.ErrorIs(t, err, ErrUnknownMatch)
}

func TestPlanReconcile_RepairsSlots(t *testing.T) {
	rows := fourTeamBracket()
	rows = withRow(rows, 1, func(m *models.Match) { m.Team1Score, m.Team2Score = ptr(2), ptr(1) })
	rows = withRow(rows, 2, func(m *models.Match) { m.Team1Score, m.Team2Score = ptr(0), ptr(3) })
	rows = withRow(rows, 3, func(m *models.Match) {
		m.Team1ID, m.Team2ID = ptr(teamB), ptr(teamD)
		m.Team1Score, m.Team2Score = ptr(4), ptr(0)
	})
	require.NotEmpty(t, mustBuild(t, rows).Issues)

	plan, err := PlanReconcile(rows)
	require.NoError(t, err)

	assert.Equal(t, OutcomeReconciled, plan.Outcome)
	assert.Equal(t, []int{3}, plan.Affected())
	repaired := plan.Result()
	final := rowByID(t, repaired, 3)
	assert.Equal(t, ptr(teamA), final.Team1ID)
	assert.False(t, final.Played())
	assert.Empty(t, mustBuild(t, repaired).Issues)

	again, err := PlanReconcile(repaired)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, again.Outcome)
	assert.Empty(t, again.Writes)
}

func TestPlanReconcile_AdvancesByes(t *testing.T) {
	rows, err := GenerateSingleElimination(GenerateParams{SportID: testSport, TeamIDs: []int{teamA, teamB, teamC}, FirstMatchID: 1})
	require.NoError(t, err)
	rows = withRow(rows, 3, func(m *models.Match) { m.Team2ID = nil })

	plan, err := PlanReconcile(rows)
	require.NoError(t, err)
	assert.Equal(t, ptr(teamB), rowByID(t, plan.Result(), 3).Team2ID)
}

// Any sequence of submissions, edits and ties included, leaves every slot
// equal to its feeding match's winner.
func TestPlanScore_SlotsAlwaysMatchParentWinners(t *testing.T) {
	for _, teams := range [][]int{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{1, 2, 3, 4, 5, 6},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	} {
		rows, err := GenerateSingleElimination(GenerateParams{SportID: testSport, TeamIDs: teams, FirstMatchID: 1})
		require.NoError(t, err)
		rnd := rand.New(rand.NewSource(int64(len(teams))))

		for step := 0; step < 300; step++ {
			var ready []int
			for _, m := range rows {
				if m.Team1ID != nil && m.Team2ID != nil {
					ready = append(ready, m.ID)
				}
			}
			require.NotEmpty(t, ready)
			id := ready[rnd.Intn(len(ready))]

			rows = mustScore(t, rows, id, rnd.Intn(4), rnd.Intn(4))

			b, err := Build(rows, nil)
			require.NoError(t, err)
			require.Empty(t, b.Issues, "step %d on match %d", step, id)
		}
	}
}
