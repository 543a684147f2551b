package brackets

import (
	"fmt"
	"math"
	"time"

	"github.com/Dosada05/league-portal/models"
)

// GenerateParams describes a bracket to lay out. Match ids are assigned
// sequentially starting at FirstMatchID.
type GenerateParams struct {
	SportID      int
	TeamIDs      []int
	FirstMatchID int
	StartTime    *time.Time
}

// node is a slot waiting for the next round: the match that feeds it and,
// when that match is a bye, the team already known to advance.
type node struct {
	matchID   int
	byeTeamID *int
}

// GenerateSingleElimination lays out the rows of a single-elimination bracket
// for the given teams. The bracket is padded to the next power of two; team k
// meets team k+size/2 in the first round, so every first-round match has at
// least one team and missing opponents become byes. A bye's team is written
// straight into its second-round slot.
func GenerateSingleElimination(params GenerateParams) ([]models.Match, error) {
	teams := params.TeamIDs
	n := len(teams)
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrNotEnoughTeams, n)
	}
	seen := make(map[int]bool, n)
	for _, id := range teams {
		if seen[id] {
			return nil, fmt.Errorf("team %d is listed more than once", id)
		}
		seen[id] = true
	}

	numRounds := int(math.Ceil(math.Log2(float64(n))))
	sizeOfFullBracket := 1 << uint(numRounds)
	half := sizeOfFullBracket / 2

	nextID := params.FirstMatchID
	if nextID <= 0 {
		nextID = 1
	}
	allGeneratedMatches := make([]models.Match, 0, sizeOfFullBracket-1)

	currentRoundNodes := make([]node, 0, half)
	for k := 0; k < half; k++ {
		m := models.Match{
			ID:         nextID,
			SportID:    params.SportID,
			RoundID:    0,
			MatchOrder: k,
			Team1ID:    models.IntPtr(teams[k]),
			StartTime:  copyTime(params.StartTime),
		}
		if k+half < n {
			m.Team2ID = models.IntPtr(teams[k+half])
		}
		nextID++
		allGeneratedMatches = append(allGeneratedMatches, m)

		nd := node{matchID: m.ID}
		if m.IsBye() {
			nd.byeTeamID = models.IntPtr(*m.Team1ID)
		}
		currentRoundNodes = append(currentRoundNodes, nd)
	}

	for r := 1; r < numRounds; r++ {
		nextRoundNodes := make([]node, 0, len(currentRoundNodes)/2)
		for i := 0; i < len(currentRoundNodes); i += 2 {
			node1, node2 := currentRoundNodes[i], currentRoundNodes[i+1]
			m := models.Match{
				ID:             nextID,
				SportID:        params.SportID,
				RoundID:        r,
				MatchOrder:     i / 2,
				Team1ID:        node1.byeTeamID,
				Team2ID:        node2.byeTeamID,
				ParentMatch1ID: models.IntPtr(node1.matchID),
				ParentMatch2ID: models.IntPtr(node2.matchID),
				StartTime:      copyTime(params.StartTime),
			}
			nextID++
			allGeneratedMatches = append(allGeneratedMatches, m)
			nextRoundNodes = append(nextRoundNodes, node{matchID: m.ID})
		}
		currentRoundNodes = nextRoundNodes
	}

	if len(currentRoundNodes) != 1 {
		return nil, fmt.Errorf("internal error: expected a single final, got %d matches in the last round", len(currentRoundNodes))
	}
	return allGeneratedMatches, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
