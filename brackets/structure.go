package brackets

import (
	"sort"

	"github.com/Dosada05/league-portal/models"
)

// structure is the validated shape of one sport's match rows: rounds sorted by
// match order, a lookup by id and the unique downstream match of every
// non-final row.
type structure struct {
	sportID    int
	rounds     [][]*models.Match
	byID       map[int]*models.Match
	child      map[int]int
	thirdPlace *models.Match
}

const (
	unvisited = iota
	visiting
	visited
)

func analyze(matches []models.Match) (*structure, error) {
	st := &structure{
		byID:  make(map[int]*models.Match, len(matches)),
		child: make(map[int]int, len(matches)),
	}
	if len(matches) == 0 {
		return st, nil
	}
	st.sportID = matches[0].SportID

	byRound := make(map[int][]*models.Match)
	maxRound := 0
	for i := range matches {
		m := matches[i].Clone()
		if m.SportID != st.sportID {
			return nil, structuralf(st.sportID, m.ID, "row belongs to sport %d", m.SportID)
		}
		if _, dup := st.byID[m.ID]; dup {
			return nil, structuralf(st.sportID, m.ID, "duplicate match id")
		}
		if m.RoundID < 0 || m.MatchOrder < 0 {
			return nil, structuralf(st.sportID, m.ID, "negative round %d or match order %d", m.RoundID, m.MatchOrder)
		}
		if err := checkRow(st.sportID, &m); err != nil {
			return nil, err
		}
		st.byID[m.ID] = &m
		byRound[m.RoundID] = append(byRound[m.RoundID], &m)
		if m.RoundID > maxRound {
			maxRound = m.RoundID
		}
	}

	st.rounds = make([][]*models.Match, maxRound+1)
	for r := 0; r <= maxRound; r++ {
		round, ok := byRound[r]
		if !ok {
			return nil, structuralf(st.sportID, 0, "round %d has no matches", r)
		}
		sort.SliceStable(round, func(i, j int) bool {
			return round[i].MatchOrder < round[j].MatchOrder
		})
		for i := 1; i < len(round); i++ {
			if round[i].MatchOrder == round[i-1].MatchOrder {
				return nil, structuralf(st.sportID, round[i].ID, "round %d already has a match at position %d", r, round[i].MatchOrder)
			}
		}
		st.rounds[r] = round
	}

	if err := st.checkParentsExist(); err != nil {
		return nil, err
	}
	if err := st.checkCycles(); err != nil {
		return nil, err
	}
	if err := st.checkParentRounds(); err != nil {
		return nil, err
	}
	st.detectThirdPlace()
	if err := st.checkShape(); err != nil {
		return nil, err
	}
	if err := st.linkChildren(); err != nil {
		return nil, err
	}
	return st, nil
}

func checkRow(sportID int, m *models.Match) error {
	switch {
	case m.RoundID == 0 && (m.ParentMatch1ID != nil || m.ParentMatch2ID != nil):
		return structuralf(sportID, m.ID, "first-round match has parent links")
	case m.RoundID > 0 && (m.ParentMatch1ID == nil || m.ParentMatch2ID == nil):
		return structuralf(sportID, m.ID, "round %d match is missing a parent link", m.RoundID)
	case m.ParentMatch1ID != nil && m.ParentMatch2ID != nil && *m.ParentMatch1ID == *m.ParentMatch2ID:
		return structuralf(sportID, m.ID, "both slots are fed by match %d", *m.ParentMatch1ID)
	case (m.Team1Score == nil) != (m.Team2Score == nil):
		return structuralf(sportID, m.ID, "only one score is recorded")
	case m.Played() && (*m.Team1Score < 0 || *m.Team2Score < 0):
		return structuralf(sportID, m.ID, "negative score %d:%d", *m.Team1Score, *m.Team2Score)
	}
	return nil
}

func (st *structure) checkParentsExist() error {
	for _, round := range st.rounds {
		for _, m := range round {
			for _, pid := range parentIDs(m) {
				if _, ok := st.byID[pid]; !ok {
					return structuralf(st.sportID, m.ID, "references missing parent match %d", pid)
				}
			}
		}
	}
	return nil
}

// checkCycles walks every parent chain. A chain must end at a first-round row
// within as many steps as there are rounds.
func (st *structure) checkCycles() error {
	state := make(map[int]int, len(st.byID))
	limit := len(st.rounds)

	var walk func(id, depth int) error
	walk = func(id, depth int) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return structuralf(st.sportID, id, "parent chain forms a cycle")
		}
		if depth >= limit {
			return structuralf(st.sportID, id, "parent chain does not reach the first round within %d steps", limit)
		}
		state[id] = visiting
		for _, pid := range parentIDs(st.byID[id]) {
			if err := walk(pid, depth+1); err != nil {
				return err
			}
		}
		state[id] = visited
		return nil
	}

	for _, round := range st.rounds {
		for _, m := range round {
			if err := walk(m.ID, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *structure) checkParentRounds() error {
	for _, round := range st.rounds {
		for _, m := range round {
			for _, pid := range parentIDs(m) {
				parent := st.byID[pid]
				if parent.RoundID != m.RoundID-1 {
					return structuralf(st.sportID, m.ID, "parent match %d is in round %d, expected round %d", pid, parent.RoundID, m.RoundID-1)
				}
			}
		}
	}
	return nil
}

// detectThirdPlace pulls a playoff for third place out of the final round. It
// is recognised as a second final-round row fed by the same semifinal pair as
// the final; the lower match order is the final.
func (st *structure) detectThirdPlace() {
	n := len(st.rounds)
	if n < 2 || len(st.rounds[n-2])/2 != 1 {
		return
	}
	last := st.rounds[n-1]
	if len(last) != 2 || !sameParents(last[0], last[1]) {
		return
	}
	st.thirdPlace = last[1]
	st.rounds[n-1] = last[:1]
}

func (st *structure) checkShape() error {
	for r := 1; r < len(st.rounds); r++ {
		want := len(st.rounds[r-1]) / 2
		if got := len(st.rounds[r]); got != want {
			return structuralf(st.sportID, 0, "round %d has %d matches, expected %d", r, got, want)
		}
	}
	if got := len(st.rounds[len(st.rounds)-1]); got != 1 {
		return structuralf(st.sportID, 0, "final round has %d matches, expected 1", got)
	}
	return nil
}

func (st *structure) linkChildren() error {
	for _, round := range st.rounds[1:] {
		for _, m := range round {
			for _, pid := range parentIDs(m) {
				if prev, taken := st.child[pid]; taken {
					return structuralf(st.sportID, pid, "feeds both match %d and match %d", prev, m.ID)
				}
				st.child[pid] = m.ID
			}
		}
	}
	for _, round := range st.rounds[:len(st.rounds)-1] {
		for _, m := range round {
			if _, ok := st.child[m.ID]; !ok {
				return structuralf(st.sportID, m.ID, "does not feed any later match")
			}
		}
	}
	return nil
}

func (st *structure) final() *models.Match {
	if len(st.rounds) == 0 {
		return nil
	}
	return st.rounds[len(st.rounds)-1][0]
}

// slotFed returns 1 or 2 for the slot of child that parentID feeds.
func slotFed(child *models.Match, parentID int) int {
	if child.ParentMatch1ID != nil && *child.ParentMatch1ID == parentID {
		return 1
	}
	return 2
}

func parentIDs(m *models.Match) []int {
	ids := make([]int, 0, 2)
	if m.ParentMatch1ID != nil {
		ids = append(ids, *m.ParentMatch1ID)
	}
	if m.ParentMatch2ID != nil {
		ids = append(ids, *m.ParentMatch2ID)
	}
	return ids
}

func sameParents(a, b *models.Match) bool {
	pa, pb := parentIDs(a), parentIDs(b)
	if len(pa) != 2 || len(pb) != 2 {
		return false
	}
	return (pa[0] == pb[0] && pa[1] == pb[1]) || (pa[0] == pb[1] && pa[1] == pb[0])
}

// result derives the effective winner and loser of a row. A bye's winner is
// its only team; a tie or an unplayed match has none.
func result(m *models.Match) (winner, loser *int, state MatchState) {
	switch {
	case m.IsBye():
		if m.Team1ID != nil {
			return m.Team1ID, nil, StateBye
		}
		return m.Team2ID, nil, StateBye
	case m.Team1ID == nil || m.Team2ID == nil:
		return nil, nil, StatePending
	case !m.Played():
		return nil, nil, StateScheduled
	case *m.Team1Score > *m.Team2Score:
		return m.Team1ID, m.Team2ID, StateDecided
	case *m.Team2Score > *m.Team1Score:
		return m.Team2ID, m.Team1ID, StateDecided
	default:
		return nil, nil, StateTied
	}
}
