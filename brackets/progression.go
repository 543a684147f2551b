package brackets

import (
	"fmt"
	"sort"

	"github.com/Dosada05/league-portal/models"
)

type Outcome string

const (
	OutcomeDecided       Outcome = "decided"
	OutcomeChampion      Outcome = "champion_decided"
	OutcomeTieUnresolved Outcome = "tie_unresolved"
	OutcomeReconciled    Outcome = "reconciled"
	OutcomeUnchanged     Outcome = "unchanged"
)

type WriteKind string

const (
	WriteScore      WriteKind = "score"
	WriteTeams      WriteKind = "teams"
	WriteClearScore WriteKind = "clear_score"
)

// Write is one row mutation. Version is the row version the write expects to
// replace; a second write to the same row expects the version produced by the
// first one.
type Write struct {
	Kind    WriteKind
	MatchID int
	Version int64
	Score1  int
	Score2  int
	Team1ID *int
	Team2ID *int
}

// Plan is the ordered list of writes for one score submission or repair.
// Writes are in parent to child order and must be applied atomically.
type Plan struct {
	SportID      int
	MatchID      int
	Outcome      Outcome
	WinnerTeamID *int
	Writes       []Write

	st     *structure
	staged map[int]models.Match
}

// Affected returns every match id touched by the plan, in write order.
func (p *Plan) Affected() []int {
	seen := make(map[int]bool, len(p.Writes))
	ids := make([]int, 0, len(p.Writes))
	for _, w := range p.Writes {
		if !seen[w.MatchID] {
			seen[w.MatchID] = true
			ids = append(ids, w.MatchID)
		}
	}
	return ids
}

// Result returns the plan's rows after all writes, sorted by round and order.
func (p *Plan) Result() []models.Match {
	out := make([]models.Match, 0, len(p.st.byID))
	for _, m := range p.st.byID {
		out = append(out, p.current(m.ID).Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundID != out[j].RoundID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].MatchOrder < out[j].MatchOrder
	})
	return out
}

// DownstreamChain returns matchID followed by every match its winner can
// reach, in round order. These are the rows a score update may write.
func DownstreamChain(matches []models.Match, matchID int) ([]int, error) {
	st, err := analyze(matches)
	if err != nil {
		return nil, err
	}
	if _, ok := st.byID[matchID]; !ok {
		return nil, fmt.Errorf("%w: match %d", ErrUnknownMatch, matchID)
	}
	chain := []int{matchID}
	for id := matchID; ; {
		next, ok := st.child[id]
		if !ok {
			break
		}
		chain = append(chain, next)
		id = next
	}
	return chain, nil
}

// PlanScore records score1:score2 on matchID and carries the consequences
// forward. The winner is written into the downstream slot fed by the match. A
// tie (equal scores, 0:0 included) blocks propagation and retracts any winner
// advanced earlier. Every downstream match that loses a team it was played
// with has its score cleared, recursively.
func PlanScore(matches []models.Match, matchID, score1, score2 int) (*Plan, error) {
	if score1 < 0 || score2 < 0 {
		return nil, fmt.Errorf("%w: got %d:%d", ErrNegativeScore, score1, score2)
	}
	st, err := analyze(matches)
	if err != nil {
		return nil, err
	}
	src, ok := st.byID[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: match %d", ErrUnknownMatch, matchID)
	}
	if src.Team1ID == nil || src.Team2ID == nil {
		return nil, fmt.Errorf("%w: match %d", ErrMatchNotReady, matchID)
	}

	p := newPlan(st)
	p.MatchID = matchID

	next := src.Clone()
	next.Team1Score = models.IntPtr(score1)
	next.Team2Score = models.IntPtr(score2)
	p.stage(Write{Kind: WriteScore, MatchID: src.ID, Score1: score1, Score2: score2}, next)

	winner, _, state := result(&next)
	p.WinnerTeamID = winner
	p.propagate(src.ID, winner)

	_, feedsNext := st.child[src.ID]
	switch {
	case state == StateTied:
		p.Outcome = OutcomeTieUnresolved
	case !feedsNext && st.final() != nil && st.final().ID == src.ID:
		p.Outcome = OutcomeChampion
	default:
		p.Outcome = OutcomeDecided
	}
	return p, nil
}

// PlanReconcile makes every downstream slot equal its feeding match's
// effective winner, byes included, clearing scores that no longer belong to
// the teams in their slots.
func PlanReconcile(matches []models.Match) (*Plan, error) {
	st, err := analyze(matches)
	if err != nil {
		return nil, err
	}
	p := newPlan(st)
	for _, round := range st.rounds {
		for _, m := range round {
			cur := p.current(m.ID)
			winner, _, _ := result(&cur)
			p.propagate(m.ID, winner)
		}
	}
	p.Outcome = OutcomeReconciled
	if len(p.Writes) == 0 {
		p.Outcome = OutcomeUnchanged
	}
	return p, nil
}

func newPlan(st *structure) *Plan {
	return &Plan{
		SportID: st.sportID,
		st:      st,
		staged:  make(map[int]models.Match),
	}
}

func (p *Plan) current(id int) models.Match {
	if m, ok := p.staged[id]; ok {
		return m
	}
	return *p.st.byID[id]
}

// stage records w against the row's current version and keeps next as the
// row's new state.
func (p *Plan) stage(w Write, next models.Match) {
	cur := p.current(w.MatchID)
	w.Version = cur.Version
	next.Version = cur.Version + 1
	p.Writes = append(p.Writes, w)
	p.staged[w.MatchID] = next
}

// propagate writes winner (nil retracts) into the slot fromID feeds. Recursion
// follows the single downstream link, so depth is bounded by the round count.
func (p *Plan) propagate(fromID int, winner *int) {
	childID, ok := p.st.child[fromID]
	if !ok {
		return
	}
	child := p.current(childID)
	slot := slotFed(&child, fromID)
	occupant := child.Team1ID
	if slot == 2 {
		occupant = child.Team2ID
	}
	if models.SameID(occupant, winner) {
		return
	}

	next := child.Clone()
	if slot == 1 {
		next.Team1ID = cloneID(winner)
	} else {
		next.Team2ID = cloneID(winner)
	}
	p.stage(Write{Kind: WriteTeams, MatchID: childID, Team1ID: next.Team1ID, Team2ID: next.Team2ID}, next)

	if child.Played() {
		cleared := p.current(childID).Clone()
		cleared.Team1Score = nil
		cleared.Team2Score = nil
		p.stage(Write{Kind: WriteClearScore, MatchID: childID}, cleared)
	}

	// The child has a new occupant and therefore no effective winner yet.
	p.propagate(childID, nil)
}

func cloneID(id *int) *int {
	if id == nil {
		return nil
	}
	return models.IntPtr(*id)
}
